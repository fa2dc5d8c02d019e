// Package projectpath authorizes caller-supplied project paths.
//
// Both the REST layer and the WebSocket gateway run every project path through
// a Validator before touching disk. The checks run in a fixed order and stop at
// the first failure; callers branch on the returned Reason.
package projectpath

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// Reason identifies why a path was rejected
type Reason string

const (
	ReasonEmpty            Reason = "project path is required"
	ReasonTraversal        Reason = "path traversal"
	ReasonNotAllowed       Reason = "not in allowed paths"
	ReasonNotExist         Reason = "does not exist"
	ReasonNotDirectory     Reason = "not a directory"
	ReasonMissingStateRoot Reason = "missing state root"
)

// ValidationError reports a rejected project path
type ValidationError struct {
	Reason Reason
	Path   string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

// Is matches another *ValidationError with the same Reason, so callers can
// write errors.Is(err, &ValidationError{Reason: ReasonTraversal}).
func (e *ValidationError) Is(target error) bool {
	var t *ValidationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a ValidationError
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// Validator checks project paths against an optional allow-list
type Validator struct {
	allowed []string
}

// NewValidator creates a Validator. Allowed roots are canonicalized once;
// an empty list allows any path.
func NewValidator(allowed []string) *Validator {
	roots := make([]string, 0, len(allowed))
	for _, root := range allowed {
		if strings.TrimSpace(root) == "" {
			continue
		}
		roots = append(roots, canonicalize(root))
	}
	return &Validator{allowed: roots}
}

// AllowedRoots returns the canonical allow-list
func (v *Validator) AllowedRoots() []string {
	out := make([]string, len(v.allowed))
	copy(out, v.allowed)
	return out
}

// Validate returns the canonical absolute project path or a *ValidationError
func (v *Validator) Validate(candidate string) (string, error) {
	if strings.TrimSpace(candidate) == "" {
		return "", &ValidationError{Reason: ReasonEmpty}
	}

	decoded, err := url.PathUnescape(candidate)
	if err != nil {
		decoded = candidate
	}
	if hasTraversal(decoded) {
		return "", &ValidationError{Reason: ReasonTraversal, Path: decoded}
	}

	resolved := canonicalize(decoded)

	if len(v.allowed) > 0 && !v.isAllowed(resolved) {
		return "", &ValidationError{Reason: ReasonNotAllowed, Path: resolved}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", &ValidationError{Reason: ReasonNotExist, Path: resolved}
	}
	if !info.IsDir() {
		return "", &ValidationError{Reason: ReasonNotDirectory, Path: resolved}
	}

	stateInfo, err := os.Stat(filepath.Join(resolved, models.StateDirName))
	if err != nil || !stateInfo.IsDir() {
		return "", &ValidationError{Reason: ReasonMissingStateRoot, Path: resolved}
	}

	return resolved, nil
}

// StateRoot returns the state directory of a validated project path
func StateRoot(projectPath string) string {
	return filepath.Join(projectPath, models.StateDirName)
}

func (v *Validator) isAllowed(path string) bool {
	for _, root := range v.allowed {
		if isWithin(root, path) {
			return true
		}
	}
	return false
}

// isWithin compares path components, so /a/bc is not inside /a/b
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func hasTraversal(path string) bool {
	segments := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, seg := range segments {
		if seg == ".." {
			return true
		}
	}
	return false
}

// canonicalize resolves symlinks in the longest existing prefix of path and
// re-attaches the missing remainder, so the existence check can report it.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	existing, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			if rest == "" {
				return resolved
			}
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}
