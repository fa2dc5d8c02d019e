package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// Warning represents a user-facing warning message
type Warning struct {
	Title      string   // Main warning title
	Message    string   // Detailed explanation (optional)
	Items      []string // Affected tasks or paths (optional)
	ItemsTitle string   // Heading of Items; defaults to "Affected"
	Suggestion string   // Action to take (optional)
}

// Display shows a formatted warning in yellow
func (w Warning) Display(out io.Writer) {
	var b strings.Builder

	b.WriteString("⚠️  Warning: ")
	b.WriteString(w.Title)
	b.WriteString("\n")

	if w.Message != "" {
		b.WriteString("    ")
		b.WriteString(w.Message)
		b.WriteString("\n")
	}

	if len(w.Items) > 0 {
		heading := w.ItemsTitle
		if heading == "" {
			heading = "Affected"
		}
		fmt.Fprintf(&b, "    %s:\n", heading)
		for i, item := range w.Items {
			fmt.Fprintf(&b, "      %d. %s\n", i+1, item)
		}
	}

	if w.Suggestion != "" {
		b.WriteString("    Suggestion:\n")
		b.WriteString("    ")
		b.WriteString(w.Suggestion)
		b.WriteString("\n")
	}

	color.New(color.FgYellow).Fprint(out, b.String())
}

// WarnUnreadableTasks reports tasks whose status document failed to parse
func WarnUnreadableTasks(taskIDs []string) Warning {
	return Warning{
		Title:      "Unreadable status documents",
		Message:    fmt.Sprintf("Clients see %q for these tasks until the file is rewritten.", models.ParseFailed),
		Items:      taskIDs,
		ItemsTitle: "Affected tasks",
		Suggestion: "Check " + models.StatusFile + " for truncated or hand-edited JSON",
	}
}

// WarnUnknownDependencies reports blueprint dependencies naming tasks that
// have no directory under the state root. Each item reads "TASK2 -> TASK9".
func WarnUnknownDependencies(edges []string) Warning {
	return Warning{
		Title:      "Dependencies on unknown tasks",
		Items:      edges,
		ItemsTitle: "Task -> missing dependency",
	}
}
