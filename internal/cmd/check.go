package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/makerGeek/claudiomiro/internal/display"
	"github.com/makerGeek/claudiomiro/internal/models"
	"github.com/makerGeek/claudiomiro/internal/projectpath"
	"github.com/makerGeek/claudiomiro/internal/taskstate"
)

// NewCheckCommand creates the check command
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <project-path>",
		Short: "Validate a project and summarize its tasks",
		Long: `Validate a project path the same way the server does and print a
summary of every task found under its .claudiomiro state root.

Examples:
  claudiomiro-ui check ~/work/app
  claudiomiro-ui check --json ~/work/app     # Print the project:state snapshot`,
		Args: cobra.ExactArgs(1),
		RunE: checkCommand,
	}

	cmd.Flags().Bool("json", false, "Print the snapshot a subscribing client would receive")

	return cmd
}

// checkCommand implements the check command logic
func checkCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	return runCheck(cmd.OutOrStdout(), projectpath.NewValidator(cfg.AllowedPaths), args[0], asJSON)
}

func runCheck(output io.Writer, validator *projectpath.Validator, candidate string, asJSON bool) error {
	project, err := validator.Validate(candidate)
	if err != nil {
		if !asJSON {
			fmt.Fprintf(output, "✗ %v\n", err)
		}
		return err
	}

	if asJSON {
		enc := json.NewEncoder(output)
		enc.SetIndent("", "  ")
		return enc.Encode(taskstate.ReadSnapshot(project))
	}

	fmt.Fprintf(output, "✓ Project %s\n", project)

	tasks, err := taskstate.ListTasks(project)
	if err != nil {
		fmt.Fprintf(output, "✗ %v\n", err)
		return err
	}
	fmt.Fprintf(output, "✓ Found %d task(s)\n\n", len(tasks))

	counts := map[string]int{}
	for _, t := range tasks {
		state := t.Status
		if t.Error != "" {
			state = t.Error
		}
		counts[state]++

		var notes []string
		if len(t.Dependencies) > 0 {
			notes = append(notes, "after "+strings.Join(t.Dependencies, ","))
		}
		if t.HasReview {
			if t.Approved {
				notes = append(notes, "approved")
			} else {
				notes = append(notes, "in review")
			}
		}

		line := fmt.Sprintf("  %-10s %s", t.ID, statusColor(state).Sprintf("%-12s", state))
		if t.Title != "" {
			line += " " + t.Title
		}
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, "; ") + ")"
		}
		fmt.Fprintln(output, line)
	}

	if len(tasks) > 0 {
		fmt.Fprintf(output, "\n%d completed, %d failed, %d unreadable\n",
			counts[models.StatusCompleted], counts[models.StatusFailed], counts[models.ParseFailed])
	}

	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	var unreadable, unknown []string
	for _, t := range tasks {
		if t.Error != "" {
			unreadable = append(unreadable, t.ID)
		}
		for _, dep := range t.Dependencies {
			if !known[dep] {
				unknown = append(unknown, t.ID+" -> "+dep)
			}
		}
	}
	if len(unreadable) > 0 {
		fmt.Fprintln(output)
		display.WarnUnreadableTasks(unreadable).Display(output)
	}
	if len(unknown) > 0 {
		fmt.Fprintln(output)
		display.WarnUnknownDependencies(unknown).Display(output)
	}

	if _, err := os.Stat(filepath.Join(projectpath.StateRoot(project), models.DoneFile)); err == nil {
		fmt.Fprintf(output, "✓ Project completed\n")
	}
	return nil
}

func statusColor(status string) *color.Color {
	switch status {
	case models.StatusCompleted:
		return color.New(color.FgGreen)
	case models.StatusFailed, models.ParseFailed:
		return color.New(color.FgRed)
	case models.StatusInProgress:
		return color.New(color.FgYellow)
	case models.StatusBlocked:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgWhite)
	}
}
