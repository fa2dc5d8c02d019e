// Package display formats user-facing warnings for the command line.
//
// A Warning is rendered as a titled block with optional detail lines:
//
//	w := display.WarnUnreadableTasks([]string{"TASK3", "TASK7"})
//	w.Display(os.Stdout)
//
// Colors come from fatih/color, so they are disabled automatically when the
// output is not a terminal or NO_COLOR is set.
package display
