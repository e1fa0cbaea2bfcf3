// Package cmdutil contains helpers for writing cobra commands.
package cmdutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// RunFixedArgs wraps a run function in a cobra Run, checking its exact
// argument count.
func RunFixedArgs(numArgs int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if len(args) != numArgs {
			fmt.Printf("expected %d arguments, got %d\n\n", numArgs, len(args))
			cmd.Usage() //nolint:errcheck
			return
		}
		if err := run(cmd, args); err != nil {
			ErrorAndExit("%v", err)
		}
	}
}

// RunBoundedArgs wraps a run function in a cobra Run, checking that its
// argument count is within a range.
func RunBoundedArgs(min int, max int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if len(args) < min || len(args) > max {
			fmt.Printf("expected %d to %d arguments, got %d\n\n", min, max, len(args))
			cmd.Usage() //nolint:errcheck
			return
		}
		if err := run(cmd, args); err != nil {
			ErrorAndExit("%v", err)
		}
	}
}

// Run makes a new cobra run function that wraps the given function.
func Run(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if err := run(cmd, args); err != nil {
			ErrorAndExit("%v", err)
		}
	}
}

// ErrorAndExit errors with the given format and args, and then exits
// non-zero.
func ErrorAndExit(format string, args ...interface{}) {
	if errString := strings.TrimSpace(fmt.Sprintf(format, args...)); errString != "" {
		fmt.Fprintf(os.Stderr, "%s\n", errString)
	}
	os.Exit(1)
}
