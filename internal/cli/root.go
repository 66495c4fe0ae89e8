// Package cli implements the threadline command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ExitCodeFailure is the exit code for any failed command.
const ExitCodeFailure = 1

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exitf builds an ExitError from a format string.
func Exitf(code int, format string, args ...any) error {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ExitCode returns the exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCodeFailure
}

// Execute runs the root command.
func Execute(version string) error {
	cmd, env := newRoot(version)
	defer env.close()
	return cmd.Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd, _ := newRoot(version)
	return cmd
}

func newRoot(version string) (*cobra.Command, *environment) {
	env := &environment{}
	cmd := &cobra.Command{
		Use:   "threadline",
		Short: "Conversation inbox kept in sync with its store",
		Long: `threadline lists, searches and follows partner and client conversations
stored in SQLite, keeping every view in sync through the store's change feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&env.flags.configFile, "config", "", "config file (default: ~/.config/threadline/config.yaml)")
	flags.StringVar(&env.flags.dbPath, "db", "", "database path (default: <data_dir>/threadline.db)")
	flags.StringVar(&env.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&env.flags.logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVar(&env.flags.json, "json", false, "output JSON")

	cmd.AddCommand(
		newSeedCmd(env),
		newCreateCmd(env),
		newListCmd(env),
		newSelectCmd(env),
		newBulkCmd(env),
		newThreadCmd(env),
		newSendCmd(env),
		newWatchCmd(env),
		newPruneCmd(env),
	)
	return cmd, env
}
