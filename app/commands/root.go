// Package commands implements the segments command line
package commands

import (
	"errors"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/spf13/cobra"
)

// Exit codes returned by the segments binary
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// usageError marks bad arguments; nothing was run
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(err error) error {
	return &usageError{err: err}
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *usageError
	if errors.As(err, &ue) || businessflow.IsValidationError(err) {
		return ExitUsage
	}
	return ExitFailure
}

// NewRootCmd returns the segments command tree. Every subcommand builds its App through factory.
func NewRootCmd(factory AppFactory) *cobra.Command {
	if factory == nil {
		factory = DefaultAppFactory
	}

	rootCmd := &cobra.Command{
		Use:   "segments",
		Short: "Company segment membership engine",
		Long: `segments keeps company segment membership in sync with each segment's filters.

Filters may reference other segments; referenced segments are resolved first and
circular references are reported instead of rebuilt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return newUsageError(err)
	})

	rootCmd.AddCommand(RebuildCmd(factory))
	rootCmd.AddCommand(ScheduleCmd(factory))
	rootCmd.AddCommand(ExportCmd(factory))
	rootCmd.AddCommand(MigrateCmd(factory))
	rootCmd.AddCommand(MembersCmd(factory))
	rootCmd.AddCommand(SegmentCmd(factory))

	return rootCmd
}
