package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/eresion/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Path   string            `json:"path"`
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one configuration problem.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration without running the engine",
		Long: `Validate a configuration file or CUE package directory.

The configuration is unified with the built-in schema, so unknown fields,
out-of-range values and malformed durations are reported with their
position. Values that only conflict with each other, such as a window
hop longer than its size, are checked as well.

The path defaults to --config.

Examples:
  eresion validate eresion.cue
  eresion validate ./config --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if path == "" {
		_ = formatter.Error(config.ErrCodeNotFound, "no configuration given", nil)
		return NewExitError(ExitCommandError, "no configuration given: pass a path or --config")
	}

	result := ValidationResult{Path: path, Valid: true}
	cfg, err := config.Load(path)
	if err == nil {
		formatter.VerboseLog("Loaded %s, checking engine settings", path)
		_, err = cfg.EngineConfig()
	}
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, issueFromError(err))
	}

	if !result.Valid {
		issue := result.Errors[0]
		if issue.Code == config.ErrCodeNotFound {
			_ = formatter.Error(issue.Code, issue.Message, nil)
			return NewExitError(ExitCommandError, issue.Message)
		}
		if formatter.JSON() {
			_ = formatter.Error(issue.Code, "configuration invalid", result)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n", path)
			for _, is := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", formatIssue(is))
			}
		}
		return NewExitError(ExitFailure, "configuration invalid")
	}

	return formatter.Success(result, "✓ Configuration valid")
}

func issueFromError(err error) ValidationIssue {
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	issue := ValidationIssue{Code: cerr.Code, Message: cerr.Message}
	if cerr.Pos.IsValid() {
		issue.File = cerr.Pos.Filename()
		issue.Line = cerr.Pos.Line()
		issue.Column = cerr.Pos.Column()
	}
	return issue
}

func formatIssue(is ValidationIssue) string {
	if is.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: [%s] %s", is.File, is.Line, is.Column, is.Code, is.Message)
	}
	return fmt.Sprintf("[%s] %s", is.Code, is.Message)
}
