package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/display"
	"github.com/teranos/tally/errors"
)

// outputFormat resolves --json and --format; --json wins
func outputFormat(cmd *cobra.Command) (display.Format, error) {
	if display.ShouldOutputJSON(cmd) {
		return display.FormatJSON, nil
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil || format == "" {
		return display.FormatTable, nil
	}
	return display.ParseFormat(format)
}

// report writes v in the command's output format
func report(cmd *cobra.Command, v interface{}, table func() (string, error)) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	return display.Write(cmd.OutOrStdout(), format, v, table)
}

// reportInsufficient turns an insufficient-data outcome into an
// informational message. It returns err unchanged for any other error.
func reportInsufficient(cmd *cobra.Command, err error) error {
	if !errors.IsInsufficientData(err) {
		return err
	}
	format, formatErr := outputFormat(cmd)
	if formatErr != nil {
		return formatErr
	}
	if format != display.FormatTable {
		return display.Write(cmd.OutOrStdout(), format, map[string]string{"message": err.Error()}, nil)
	}
	pterm.Info.Println(err.Error())
	for _, hint := range errors.GetAllHints(err) {
		pterm.Info.Println(hint)
	}
	return nil
}

// spinner starts a spinner unless output is machine-readable
func spinner(cmd *cobra.Command, text string) func() {
	if display.ShouldOutputJSON(cmd) {
		return func() {}
	}
	s, err := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start(text)
	if err != nil {
		return func() {}
	}
	return func() { _ = s.Stop() }
}
