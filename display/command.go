// Package display renders command results for the terminal.
package display

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// OutputEnv selects JSON output when set to "json", for scripts that
// cannot pass flags.
const OutputEnv = "TALLY_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON based on
// the local or global --json flag and the TALLY_OUTPUT environment variable
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return os.Getenv(OutputEnv) == "json"
	}

	// Check if --json flag was explicitly set
	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	// Check global --json flag
	if globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json"); globalFlag {
		return true
	}

	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON marshals and prints JSON using display.MarshalJSON
func OutputJSON(v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
