package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <area> <since>",
	Short: "Stream create/modify/delete changes for area since the given RFC3339 timestamp",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := time.Parse(time.RFC3339, args[1])
		if err != nil {
			return fmt.Errorf("diff: parsing since %q: %w", args[1], err)
		}

		e, err := newEngine()
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		defer e.Close()

		for change, err := range e.LookupDifferencesIn(context.Background(), args[0], since) {
			if err != nil {
				return fmt.Errorf("diff %s: %w", args[0], err)
			}
			subject := change.Subject()
			fmt.Printf("%s %s %d\n", change.Type, subject.Kind, subject.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
