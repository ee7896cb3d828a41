package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <canonical-id>",
	Short: "Print a single object by its canonical id (e.g. n123, w456, r789)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		defer e.Close()

		obj, err := e.GetObject(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		if obj == nil {
			return fmt.Errorf("get %s: not found", args[0])
		}
		fmt.Printf("%s %d tags=%v\n", obj.Kind, obj.ID, obj.Tags)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
