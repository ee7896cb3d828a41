package cmd

import (
	"context"
	"fmt"

	pb "gopkg.in/cheggaaa/pb.v2"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <area>",
	Short: "Fetch every node, way and relation in area and populate the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		defer e.Close()

		bar := pb.StartNew(0)
		defer bar.Finish()

		if err := e.LookupObjectsIn(context.Background(), args[0]); err != nil {
			return fmt.Errorf("fetch %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
