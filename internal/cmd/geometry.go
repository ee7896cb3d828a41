package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var geometryCmd = &cobra.Command{
	Use:   "geometry <canonical-id>",
	Short: "Fetch an object and print its reconstructed geometry as WKT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return fmt.Errorf("building engine: %w", err)
		}
		defer e.Close()

		ctx := context.Background()
		obj, err := e.GetObject(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		if obj == nil {
			return fmt.Errorf("get %s: not found", args[0])
		}

		wkt, ok, err := e.GetGeometryAsWKT(ctx, obj)
		if err != nil {
			return fmt.Errorf("geometry %s: %w", args[0], err)
		}
		if !ok {
			return fmt.Errorf("geometry %s: no geometry could be constructed", args[0])
		}
		fmt.Println(wkt)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(geometryCmd)
}
