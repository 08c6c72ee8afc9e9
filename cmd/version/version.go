package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/spotit-go/internal/buildinfo"
	"github.com/tphakala/spotit-go/internal/inference"
)

// Command creates a new cobra.Command to print build information.
func Command(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of spotit-go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\nCPU: %s, %d inference threads\n",
				info, inference.CPUBrand(), inference.ThreadCount(0))
			return err
		},
	}
}
