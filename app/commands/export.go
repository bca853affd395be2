package commands

import (
	"fmt"
	"os"
	"path/filepath"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/spf13/cobra"
)

// ExportCmd returns the export command
func ExportCmd(factory AppFactory) *cobra.Command {
	var (
		segmentID uint
		alias     string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current members of a segment to an xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			name, content, err := app.ExportFlow().ExportMembersExcel(cmd.Context(), businessflow.ExportRequest{
				SegmentID: segmentID,
				Alias:     alias,
				PageSize:  app.Config.Export.PageSize,
			})
			if err != nil {
				return err
			}

			if out == "" {
				out = filepath.Join(app.Config.Export.Directory, name)
			}
			if err := os.WriteFile(out, content, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okMark, out)
			return nil
		},
	}

	cmd.Flags().UintVar(&segmentID, "segment-id", 0, "Segment to export")
	cmd.Flags().StringVar(&alias, "alias", "", "Segment alias, instead of --segment-id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default segment_<alias>_members.xlsx)")

	return cmd
}
