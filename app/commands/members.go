package commands

import (
	"fmt"
	"io"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/amirphl/company-segments/utils"
	"github.com/spf13/cobra"
)

// MembersCmd returns the members command group
func MembersCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Add or remove companies by hand",
		Long: `Manual membership overrides.

A company added by hand stays a member whatever the filters say.
A company removed by hand is never re-added by a rebuild.`,
	}

	cmd.AddCommand(memberChangeCmd(factory, "add", "Add companies to a segment"))
	cmd.AddCommand(memberChangeCmd(factory, "remove", "Remove companies from a segment"))

	return cmd
}

func memberChangeCmd(factory AppFactory, use, short string) *cobra.Command {
	var (
		segmentID uint
		ids       string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			companyIDs, err := utils.ParseIDList(ids)
			if err != nil {
				return newUsageError(fmt.Errorf("--ids: %w", err))
			}

			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			req := businessflow.UpdateMembershipRequest{SegmentID: segmentID}
			if use == "add" {
				req.Add = companyIDs
			} else {
				req.Remove = companyIDs
			}

			change, err := app.MembershipFlow().UpdateMembership(cmd.Context(), req)
			if err != nil {
				return err
			}
			printChange(cmd.OutOrStdout(), change)
			return nil
		},
	}

	cmd.Flags().UintVar(&segmentID, "segment-id", 0, "Target segment")
	cmd.Flags().StringVar(&ids, "ids", "", "Comma separated company ids")

	return cmd
}

func printChange(w io.Writer, change *businessflow.MembershipChange) {
	fmt.Fprintf(w, "%s segment %d: +%d -%d\n", okMark, change.SegmentID, len(change.Added), len(change.Removed))
	if len(change.Unknown) > 0 {
		fmt.Fprintf(w, "%s unknown companies: %v\n", skipMark, change.Unknown)
	}
}
