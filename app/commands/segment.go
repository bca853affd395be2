package commands

import (
	"fmt"
	"strconv"
	"strings"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/spf13/cobra"
)

// SegmentCmd returns the segment command group
func SegmentCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Inspect and delete segments",
	}

	cmd.AddCommand(segmentPlanCmd(factory))
	cmd.AddCommand(segmentDeleteCmd(factory))

	return cmd
}

func parseSegmentArg(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, newUsageError(fmt.Errorf("invalid segment id %q", arg))
	}
	return uint(id), nil
}

func segmentPlanCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <segment-id>",
		Short: "Print the order in which a segment and its references resolve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSegmentArg(args[0])
			if err != nil {
				return err
			}

			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			order, err := app.SegmentFlow().Plan(cmd.Context(), id)
			if err != nil {
				return err
			}
			parts := make([]string, len(order))
			for i, sid := range order {
				parts[i] = strconv.FormatUint(uint64(sid), 10)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(parts, " -> "))
			return nil
		},
	}
}

func segmentDeleteCmd(factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <segment-id>",
		Short: "Delete a segment that no other segment references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSegmentArg(args[0])
			if err != nil {
				return err
			}

			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			flow := app.SegmentFlow()
			ok, referencing, err := flow.CanDelete(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s segment %d is referenced by:\n", failMark, id)
				for _, seg := range referencing {
					fmt.Fprintf(w, "  %d %s\n", seg.ID, seg.Alias)
				}
				return businessflow.ErrSegmentReferenced
			}

			if err := flow.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s segment %d deleted\n", okMark, id)
			return nil
		},
	}
}
