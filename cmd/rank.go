package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nexus-community/groups-cli/internal/ranking"
	"github.com/nexus-community/groups-cli/internal/store"
	"github.com/nexus-community/groups-cli/internal/tree"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Featured-group ranking runs",
}

func init() { rootCmd.AddCommand(rankCmd) }

func newRankingEngine(st store.GroupStore) *ranking.Engine {
	return ranking.NewEngine(st, tree.NewEngine(st), ranking.Config{
		HubLimit:        cfg.Ranking.HubLimit,
		HubMaxPerParent: cfg.Ranking.HubMaxPerParent,
		CommunityLimit:  cfg.Ranking.CommunityLimit,
	})
}

var rankUpdateCategory string

var rankUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Recompute featured sets",
	Long:  "Recomputes the featured local_hubs and community_groups sets. Each category's CLEAR and SET happen in a single transaction, so readers never see an empty featured set mid-run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := newRankingEngine(st)

		switch rankUpdateCategory {
		case "":
			stats, err := engine.UpdateAllFeaturedGroups(ctx, tenantID)
			for _, s := range stats {
				printCategoryStats(s)
			}
			return err
		case ranking.CategoryLocalHubs:
			s, err := engine.UpdateFeaturedLeafGroups(ctx, tenantID)
			if err != nil {
				return err
			}
			printCategoryStats(s)
			return nil
		case ranking.CategoryCommunity:
			s, err := engine.UpdateFeaturedCommunityGroups(ctx, tenantID)
			if err != nil {
				return err
			}
			printCategoryStats(s)
			return nil
		default:
			return eris.Errorf("rank: unknown category %q", rankUpdateCategory)
		}
	},
}

func printCategoryStats(s *ranking.CategoryStats) {
	fmt.Printf("%s: featured %d (cleared %d) via %s\n",
		s.Category, s.Featured, s.Cleared, s.Algorithm)
}

var rankStatusLimit int

var rankStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent ranking runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRankingRuns(ctx, tenantID, rankStatusLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no ranking runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tSTATUS\tFEATURED\tCLEARED\tRUN AT\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
				r.ID, r.Category, r.Status, r.Featured, r.Cleared,
				r.RunAt.Format("2006-01-02 15:04:05"), truncate(r.Error, 48))
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

var rankPinOff bool

var rankPinCmd = &cobra.Command{
	Use:   "pin <group-id>",
	Short: "Manually feature or unfeature a group",
	Long:  "Sets the featured flag on one group without touching the rest of the set. The next ranking run overwrites manual pins for that group's category.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		groupID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid group id %q", args[0])
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := newRankingEngine(st)
		if err := engine.SetFeaturedStatus(ctx, tenantID, groupID, !rankPinOff); err != nil {
			return err
		}
		fmt.Printf("group %d featured=%t\n", groupID, !rankPinOff)
		return nil
	},
}

var rankFeaturedCategory string

var rankFeaturedCmd = &cobra.Command{
	Use:   "featured",
	Short: "Show the current featured set with scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := newRankingEngine(st)
		featured, err := engine.GetFeaturedGroupsWithScores(ctx, tenantID, rankFeaturedCategory)
		if err != nil {
			return err
		}

		last, err := engine.LastUpdateTime(ctx, tenantID, rankFeaturedCategory)
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Printf("last updated %s\n", last.Format("2006-01-02 15:04:05"))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tRECENT\tSCORE")
		for _, fg := range featured {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n",
				fg.Group.ID, fg.Group.Name, fg.MemberCount, fg.RecentCount, fg.Score)
		}
		return w.Flush()
	},
}

func init() {
	rankUpdateCmd.Flags().StringVar(&rankUpdateCategory, "category", "", "limit to one category (local_hubs, community_groups)")
	rankStatusCmd.Flags().IntVar(&rankStatusLimit, "limit", 20, "maximum runs to list")
	rankPinCmd.Flags().BoolVar(&rankPinOff, "off", false, "clear the featured flag instead of setting it")
	rankFeaturedCmd.Flags().StringVar(&rankFeaturedCategory, "category", ranking.CategoryLocalHubs, "category to show")

	rankCmd.AddCommand(rankUpdateCmd, rankStatusCmd, rankPinCmd, rankFeaturedCmd)
}
