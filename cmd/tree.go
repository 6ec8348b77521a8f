package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
	"github.com/nexus-community/groups-cli/internal/tree"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Hierarchy queries and subtree moves",
	Long:  "Read-side traversal queries over a tenant's group forest, plus cycle-safe reparenting.",
}

func init() { rootCmd.AddCommand(treeCmd) }

func parseNodeID(args []string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid group id %q", args[0])
	}
	return id, nil
}

var treeAncestorsCmd = &cobra.Command{
	Use:   "ancestors <group-id>",
	Short: "Show the chain from root to a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		nodeID, err := parseNodeID(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := tree.NewEngine(st)
		chain, err := engine.GetAncestors(ctx, tenantID, nodeID)
		if err != nil {
			return err
		}

		fmt.Println(tree.Breadcrumb(chain))
		for depth, g := range chain {
			fmt.Printf("%s%s (id=%d, kind=%s)\n", strings.Repeat("  ", depth), g.Name, g.ID, g.Kind)
		}
		return nil
	},
}

var treeDescendantsMaxDepth int

var treeDescendantsCmd = &cobra.Command{
	Use:   "descendants <group-id>",
	Short: "Show a group's subtree with member counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		nodeID, err := parseNodeID(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := tree.NewEngine(st)
		root, err := engine.GetDescendants(ctx, tenantID, nodeID, treeDescendantsMaxDepth)
		if err != nil {
			return err
		}

		printDescendants(os.Stdout, root)
		return nil
	},
}

func printDescendants(out io.Writer, n *tree.DescendantNode) {
	fmt.Fprintf(out, "%s%s (id=%d, members=%d)\n",
		strings.Repeat("  ", n.Level), n.Group.Name, n.Group.ID, n.MemberCount)
	for _, child := range n.Children {
		printDescendants(out, child)
	}
}

var (
	treeLeavesKind  string
	treeLeavesLimit int
)

var treeLeavesCmd = &cobra.Command{
	Use:   "leaves",
	Short: "List leaf groups by member count",
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

		engine := tree.NewEngine(st)
		leaves, err := engine.GetLeafGroups(ctx, tenantID, model.GroupKind(treeLeavesKind), treeLeavesLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKIND\tMEMBERS\tFEATURED")
		for _, l := range leaves {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\n",
				l.Group.ID, l.Group.Name, l.Group.Kind, l.MemberCount, l.Group.Featured)
		}
		return w.Flush()
	},
}

var treeSiblingsIncludeSelf bool

var treeSiblingsCmd = &cobra.Command{
	Use:   "siblings <group-id>",
	Short: "List groups sharing the same parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		nodeID, err := parseNodeID(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := tree.NewEngine(st)
		siblings, err := engine.GetSiblings(ctx, tenantID, nodeID, treeSiblingsIncludeSelf)
		if err != nil {
			return err
		}

		for _, g := range siblings {
			fmt.Printf("%d\t%s\n", g.ID, g.Name)
		}
		return nil
	},
}

var treeMembersCmd = &cobra.Command{
	Use:   "members <group-id>",
	Short: "Count distinct members across a subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		nodeID, err := parseNodeID(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := tree.NewEngine(st)
		total, err := engine.GetTotalMemberCount(ctx, tenantID, nodeID)
		if err != nil {
			return err
		}
		fmt.Println(total)
		return nil
	},
}

var treeMoveParent int64

var treeMoveCmd = &cobra.Command{
	Use:   "move <group-id>",
	Short: "Reparent a subtree",
	Long:  "Moves a group (and implicitly its whole subtree) under a new parent, or to the root set with --parent 0. Moves that would create a cycle are rejected with no write.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		nodeID, err := parseNodeID(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var newParent *int64
		if treeMoveParent != 0 {
			newParent = &treeMoveParent
		}

		engine := tree.NewEngine(st)
		result, err := engine.MoveSubtree(ctx, tenantID, nodeID, newParent)
		if err != nil {
			return err
		}

		zap.L().Info("move complete", zap.Int("moved_count", result.MovedCount))
		fmt.Printf("moved %d node(s)\n", result.MovedCount)
		return nil
	},
}

func init() {
	treeDescendantsCmd.Flags().IntVar(&treeDescendantsMaxDepth, "max-depth", 0, "bound recursion depth (0 = unbounded)")
	treeLeavesCmd.Flags().StringVar(&treeLeavesKind, "kind", "", "restrict to a group kind (hub, community)")
	treeLeavesCmd.Flags().IntVar(&treeLeavesLimit, "limit", 20, "maximum leaves to list")
	treeSiblingsCmd.Flags().BoolVar(&treeSiblingsIncludeSelf, "include-self", false, "include the queried group itself")
	treeMoveCmd.Flags().Int64Var(&treeMoveParent, "parent", 0, "new parent group id (0 = make root)")

	treeCmd.AddCommand(treeAncestorsCmd, treeDescendantsCmd, treeLeavesCmd, treeSiblingsCmd, treeMembersCmd, treeMoveCmd)
}
