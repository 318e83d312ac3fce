package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/internal/journal"
	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

func newClearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear [tenant]",
		Short: "Remove cached entities for one tenant or for all tenants",
		Long: `Remove cached entities for one tenant, or for every tenant when none is given.

Clearing refuses while there are uncommitted local changes unless --force is set.`,
		Args: rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := ""
			if len(args) == 1 {
				tenantID = args[0]
			}
			return withService(func(svc *idcache.Service) error {
				if !force {
					pending, err := svc.Cache().GetEntitiesWithLocalChanges(tenantID)
					if err != nil {
						return err
					}
					if len(pending) > 0 {
						return userError{fmt.Errorf("%w: %d pending entities; commit, revert or pass --force", types.ErrLocalChanges, len(pending))}
					}
				}
				var err error
				if tenantID == "" {
					err = svc.Cache().ClearAllCache()
				} else {
					err = svc.Cache().ClearTenantCache(tenantID)
				}
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"cleared": tenantOrAll(tenantID)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", tenantOrAll(tenantID))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clear even when local changes are pending")
	return cmd
}

func tenantOrAll(tenantID string) string {
	if tenantID == "" {
		return "all tenants"
	}
	return "tenant " + tenantID
}

func newRebuildIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the cache index from the entity files",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(func(svc *idcache.Service) error {
				n, err := svc.Cache().RebuildIndex()
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]int{"entities": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entities\n", n)
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [tenant type id]",
		Short: "Show journaled commits, reverts and discards",
		Long:  "Show the history of one entity, or the most recent entries across the cache.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return userError{fmt.Errorf("accepts 0 or 3 arg(s), received %d", len(args))}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var t types.EntityType
			if len(args) == 3 {
				var err error
				if t, err = parseType(args[1]); err != nil {
					return err
				}
			}
			return withService(func(svc *idcache.Service) error {
				j := svc.Journal()
				if j == nil {
					return userError{fmt.Errorf("journal is disabled; set journal: true in config.yaml")}
				}
				var (
					entries []journal.Entry
					err     error
				)
				if len(args) == 3 {
					entries, err = j.History(cmd.Context(), args[0], t, args[2])
				} else {
					entries, err = j.Recent(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}
				if flags.jsonMode {
					if entries == nil {
						entries = []journal.Entry{}
					}
					return printJSON(cmd.OutOrStdout(), entries)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "TIME\tOPERATION\tTENANT\tTYPE\tID\tBEFORE\tAFTER")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Op, e.TenantID, e.Type, e.EntityID,
						orDash(e.HashBefore), orDash(e.HashAfter))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent entries to show (0 for all)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
