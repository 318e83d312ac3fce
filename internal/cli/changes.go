package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/internal/commit"
	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending [tenant]",
		Short: "List entities with uncommitted local changes",
		Args:  rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := ""
			if len(args) == 1 {
				tenantID = args[0]
			}
			return withService(func(svc *idcache.Service) error {
				refs, err := svc.Cache().GetEntitiesWithLocalChanges(tenantID)
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), refs)
				}
				if len(refs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no pending changes")
					return nil
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "TENANT\tTYPE\tID\tNAME")
				for _, ref := range refs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ref.TenantID, ref.Type, ref.ID, ref.Name)
				}
				return tw.Flush()
			})
		},
	}
}

func newCommitCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "commit <tenant> [type id]",
		Short: "Push local changes to the remote system",
		Long:  "Push one entity, or with --all every pending entity of the tenant.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return wrapArgs(cobra.ExactArgs(1))(cmd, args)
			}
			return wrapArgs(cobra.ExactArgs(3))(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRemote(); err != nil {
				return err
			}
			tenantID := args[0]
			if all {
				return withService(func(svc *idcache.Service) error {
					results, err := svc.Commits().CommitAll(cmd.Context(), tenantID)
					if perr := printResults(cmd, results); perr != nil {
						return perr
					}
					return err
				})
			}
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				res, err := svc.Commits().Commit(cmd.Context(), tenantID, t, args[2])
				if err != nil {
					return err
				}
				return printResults(cmd, []commit.Result{res})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "commit every pending entity of the tenant")
	return cmd
}

func printResults(cmd *cobra.Command, results []commit.Result) error {
	if flags.jsonMode {
		if results == nil {
			results = []commit.Result{}
		}
		return printJSON(cmd.OutOrStdout(), results)
	}
	for _, res := range results {
		state := "already clean"
		if res.Pushed {
			state = "pushed " + res.Hash
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s/%s %s\n", res.Ref.TenantID, res.Ref.Type, res.Ref.ID, state)
	}
	return nil
}

func newRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <tenant> <type> <id>",
		Short: "Drop local changes and restore the last fetched document",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				rec, err := svc.Commits().Revert(cmd.Context(), args[0], t, args[2])
				if errors.Is(err, types.ErrNoBaseline) {
					return userError{fmt.Errorf("%w; use discard to remove a local-only entity", err)}
				}
				if err != nil {
					return err
				}
				return printEntityStatus(cmd, rec)
			})
		},
	}
}
