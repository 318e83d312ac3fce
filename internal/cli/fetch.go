package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/internal/refresh"
	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

func newFetchCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch <tenant> [type] [id]",
		Short: "Fetch entities from the remote system into the cache",
		Long: `Fetch one entity, every entity of one type, or every entity of a tenant.

Pending local edits are handled by the configured refresh policy;
--force always replaces them with the remote document.`,
		Args: rangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRemote(); err != nil {
				return err
			}
			tenantID := args[0]
			var t types.EntityType
			if len(args) > 1 {
				var err error
				if t, err = parseType(args[1]); err != nil {
					return err
				}
			}
			return withService(func(svc *idcache.Service) error {
				switch len(args) {
				case 3:
					rec, err := svc.FetchEntity(cmd.Context(), tenantID, t, args[2], force)
					if err != nil {
						return err
					}
					return printEntityStatus(cmd, rec)
				case 2:
					recs, err := svc.FetchType(cmd.Context(), tenantID, t, force)
					if perr := printFetched(cmd, recs); perr != nil {
						return perr
					}
					return err
				default:
					return fetchTenant(cmd, svc, tenantID, force)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace pending local edits with the remote document")
	return cmd
}

// fetchTenant refreshes every entity type of the tenant. Without force it
// goes through the refresher so the tenant's sync health is reported.
func fetchTenant(cmd *cobra.Command, svc *idcache.Service, tenantID string, force bool) error {
	if !force {
		rep, err := svc.Refresher().RefreshTenant(cmd.Context(), tenantID)
		if perr := printReports(cmd, []refresh.Report{rep}); perr != nil {
			return perr
		}
		return err
	}

	var (
		all  []*types.CachedEntity
		errs []error
	)
	for _, t := range types.AllEntityTypes() {
		recs, err := svc.FetchType(cmd.Context(), tenantID, t, true)
		all = append(all, recs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := printFetched(cmd, all); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func printFetched(cmd *cobra.Command, recs []*types.CachedEntity) error {
	if flags.jsonMode {
		refs := make([]types.EntityRef, 0, len(recs))
		for _, rec := range recs {
			refs = append(refs, rec.Ref())
		}
		return printJSON(cmd.OutOrStdout(), refs)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fetched %d entities\n", len(recs))
	return nil
}

func printReports(cmd *cobra.Command, reports []refresh.Report) error {
	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), reports)
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "TENANT\tHEALTH\tFETCHED\tOVERWRITTEN\tFAILED")
	for _, rep := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", rep.TenantID, rep.Health, rep.Fetched, rep.Overwritten, joinTypes(rep.FailedTypes))
	}
	return tw.Flush()
}

func joinTypes(ts []types.EntityType) string {
	if len(ts) == 0 {
		return "-"
	}
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}
