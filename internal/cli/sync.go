package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh tenants in the background",
		Long: fmt.Sprintf(`Refresh tenants from the remote system.

Tenants named on the command line are put into ACTIVE_SYNC; at most
max_active_tenants (default %d) may be active at once.`, types.DefaultMaxActiveTenants),
	}
	cmd.AddCommand(newSyncOnceCmd(), newSyncRunCmd())
	return cmd
}

// activate resumes sync for each tenant, failing on the first that does
// not fit under the cap.
func activate(svc *idcache.Service, tenants []string) error {
	for _, tenantID := range tenants {
		if err := svc.Sync().ResumeSync(tenantID); err != nil {
			return err
		}
	}
	return nil
}

func newSyncOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once <tenant>...",
		Short: "Refresh the given tenants once and report their health",
		Args:  wrapArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRemote(); err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				if err := activate(svc, args); err != nil {
					return err
				}
				reports, err := svc.Refresher().RefreshActive(cmd.Context())
				if perr := printReports(cmd, reports); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newSyncRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <tenant>...",
		Short: "Refresh the given tenants on an interval until interrupted",
		Args:  wrapArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRemote(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withService(func(svc *idcache.Service) error {
				if err := activate(svc, args); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "syncing %d tenants every %s; press Ctrl-C to stop\n",
					len(args), svc.Refresher().Interval())
				return svc.Refresher().Run(ctx)
			})
		},
	}
}
