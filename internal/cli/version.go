package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/pkg/idcache"
)

const modulePath = "github.com/mesh-intelligence/idcache"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the idcache version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": idcache.Version,
					"module":  modulePath,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "idcache v%s\nmodule: %s\n", idcache.Version, modulePath)
			return nil
		},
	}
}
