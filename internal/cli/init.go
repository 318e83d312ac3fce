package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/pkg/idcache"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and the cache root",
		Long: "Create the configuration directory with a default config.yaml, then create\n" +
			"the cache root and its index.",
		Args: exactArgs(0),
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	return withService(func(svc *idcache.Service) error {
		if flags.jsonMode {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"config": filepath.Join(loaded.configDir, configFileExt),
				"cache":  svc.Root(),
			})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "idcache initialized successfully")
		fmt.Fprintln(out, "  config:", filepath.Join(loaded.configDir, configFileExt))
		fmt.Fprintln(out, "  cache: ", svc.Root())
		return nil
	})
}
