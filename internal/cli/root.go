// Package cli implements the idcache command-line interface.
// See docs/ARCHITECTURE.md § CLI.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/internal/logging"
	"github.com/mesh-intelligence/idcache/internal/paths"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	cacheDir  string
	remoteDir string
	jsonMode  bool
}

var flags rootFlags

// loaded holds the configuration resolved by PersistentPreRunE.
var loaded struct {
	configDir string
	cfg       types.Config
	remoteDir string
}

// NewRootCmd creates the top-level "idcache" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}

	root := &cobra.Command{
		Use:   "idcache",
		Short: "Offline-first cache of identity-governance entities",
		Long: "idcache keeps a local, editable copy of remote identity-governance entities\n" +
			"(sources, transforms, roles, workflows, ...). Edits stay local until committed.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/idcache)")
	root.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "cache root (default: $XDG_CACHE_HOME/idcache)")
	root.PersistentFlags().StringVar(&flags.remoteDir, "remote-dir", "", "directory export acting as the remote system")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return userError{err}
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newEditCmd())
	root.AddCommand(newCreateCmd())
	root.AddCommand(newPendingCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newRevertCmd())
	root.AddCommand(newDiscardCmd())
	root.AddCommand(newClearCmd())
	root.AddCommand(newRebuildIndexCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newSyncCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "idcache:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// loadSettings resolves directories, reads config.yaml and configures
// logging. It runs before every subcommand.
func loadSettings(cmd *cobra.Command, _ []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	if cmd.Name() == "version" {
		return nil
	}

	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	cfg, err := configFromViper(v)
	if err != nil {
		return userError{err}
	}

	cfg.CacheDir, err = paths.ResolveCacheDir(flags.cacheDir, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return userError{fmt.Errorf("config %s: %w", configDir, err)}
	}

	logging.Configure(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  logging.IsTerminal(os.Stderr),
	})

	loaded.configDir = configDir
	loaded.cfg = cfg
	loaded.remoteDir = flags.remoteDir
	if loaded.remoteDir == "" {
		loaded.remoteDir = v.GetString(cfgKeyRemoteDir)
	}
	return nil
}

// userError marks failures caused by the invocation rather than the system.
type userError struct{ error }

func (e userError) Unwrap() error { return e.error }

// userErrors are sentinel errors that mean the request itself was wrong.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrInvalidID,
	types.ErrInvalidData,
	types.ErrUnknownEntityType,
	types.ErrAlreadyExists,
	types.ErrLocalChanges,
	types.ErrCapacityExceeded,
}

// exitCode maps an error to exitUserError or exitSysError.
func exitCode(err error) int {
	var ue userError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// exactArgs is cobra.ExactArgs reported as a user error.
func exactArgs(n int) cobra.PositionalArgs {
	return wrapArgs(cobra.ExactArgs(n))
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return wrapArgs(cobra.RangeArgs(lo, hi))
}

func wrapArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return userError{err}
		}
		return nil
	}
}
