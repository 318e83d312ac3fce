package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/internal/remote"
	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// openService opens the cache root resolved by loadSettings. The caller must
// Close the service.
func openService() (*idcache.Service, error) {
	var opts []idcache.Option
	if loaded.remoteDir != "" {
		opts = append(opts, idcache.WithRemote(remote.NewDir(loaded.remoteDir)))
	}
	svc, err := idcache.Open(loaded.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return svc, nil
}

// withService opens the service, runs fn and closes the service, keeping
// the first error.
func withService(fn func(svc *idcache.Service) error) (err error) {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close cache: %w", cerr)
		}
	}()
	return fn(svc)
}

// requireRemote fails when no remote directory is configured.
func requireRemote() error {
	if loaded.remoteDir == "" {
		return userError{fmt.Errorf("%w: set --remote-dir or remote_dir in config.yaml", idcache.ErrNoRemote)}
	}
	return nil
}

// parseType resolves an entity type argument.
func parseType(arg string) (types.EntityType, error) {
	t, err := types.ParseEntityType(arg)
	if err != nil {
		return 0, userError{fmt.Errorf("%w (valid: %s)", err, strings.Join(types.EntityTypeTags(), ", "))}
	}
	return t, nil
}

// readDocument reads a JSON document from path, or from stdin when path is
// empty or "-".
func readDocument(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, userError{fmt.Errorf("read document: %w", err)}
	}
	if !json.Valid(data) {
		return nil, userError{fmt.Errorf("%w: not valid JSON", types.ErrInvalidData)}
	}
	return json.RawMessage(data), nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a tabwriter for aligned text output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func dirtyMark(dirty bool) string {
	if dirty {
		return "*"
	}
	return ""
}
