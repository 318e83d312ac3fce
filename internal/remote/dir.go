package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mesh-intelligence/idcache/internal/atomicfile"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

// Dir is a remote system exported to a directory tree:
// <root>/<tenant>/<type segment>/<id>.json, each file holding the entity
// document. The display name comes from the document's "name" field and the
// parent from "parentId".
type Dir struct {
	root string
}

var (
	_ types.RemoteFetcher = (*Dir)(nil)
	_ types.RemoteWriter  = (*Dir)(nil)
)

// NewDir returns a directory remote rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the export directory.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) path(tenantID string, t types.EntityType, id string) (string, error) {
	for _, part := range []string{tenantID, id} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", types.ErrInvalidID, part)
		}
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %d", types.ErrUnknownEntityType, uint8(t))
	}
	return filepath.Join(d.root, tenantID, t.Segment(), id+".json"), nil
}

func toEntity(id string, data []byte) (types.RemoteEntity, error) {
	if !json.Valid(data) {
		return types.RemoteEntity{}, fmt.Errorf("%s: %w", id, types.ErrInvalidData)
	}
	name, parent := payloadFields(data)
	if name == "" {
		name = id
	}
	return types.RemoteEntity{ID: id, Name: name, ParentID: parent, Data: json.RawMessage(data)}, nil
}

// Fetch reads every document of type t for the tenant, ordered by ID. A
// missing directory is an empty result.
func (d *Dir) Fetch(ctx context.Context, tenantID string, t types.EntityType) ([]types.RemoteEntity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownEntityType, uint8(t))
	}
	dir := filepath.Join(d.root, tenantID, t.Segment())
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []types.RemoteEntity
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := f.Name()
		if f.IsDir() || atomicfile.IsTemp(name) || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		e, err := toEntity(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchOne reads one document, or returns an error wrapping ErrNotFound.
func (d *Dir) FetchOne(ctx context.Context, tenantID string, t types.EntityType, id string) (types.RemoteEntity, error) {
	if err := ctx.Err(); err != nil {
		return types.RemoteEntity{}, err
	}
	path, err := d.path(tenantID, t, id)
	if err != nil {
		return types.RemoteEntity{}, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.RemoteEntity{}, notFound(tenantID, t, id)
	}
	if err != nil {
		return types.RemoteEntity{}, err
	}
	return toEntity(id, raw)
}

// Push writes data atomically as the entity's document.
func (d *Dir) Push(ctx context.Context, tenantID string, t types.EntityType, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.path(tenantID, t, id)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("%s: %w", id, types.ErrInvalidData)
	}
	return atomicfile.WriteJSON(path, data)
}
