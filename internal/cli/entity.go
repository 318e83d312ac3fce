package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/idcache/pkg/idcache"
	"github.com/mesh-intelligence/idcache/pkg/types"
)

func newShowCmd() *cobra.Command {
	var dataOnly bool
	cmd := &cobra.Command{
		Use:   "show <tenant> <type> <id>",
		Short: "Show a cached entity",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				rec, err := svc.Cache().GetCachedEntity(args[0], t, args[2])
				if err != nil {
					return err
				}
				if dataOnly {
					return printJSON(cmd.OutOrStdout(), rec.Data)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().BoolVar(&dataOnly, "data", false, "print only the local document")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <tenant> <type>",
		Short: "List cached entities of one type",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				all, err := svc.Cache().GetAllCachedEntities(args[0], t)
				if err != nil {
					return err
				}
				if flags.jsonMode {
					refs := make([]listItem, 0, len(all))
					for _, rec := range all {
						refs = append(refs, listItem{EntityRef: rec.Ref(), HasLocalChanges: rec.HasLocalChanges()})
					}
					return printJSON(cmd.OutOrStdout(), refs)
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tNAME\tDIRTY\tFETCHED")
				for _, rec := range all {
					fetched := "never"
					if !rec.LastFetched.IsZero() {
						fetched = humanize.Time(rec.LastFetched)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.Name, dirtyMark(rec.HasLocalChanges()), fetched)
				}
				return tw.Flush()
			})
		},
	}
}

type listItem struct {
	types.EntityRef
	HasLocalChanges bool `json:"hasLocalChanges"`
}

func newEditCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit <tenant> <type> <id>",
		Short: "Replace the local document of a cached entity",
		Long:  "Read a JSON document from --file (or stdin) and store it as the entity's local data.",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				rec, err := svc.Cache().UpdateLocalEntity(args[0], t, args[2], doc)
				if err != nil {
					return err
				}
				return printEntityStatus(cmd, rec)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to store (default: stdin)")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var (
		file   string
		name   string
		parent string
	)
	cmd := &cobra.Command{
		Use:   "create <tenant> <type> <id>",
		Short: "Create a local-only entity",
		Long:  "Create an entity that does not exist remotely yet. It stays pending until committed.",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[2]
			}
			return withService(func(svc *idcache.Service) error {
				rec, err := svc.Cache().CreateLocalEntity(args[0], t, args[2], name, doc, parent)
				if err != nil {
					return err
				}
				return printEntityStatus(cmd, rec)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON document to store (default: stdin)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default: the ID)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent entity ID")
	return cmd
}

func newDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <tenant> <type> <id>",
		Short: "Remove an entity from the cache, local edits included",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseType(args[1])
			if err != nil {
				return err
			}
			return withService(func(svc *idcache.Service) error {
				if err := svc.Commits().Discard(cmd.Context(), args[0], t, args[2]); err != nil {
					return err
				}
				if !flags.jsonMode {
					fmt.Fprintf(cmd.OutOrStdout(), "discarded %s/%s/%s\n", args[0], t, args[2])
					return nil
				}
				return printJSON(cmd.OutOrStdout(), types.EntityRef{TenantID: args[0], Type: t, ID: args[2]})
			})
		},
	}
}

// printEntityStatus prints a one-line summary, or the record in JSON mode.
func printEntityStatus(cmd *cobra.Command, rec *types.CachedEntity) error {
	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	state := "clean"
	if rec.HasLocalChanges() {
		state = "pending"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s/%s %s (%s)\n", rec.TenantID, rec.Type, rec.ID, state, rec.LocalHash)
	return nil
}
