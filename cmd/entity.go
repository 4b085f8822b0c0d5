package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/store"
)

var (
	entityCreateType string
	entityListType   string
	entityListAll    bool
	entityListLimit  int
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage canonical entities",
}

var entityCreateCmd = &cobra.Command{
	Use:   "create <canonical-name>",
	Short: "Create a canonical entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		ent, err := st.CreateEntity(ctx, args[0], model.EntityType(entityCreateType), nil)
		if err != nil {
			return eris.Wrap(err, "create entity")
		}
		fmt.Printf("%s  %s (%s)\n", ent.ID, ent.CanonicalName, ent.Type)
		return nil
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical entities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		entities, err := st.ListEntities(ctx, store.EntityFilter{
			Type:           model.EntityType(entityListType),
			IncludeRetired: entityListAll,
			Limit:          entityListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list entities")
		}

		for _, e := range entities {
			status := ""
			if e.Retired {
				status = fmt.Sprintf("  [retired -> %s]", e.MergedInto)
			}
			fmt.Printf("%s  %-10s %s%s\n", e.ID, e.Type, e.CanonicalName, status)
		}
		return nil
	},
}

var entityRenameCmd = &cobra.Command{
	Use:   "rename <canonical-id> <new-name>",
	Short: "Rename a canonical entity",
	Long: `Changes the display name of a canonical entity. The id and all
existing aliases are unaffected; the new name becomes resolvable
through the normalized-name lookup.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.RenameEntity(ctx, args[0], args[1]); err != nil {
			return eris.Wrap(err, "rename entity")
		}
		fmt.Printf("%s renamed to %q\n", args[0], args[1])
		return nil
	},
}

func init() {
	entityCreateCmd.Flags().StringVar(&entityCreateType, "type", "client", "entity type (client|opportunity)")
	entityListCmd.Flags().StringVar(&entityListType, "type", "", "filter by entity type")
	entityListCmd.Flags().BoolVar(&entityListAll, "all", false, "include retired entities")
	entityListCmd.Flags().IntVar(&entityListLimit, "limit", 100, "max entities to list")
	entityCmd.AddCommand(entityCreateCmd, entityListCmd, entityRenameCmd)
	rootCmd.AddCommand(entityCmd)
}
