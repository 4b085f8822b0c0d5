package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/registry"
)

var (
	aliasAddScope string
	aliasSeedFile string
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage the alias registry",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <alias-text> <canonical-id>",
	Short: "Add an alias for a canonical entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		if err := st.InsertAlias(ctx, args[0], args[1], model.AliasScope(aliasAddScope)); err != nil {
			return eris.Wrap(err, "insert alias")
		}
		fmt.Printf("alias %q -> %s\n", args[0], args[1])
		return nil
	},
}

var aliasListCmd = &cobra.Command{
	Use:   "list <canonical-id>",
	Short: "List aliases of a canonical entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		ent, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get entity")
		}
		aliases, err := st.AliasesFor(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list aliases")
		}

		fmt.Printf("%s (%s)\n", ent.CanonicalName, ent.Type)
		for _, a := range aliases {
			active := ""
			if !a.Active {
				active = "  [inactive]"
			}
			fmt.Printf("  %-17s %s%s\n", a.Scope, a.Text, active)
		}
		return nil
	},
}

var aliasSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply an alias seed file",
	Long: `Loads a YAML seed file of canonical entities and their known aliases
and reference numbers, creating missing entities and aliases. Applying
the same file twice is a no-op; aliases already held by a different
entity are reported as conflicts, not reassigned.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sf, err := registry.Load(aliasSeedFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		sum, err := registry.Apply(ctx, st, sf)
		if err != nil {
			return eris.Wrap(err, "apply seed")
		}

		zap.L().Info("seed applied",
			zap.Int("entities_created", sum.EntitiesCreated),
			zap.Int("aliases_added", sum.AliasesAdded),
			zap.Int("conflicts", len(sum.Conflicts)),
		)
		for _, c := range sum.Conflicts {
			fmt.Printf("conflict: %s\n", c)
		}
		return nil
	},
}

func init() {
	aliasAddCmd.Flags().StringVar(&aliasAddScope, "scope", "name", "alias scope (name|reference_number)")
	aliasSeedCmd.Flags().StringVar(&aliasSeedFile, "file", "", "YAML seed file (required)")
	_ = aliasSeedCmd.MarkFlagRequired("file")
	aliasCmd.AddCommand(aliasAddCmd, aliasListCmd, aliasSeedCmd)
	rootCmd.AddCommand(aliasCmd)
}
