package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <winner-id> <loser-id>",
	Short: "Merge two canonical entities",
	Long: `Repoints all aliases and match results from the loser to the winner,
keeps the loser's name resolvable as an alias of the winner, and retires
the loser. Aborts atomically if the merge would violate alias
uniqueness; resolve the conflicting alias first and retry.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		winner, loser := args[0], args[1]
		if err := st.Merge(ctx, winner, loser); err != nil {
			return eris.Wrap(err, "merge")
		}

		zap.L().Info("entities merged",
			zap.String("winner_id", winner),
			zap.String("loser_id", loser),
		)
		fmt.Printf("merged %s into %s\n", loser, winner)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
