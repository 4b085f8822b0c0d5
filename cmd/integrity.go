package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Report aliases pointing at missing entities",
	Long: `Lists orphaned aliases whose canonical entity no longer exists.
Nothing is deleted; orphans are reported for operator review.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		orphans, err := st.CheckIntegrity(ctx)
		if err != nil {
			return eris.Wrap(err, "check integrity")
		}

		if len(orphans) == 0 {
			fmt.Println("no orphaned aliases")
			return nil
		}
		for _, a := range orphans {
			fmt.Printf("orphan: %-17s %q -> %s\n", a.Scope, a.Text, a.CanonicalID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(integrityCmd)
}
