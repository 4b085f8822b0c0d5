package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var unresolvedAll bool

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "List records awaiting manual stewardship",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListUnresolved(ctx, unresolvedAll)
		if err != nil {
			return eris.Wrap(err, "list unresolved")
		}

		if len(records) == 0 {
			fmt.Println("no unresolved records")
			return nil
		}
		for _, r := range records {
			status := ""
			if r.Resolved {
				status = "  [resolved]"
			}
			fmt.Printf("%-14s %-24s %q%s\n", r.Reason, r.SourceID, r.RawName, status)
		}
		return nil
	},
}

func init() {
	unresolvedCmd.Flags().BoolVar(&unresolvedAll, "all", false, "include already-resolved records")
	rootCmd.AddCommand(unresolvedCmd)
}
