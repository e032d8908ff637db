package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/service/leveling"
)

func newLevelsCommand() *cobra.Command {
	var rulesFile string
	cmd := &cobra.Command{
		Use:   "levels",
		Short: "Print the level table of the active rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules := config.DefaultRules()
			if rulesFile != "" {
				r, err := config.LoadRules(rulesFile)
				if err != nil {
					return err
				}
				rules = r
			}
			table, err := leveling.New(rules.LevelThresholds, rules.LevelTitles)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "LEVEL\tXP\tTITLE\tACHIEVEMENT")
			for lvl := 1; lvl <= table.MaxLevel(); lvl++ {
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", lvl, table.Threshold(lvl), table.Title(lvl), rules.Achievements[lvl])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file (defaults to the built-in rules)")
	return cmd
}
