package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/pkg/export"
	"github.com/kilianp07/evstation/qa/scenarios"
)

var (
	simFormat   string
	simStrategy string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a session scenario with a virtual clock",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "table", "output format: table, json or csv")
	simulateCmd.Flags().StringVarP(&simStrategy, "strategy", "s", "", "override the scenario allocation strategy")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := scenarios.Load(args[0])
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	if simStrategy != "" {
		sc.Strategy = simStrategy
	}
	res, err := scenarios.Run(sc)
	if err != nil {
		return fmt.Errorf("run scenario: %w", err)
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(simFormat) {
	case "table":
		err = export.WriteTable(out, res)
	case "json":
		err = export.WriteJSON(out, res)
	case "csv":
		err = export.WriteCSV(out, res)
	default:
		return fmt.Errorf("unknown format %q", simFormat)
	}
	if err != nil {
		return err
	}
	if mismatches := res.Mismatches(); len(mismatches) > 0 {
		return fmt.Errorf("%d expectation(s) not met", len(mismatches))
	}
	return nil
}
