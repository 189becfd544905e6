package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/config"
)

var chargersCmd = &cobra.Command{
	Use:   "chargers",
	Short: "Charger related commands",
}

var chargersLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the configured chargers",
	RunE:  runChargersLs,
}

func init() {
	chargersCmd.AddCommand(chargersLsCmd)
	rootCmd.AddCommand(chargersCmd)
}

func runChargersLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s grid=%dkW\n", cfg.Station.ID, cfg.Station.GridCapacity)
	fmt.Fprintln(tw, "ID\tMAX POWER\tCONNECTORS")
	for _, c := range cfg.Station.Chargers {
		fmt.Fprintf(tw, "%s\t%d kW\t%d\n", c.ID, c.MaxPower, c.Connectors)
	}
	if b := cfg.Station.Battery; b != nil {
		fmt.Fprintf(tw, "battery\t%d kW\t%.0f kWh\n", b.Power, b.InitialCapacity)
	}
	return tw.Flush()
}
