package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/kilianp07/evstation/qa/scenarios"
)

var csvHeader = []string{
	"step", "time", "action", "session", "session_id", "charger_id",
	"connector_id", "vehicle_max_power", "power_kw", "fairness", "error",
}

// WriteJSON writes the scenario result to w in JSON format.
func WriteJSON(w io.Writer, res *scenarios.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteCSV writes one row per session and step. Steps leaving the station
// empty produce a single row without session columns.
func WriteCSV(w io.Writer, res *scenarios.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range res.Steps {
		prefix := []string{strconv.Itoa(s.Index), s.Time.Format(time.RFC3339), s.Action, s.Session}
		suffix := []string{strconv.FormatFloat(s.Fairness, 'f', 4, 64), s.Error}
		if len(s.Allocations) == 0 {
			row := append(append(append([]string{}, prefix...), "", "", "", "", ""), suffix...)
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}
		for _, a := range s.Allocations {
			row := append(append([]string{}, prefix...),
				a.SessionID,
				a.ChargerID,
				strconv.Itoa(a.ConnectorID),
				strconv.Itoa(a.VehicleMaxPower),
				strconv.Itoa(a.PowerKW),
			)
			if err := cw.Write(append(row, suffix...)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable prints a human readable summary of every step.
func WriteTable(w io.Writer, res *scenarios.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s (%s)\n", res.Name, res.Strategy)
	fmt.Fprintln(tw, "STEP\tTIME\tACTION\tSESSION\tALLOCATIONS\tTOTAL\tAVAILABLE\tBATTERY\tFAIRNESS\tNOTES")
	for _, s := range res.Steps {
		allocs := ""
		for i, a := range s.Allocations {
			if i > 0 {
				allocs += " "
			}
			allocs += fmt.Sprintf("%s=%d", a.Session, a.PowerKW)
		}
		if allocs == "" {
			allocs = "-"
		}
		battery := "-"
		if s.BatteryCapacity != nil {
			battery = fmt.Sprintf("%.1fkWh@%dkW", *s.BatteryCapacity, s.BatteryPower)
		}
		notes := s.Error
		for _, m := range s.Mismatches {
			notes += " !" + m
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%.3f\t%s\n",
			s.Index, s.Time.Format("15:04"), s.Action, s.Session, allocs,
			s.AllocatedPower, s.AvailablePower, battery, s.Fairness, notes)
	}
	return tw.Flush()
}
