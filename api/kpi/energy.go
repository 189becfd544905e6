// Package kpi exposes the daily charger energy totals over HTTP.
package kpi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/evstation/infra/kpi"
)

// Store is the read side of the KPI store.
type Store interface {
	Query(ctx context.Context, chargerID string, start, end time.Time) ([]kpi.Record, error)
}

const dayLayout = "2006-01-02"

// NewEnergyHandler serves GET /api/kpi/energy?charger_id=&start=&end= with
// dates formatted as YYYY-MM-DD. The range defaults to the current day.
func NewEnergyHandler(store Store, now func() time.Time) http.Handler {
	if now == nil {
		now = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		params := r.URL.Query()
		today := kpi.Day(now())
		start, end := today, today
		for name, dst := range map[string]*time.Time{"start": &start, "end": &end} {
			v := params.Get(name)
			if v == "" {
				continue
			}
			t, err := time.Parse(dayLayout, v)
			if err != nil {
				http.Error(w, "invalid "+name+": expected YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			*dst = t
		}
		if end.Before(start) {
			http.Error(w, "end is before start", http.StatusBadRequest)
			return
		}
		recs, err := store.Query(r.Context(), params.Get("charger_id"), start, end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []kpi.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})
}
