package kpi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/infra/kpi"
)

func TestEnergyHandler(t *testing.T) {
	store, err := kpi.NewSQLiteStore(filepath.Join(t.TempDir(), "kpi.db"))
	require.NoError(t, err)
	defer store.Close()
	day := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, kpi.Record{StationID: "S", ChargerID: "CP001", Date: day, Sessions: 1, EnergyKWh: 20}))
	require.NoError(t, store.Add(ctx, kpi.Record{StationID: "S", ChargerID: "CP002", Date: day.Add(-24 * time.Hour), Sessions: 1, EnergyKWh: 5}))

	h := NewEnergyHandler(store, func() time.Time { return day })

	get := func(query string) (*httptest.ResponseRecorder, []kpi.Record) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kpi/energy"+query, nil))
		var out []kpi.Record
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		}
		return rec, out
	}

	rec, out := get("")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 1)
	assert.Equal(t, "CP001", out[0].ChargerID)

	_, out = get("?start=2024-05-31&end=2024-06-01")
	assert.Len(t, out, 2)

	_, out = get("?start=2024-05-31&end=2024-06-01&charger_id=CP002")
	require.Len(t, out, 1)
	assert.Equal(t, 5.0, out[0].EnergyKWh)

	rec, out = get("?start=2024-01-01&end=2024-01-02")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Empty(t, out)

	rec, _ = get("?start=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = get("?start=2024-06-02&end=2024-06-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/kpi/energy", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
