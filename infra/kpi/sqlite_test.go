package kpi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/events"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kpi.db"))
	require.NoError(t, err)
	defer s.Close()

	day1 := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, s.Add(ctx, Record{StationID: "S", ChargerID: "CP001", Date: day1, Sessions: 1, EnergyKWh: 20}))
	require.NoError(t, s.Add(ctx, Record{StationID: "S", ChargerID: "CP001", Date: day1.Add(5 * time.Hour), Sessions: 1, EnergyKWh: 12.5}))
	require.NoError(t, s.Add(ctx, Record{StationID: "S", ChargerID: "CP002", Date: day1, Sessions: 1, EnergyKWh: 7}))
	require.NoError(t, s.Add(ctx, Record{StationID: "S", ChargerID: "CP001", Date: day2, Sessions: 1, EnergyKWh: 3}))

	recs, err := s.Query(ctx, "CP001", day1, day1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Day(day1), recs[0].Date)
	assert.Equal(t, 2, recs[0].Sessions)
	assert.InDelta(t, 32.5, recs[0].EnergyKWh, 1e-9)

	recs, err = s.Query(ctx, "", day1, day2)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "CP001", recs[0].ChargerID)
	assert.Equal(t, "CP002", recs[1].ChargerID)
	assert.Equal(t, Day(day2), recs[2].Date)
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("CEST", 2*3600)
	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), Day(time.Date(2024, 6, 1, 1, 0, 0, 0, loc)))
}

func TestSQLiteStore_RecordStop(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kpi.db"))
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2024, 6, 1, 22, 15, 0, 0, time.UTC)
	for _, e := range []float64{10, 4.5} {
		require.NoError(t, s.RecordStop(ctx, events.SessionEvent{
			StationID: "S", Action: events.SessionStopped, ChargerID: "CP003", Time: at, ConsumedEnergy: e,
		}))
	}
	recs, err := s.Query(ctx, "CP003", at, at)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Sessions)
	assert.InDelta(t, 14.5, recs[0].EnergyKWh, 1e-9)
}
