// Package kpi keeps daily energy totals per charger, fed by session stop
// events.
package kpi

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/evstation/core/events"
)

// Record aggregates the sessions a charger finished on one UTC day.
type Record struct {
	StationID string    `json:"station_id"`
	ChargerID string    `json:"charger_id"`
	Date      time.Time `json:"date"`
	Sessions  int       `json:"sessions"`
	EnergyKWh float64   `json:"energy_kwh"`
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SQLiteStore persists KPI records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS charger_energy (
        station_id TEXT,
        charger_id TEXT,
        day INTEGER,
        sessions INTEGER,
        energy REAL,
        PRIMARY KEY(station_id, charger_id, day)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Add merges the record into the totals of its day.
func (s *SQLiteStore) Add(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO charger_energy (station_id, charger_id, day, sessions, energy)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(station_id, charger_id, day) DO UPDATE SET
            sessions = sessions + excluded.sessions,
            energy = energy + excluded.energy`,
		r.StationID, r.ChargerID, Day(r.Date).Unix(), r.Sessions, r.EnergyKWh)
	return err
}

// RecordStop adds a stopped session to the totals of its charger and day.
func (s *SQLiteStore) RecordStop(ctx context.Context, ev events.SessionEvent) error {
	return s.Add(ctx, Record{
		StationID: ev.StationID,
		ChargerID: ev.ChargerID,
		Date:      ev.Time,
		Sessions:  1,
		EnergyKWh: ev.ConsumedEnergy,
	})
}

// Query returns the records of the days in [start,end]. An empty chargerID
// matches every charger.
func (s *SQLiteStore) Query(ctx context.Context, chargerID string, start, end time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT station_id, charger_id, day, sessions, energy
        FROM charger_energy WHERE (? = '' OR charger_id = ?) AND day >= ? AND day <= ?
        ORDER BY day, charger_id`,
		chargerID, chargerID, Day(start).Unix(), Day(end).Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var r Record
		var ts int64
		if err := rows.Scan(&r.StationID, &r.ChargerID, &ts, &r.Sessions, &r.EnergyKWh); err != nil {
			return nil, err
		}
		r.Date = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
