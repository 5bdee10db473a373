// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package store persists characterization results in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mlnoga/sensornoise/internal/fit"
	_ "modernc.org/sqlite"
)

// Returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		created       INTEGER NOT NULL,
		dataset       TEXT NOT NULL,
		cfa           TEXT NOT NULL,
		threshold     REAL NOT NULL,
		sensitivities TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS gains (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		channel     INTEGER NOT NULL,
		sens_index  INTEGER NOT NULL,
		gain        REAL NOT NULL,
		delta       REAL NOT NULL,
		r_squared   REAL NOT NULL,
		points      INTEGER NOT NULL,
		PRIMARY KEY (run_id, channel, sens_index)
	)`,
	`CREATE TABLE IF NOT EXISTS read_noise (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		channel     INTEGER NOT NULL,
		sigma_read  REAL NOT NULL,
		sigma_adc   REAL NOT NULL,
		r_squared   REAL NOT NULL,
		PRIMARY KEY (run_id, channel)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created)`,
}

// Summary of a stored run
type RunSummary struct {
	ID            string    `json:"id"            msgpack:"id"`
	Created       time.Time `json:"created"       msgpack:"created"`
	Dataset       string    `json:"dataset"       msgpack:"dataset"`
	CFA           string    `json:"cfa"           msgpack:"cfa"`
	Threshold     float64   `json:"threshold"     msgpack:"threshold"`
	Sensitivities []int     `json:"sensitivities" msgpack:"sensitivities"`
}

// A stored run with its fitted parameters
type Run struct {
	RunSummary
	Gain      *fit.GainFit      `json:"gain"      msgpack:"gain"`
	ReadNoise *fit.ReadNoiseFit `json:"readNoise" msgpack:"readNoise"`
}

// Database of characterization runs
type Store struct {
	db *sql.DB
}

// Opens or creates the database file at the given path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Wraps an open database, creating the tables if needed
func New(db *sql.DB) (*Store, error) {
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Stores a run. Assigns a new id and creation time if unset
func (s *Store) SaveRun(ctx context.Context, r *Run) error {
	if r.Gain == nil || r.ReadNoise == nil {
		return errors.New("SaveRun: incomplete run")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created, dataset, cfa, threshold, sensitivities) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Created.UnixNano(), r.Dataset, r.CFA, r.Threshold, joinInts(r.Sensitivities)); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	for c := range r.Gain.Gain {
		for si := range r.Gain.Gain[c] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO gains (run_id, channel, sens_index, gain, delta, r_squared, points) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, c, si, r.Gain.Gain[c][si], r.Gain.Delta[c][si], r.Gain.RSquared[c][si], r.Gain.Points[c][si]); err != nil {
				return fmt.Errorf("inserting gain: %w", err)
			}
		}
	}
	for c := range r.ReadNoise.SigmaRead {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO read_noise (run_id, channel, sigma_read, sigma_adc, r_squared) VALUES (?, ?, ?, ?, ?)`,
			r.ID, c, r.ReadNoise.SigmaRead[c], r.ReadNoise.SigmaADC[c], r.ReadNoise.RSquared[c]); err != nil {
			return fmt.Errorf("inserting read noise: %w", err)
		}
	}
	return tx.Commit()
}

// Lists the most recent runs, newest first. A limit of 0 or less lists all
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	q := `SELECT id, created, dataset, cfa, threshold, sensitivities FROM runs ORDER BY created DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []RunSummary{}
	for rows.Next() {
		rs, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rs)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var rs RunSummary
	var created int64
	var sens string
	if err := row.Scan(&rs.ID, &created, &rs.Dataset, &rs.CFA, &rs.Threshold, &sens); err != nil {
		return rs, err
	}
	rs.Created = time.Unix(0, created).UTC()
	ints, err := splitInts(sens)
	if err != nil {
		return rs, fmt.Errorf("run %s: %w", rs.ID, err)
	}
	rs.Sensitivities = ints
	return rs, nil
}

// Loads the run with the given id and its fitted parameters
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created, dataset, cfa, threshold, sensitivities FROM runs WHERE id = ?`, id)
	rs, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	r := &Run{RunSummary: rs}
	if r.Gain, err = s.loadGains(ctx, id); err != nil {
		return nil, err
	}
	if r.ReadNoise, err = s.loadReadNoise(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) loadGains(ctx context.Context, id string) (*fit.GainFit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, sens_index, gain, delta, r_squared, points FROM gains WHERE run_id = ? ORDER BY channel, sens_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := &fit.GainFit{}
	for rows.Next() {
		var c, si, points int
		var gain, delta, r2 float64
		if err := rows.Scan(&c, &si, &gain, &delta, &r2, &points); err != nil {
			return nil, err
		}
		for len(g.Gain) <= c {
			g.Gain, g.Delta = append(g.Gain, nil), append(g.Delta, nil)
			g.RSquared, g.Points = append(g.RSquared, nil), append(g.Points, nil)
		}
		if si != len(g.Gain[c]) {
			return nil, fmt.Errorf("run %s: gaps in gains of channel %d", id, c)
		}
		g.Gain[c], g.Delta[c] = append(g.Gain[c], gain), append(g.Delta[c], delta)
		g.RSquared[c], g.Points[c] = append(g.RSquared[c], r2), append(g.Points[c], points)
	}
	return g, rows.Err()
}

func (s *Store) loadReadNoise(ctx context.Context, id string) (*fit.ReadNoiseFit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sigma_read, sigma_adc, r_squared FROM read_noise WHERE run_id = ? ORDER BY channel`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := &fit.ReadNoiseFit{SigmaRead: []float64{}, SigmaADC: []float64{}, RSquared: []float64{}}
	for rows.Next() {
		var read, adc, r2 float64
		if err := rows.Scan(&read, &adc, &r2); err != nil {
			return nil, err
		}
		r.SigmaRead, r.SigmaADC, r.RSquared = append(r.SigmaRead, read), append(r.SigmaADC, adc), append(r.RSquared, r2)
	}
	return r, rows.Err()
}

func joinInts(ints []int) string {
	s := make([]string, len(ints))
	for i, v := range ints {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	res := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}
