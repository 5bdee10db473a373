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

package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mlnoga/sensornoise/internal/fit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(dataset string, created time.Time) *Run {
	return &Run{
		RunSummary: RunSummary{
			Created:       created,
			Dataset:       dataset,
			CFA:           "GBRG",
			Threshold:     200,
			Sensitivities: []int{0, 3, 9},
		},
		Gain: &fit.GainFit{
			Gain:     [][]float64{{0.5, 1, 2}, {0.6, 1.1, 2.1}, {0.7, 1.2, 2.2}},
			Delta:    [][]float64{{1, 2, 3}, {1.5, 2.5, 3.5}, {2, 3, 4}},
			RSquared: [][]float64{{0.99, 0.98, 0.97}, {0.9, 0.91, 0.92}, {1, 1, 1}},
			Points:   [][]int{{100, 90, 80}, {200, 180, 160}, {100, 90, 80}},
		},
		ReadNoise: &fit.ReadNoiseFit{
			SigmaRead: []float64{0.66, 0.7, 0.75},
			SigmaADC:  []float64{0.7, 1.1, 1.5},
			RSquared:  []float64{0.99, 0.98, 0.97},
		},
	}
}

func TestSaveGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := testRun("data", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		t.Errorf("id=%q; want uuid: %v", r.ID, err)
	}
	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Created.Equal(r.Created) {
		t.Errorf("created=%v; want %v", got.Created, r.Created)
	}
	got.Created = r.Created
	if !reflect.DeepEqual(got, r) {
		t.Errorf("run=%+v; want %+v", got, r)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v; want ErrNotFound", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		if err := s.SaveRun(ctx, testRun(name, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Dataset != "third" || all[2].Dataset != "first" {
		t.Errorf("runs=%+v; want third, second, first", all)
	}
	two, _ := s.ListRuns(ctx, 2)
	if len(two) != 2 {
		t.Errorf("len=%d; want 2", len(two))
	}
	if !reflect.DeepEqual(all[1].Sensitivities, []int{0, 3, 9}) {
		t.Errorf("sensitivities=%v; want [0 3 9]", all[1].Sensitivities)
	}
}

func TestSaveRunRejectsIncompleteAndDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, &Run{}); err == nil {
		t.Errorf("err=nil; want error for incomplete run")
	}
	r := testRun("data", time.Now())
	if err := s.SaveRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, r); err == nil {
		t.Errorf("err=nil; want error for duplicate id")
	}
	runs, _ := s.ListRuns(ctx, 0)
	if len(runs) != 1 {
		t.Errorf("runs=%d; want 1 after failed duplicate insert", len(runs))
	}
}
