package main

import (
	"context"
	"database/sql"
	"reflect"
	"testing"

	"github.com/lox/flowcorrect/internal/models"
)

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func TestGaugeIDs(t *testing.T) {
	rows := []models.Assignment{
		{ReachID: "1", GaugeID: nullString("G2"), GaugeOfRecord: nullString("G1")},
		{ReachID: "2", GaugeID: nullString("G2")},
		{ReachID: "3"},
	}
	got := gaugeIDs(rows)
	if want := []string{"G1", "G2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("gaugeIDs = %v, want %v", got, want)
	}
}

func TestFilterReaches(t *testing.T) {
	rows := []models.Assignment{{ReachID: "1"}, {ReachID: "2"}, {ReachID: "3"}}
	got := filterReaches(rows, []string{"3.0", " 1"})
	if len(got) != 2 || got[0].ReachID != "1" || got[1].ReachID != "3" {
		t.Errorf("filterReaches = %+v", got)
	}
}

func TestNewAppOverrides(t *testing.T) {
	a, err := newApp(context.Background(), Globals{DB: "none", Workers: 3})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", a.cfg.Workers)
	}
	st, err := a.ledger()
	if err != nil || st != nil {
		t.Errorf("ledger = %v, %v; want disabled", st, err)
	}
}
