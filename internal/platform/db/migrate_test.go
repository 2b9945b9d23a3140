package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	m := NewMigrator(nil, Migrations, "migrations", "")
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_journey_state.sql" {
		t.Errorf("first migration = %d %s", migrations[0].Version, migrations[0].Name)
	}
	if m.schema != "public" {
		t.Errorf("default schema = %q", m.schema)
	}
}

func TestLoadMigrations_SortAndSkip(t *testing.T) {
	files := fstest.MapFS{
		"m/010_tables.sql":  {Data: []byte("SELECT 10;")},
		"m/002_second.sql":  {Data: []byte("SELECT 2;")},
		"m/001_first.sql":   {Data: []byte("SELECT 1;")},
		"m/README.md":       {Data: []byte("docs")},
		"m/nonumber.sql":    {Data: []byte("SELECT 0;")},
		"m/abc_letters.sql": {Data: []byte("SELECT 0;")},
		"m/sub/003_x.sql":   {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, files, "m", "public").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	want := []int{1, 2, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migrations[%d].Version = %d, want %d", i, migrations[i].Version, v)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, fstest.MapFS{}, "nope", "").LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_journey_state.sql"},
		{Version: 2, Name: "002_next.sql"},
	}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migrations, applied)
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("pending = %+v", pending)
	}

	st := Statuses(migrations, applied)
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("status[0] = %+v", st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("status[1] = %+v", st[1])
	}
}
