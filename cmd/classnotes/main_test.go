package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/database"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"go.uber.org/zap"
)

func TestLocalMigrationNormalizesLegacyKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")

	legacy, err := database.OpenSQLite(database.Options{
		Path:   path,
		Logger: zap.NewNop(),
		Models: []any{&localstore.Item{}},
	})
	if err != nil {
		t.Fatalf("failed to open legacy database: %v", err)
	}
	storage, err := localstore.NewSQLiteStorage(localstore.SQLiteStorageConfig{Database: legacy})
	if err != nil {
		t.Fatalf("failed to construct storage: %v", err)
	}
	queued := `[{"id":"a","type":"gallery","class":"10-M","fileName":"img_1","timestamp":1},` +
		`{"id":"b","type":"delete_image","class":"10-M","fileName":"img_2","timestamp":2}]`
	if err := storage.SetItem(pending.StorageKey, queued); err != nil {
		t.Fatalf("failed to seed queue: %v", err)
	}
	closeDatabase(legacy)

	db, err := openLocalDatabase(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open local database: %v", err)
	}
	defer closeDatabase(db)

	storage, err = localstore.NewSQLiteStorage(localstore.SQLiteStorageConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct storage: %v", err)
	}
	raw, ok, err := storage.GetItem(pending.StorageKey)
	if err != nil || !ok {
		t.Fatalf("expected the queue to survive, got ok=%v err=%v", ok, err)
	}
	var entries []pending.Change
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("failed to decode queue: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != pending.KindGalleryAdd || entries[1].Kind != pending.KindGalleryDelete {
		t.Fatalf("unexpected kinds after migration: %+v", entries)
	}
}

func TestSimulateSnowReportsEverySecond(t *testing.T) {
	var out bytes.Buffer
	err := simulateSnow(context.Background(), &out, simulation{
		seconds: 3,
		stormAt: -1,
		meltAt:  -1,
		seed:    7,
		width:   1280,
		height:  720,
	})
	if err != nil {
		t.Fatalf("simulation failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), out.String())
	}
	if lines[0] != "t=0s flakes=100" {
		t.Fatalf("expected the default population first, got %q", lines[0])
	}
}

func TestSimulateSnowStormAndMelt(t *testing.T) {
	var out bytes.Buffer
	err := simulateSnow(context.Background(), &out, simulation{
		seconds: 1,
		stormAt: 0,
		meltAt:  -1,
		seed:    7,
		width:   1280,
		height:  720,
	})
	if err != nil {
		t.Fatalf("storm simulation failed: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), " storm") {
		t.Fatalf("expected the storm to be reported, got %q", out.String())
	}

	out.Reset()
	err = simulateSnow(context.Background(), &out, simulation{
		seconds: 10,
		stormAt: -1,
		meltAt:  0,
		seed:    7,
		width:   1280,
		height:  720,
	})
	if err != nil {
		t.Fatalf("melt simulation failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if last := lines[len(lines)-1]; last != "t=10s flakes=0 melting" {
		t.Fatalf("expected the snow to be gone, got %q", last)
	}
}
