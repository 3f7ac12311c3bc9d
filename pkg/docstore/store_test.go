package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
}

func TestPutGetRoundTrip(t *testing.T) {
	openTestStore(t)
	doc := Document{Body: []byte(`{"a":1}`), ContentType: "application/json"}
	if err := Put("reports/2026/08", doc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := Get("reports/2026/08")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Body) != `{"a":1}` || got.ContentType != "application/json" {
		t.Fatalf("doc = %+v", got)
	}
	if got.Created.IsZero() {
		t.Fatalf("Created not stamped on put")
	}
	if !got.Expires.IsZero() {
		t.Fatalf("Expires = %v; want zero", got.Expires)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	openTestStore(t)
	if _, err := Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v; want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	openTestStore(t)
	if err := Put("gone", Document{Body: []byte("x")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := Delete("gone"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v; want ErrNotFound", err)
	}
}

func TestListPrefixAndLimit(t *testing.T) {
	openTestStore(t)
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		if err := Put(k, Document{Body: []byte(k)}); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	keys, err := List("a/", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a/1" || keys[2] != "a/3" {
		t.Fatalf("keys = %q", keys)
	}
	keys, err = List("a/", 2)
	if err != nil {
		t.Fatalf("List with limit: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("limited keys = %q", keys)
	}
	keys, err = List("", 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(keys) != 4 {
		t.Fatalf("all keys = %q", keys)
	}
}

func TestSweepExpired(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	docs := map[string]Document{
		"live":  {Body: []byte("l"), Expires: now.Add(time.Hour)},
		"dead1": {Body: []byte("d"), Expires: now.Add(-time.Hour)},
		"dead2": {Body: []byte("d"), Expires: now.Add(-time.Minute)},
		"keep":  {Body: []byte("k")},
	}
	for k, d := range docs {
		if err := Put(k, d); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	n, err := SweepExpired(now, 0, true)
	if err != nil || n != 2 {
		t.Fatalf("dry run = %d %v; want 2", n, err)
	}
	if _, err := Get("dead1"); err != nil {
		t.Fatalf("dry run removed dead1: %v", err)
	}

	n, err = SweepExpired(now, 1, false)
	if err != nil || n != 1 {
		t.Fatalf("batched sweep = %d %v; want 1", n, err)
	}
	n, err = SweepExpired(now, 0, false)
	if err != nil || n != 1 {
		t.Fatalf("second sweep = %d %v; want the remaining 1", n, err)
	}

	for _, k := range []string{"live", "keep"} {
		if _, err := Get(k); err != nil {
			t.Fatalf("%s swept by mistake: %v", k, err)
		}
	}
	if keys, _ := List("dead", 0); len(keys) != 0 {
		t.Fatalf("dead keys remain: %q", keys)
	}
}

func TestUsageCounts(t *testing.T) {
	openTestStore(t)
	for _, k := range []string{"u/1", "u/2"} {
		if err := Put(k, Document{Body: []byte(k)}); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	s := Usage()
	if s.Docs != 2 {
		t.Fatalf("Docs = %d; want 2", s.Docs)
	}
	if s.DiskBytes == 0 {
		t.Fatalf("DiskBytes = 0; want on-disk footprint")
	}
}

func TestRunImmediateRequiresRegistration(t *testing.T) {
	storedSweep = nil
	if _, err := RunImmediate(); err == nil {
		t.Fatalf("expected error without registered config")
	}
	openTestStore(t)
	storedSweep = &SweepConfig{BatchSize: 10}
	t.Cleanup(func() { storedSweep = nil })
	if err := Put("x", Document{Body: []byte("x"), Expires: time.Now().UTC().Add(-time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := RunImmediate()
	if err != nil || n != 1 {
		t.Fatalf("RunImmediate = %d %v; want 1", n, err)
	}
}

func TestStartSweeperValidatesCron(t *testing.T) {
	if _, err := StartSweeper(context.Background(), SweepConfig{Enabled: true, Cron: "not a cron"}); err == nil {
		t.Fatalf("invalid cron accepted")
	}
	cancel, err := StartSweeper(context.Background(), SweepConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled sweeper: %v", err)
	}
	cancel()
}

func TestMigrateStampsAndReopens(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := Put("k", Document{Body: []byte("v")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// the version stamp must stay out of listings
	keys, err := List("", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("keys = %v; want [k]", keys)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Open(dir); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer Close()
	if _, err := Get("k"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Set(sysVersionKey, []byte("99"), pebble.Sync); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Open(dir); err == nil {
		_ = Close()
		t.Fatal("expected open to fail against a newer schema")
	}
}
