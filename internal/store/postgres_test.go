package store

import (
    "database/sql"
    "encoding/hex"
    "os"
    "regexp"
    "strings"
    "testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
    body := []byte(`{"id":"evt_123","type":"x"}`)
    got := computeDedupKey(body)
    if got != "evt_123" {
        t.Fatalf("want evt_123, got %s", got)
    }
}

func TestComputeDedupKeyFromHash(t *testing.T) {
    body := []byte(`{"notId":"x"}`)
    got := computeDedupKey(body)
    // hex-encoded first 8 bytes -> 16 hex chars
    b, err := hex.DecodeString(got)
    if err != nil {
        t.Fatalf("invalid hex: %v", err)
    }
    if len(b) != 8 {
        t.Fatalf("expected 8 bytes, got %d", len(b))
    }
}

func TestNullIfEmpty(t *testing.T) {
    if v := nullIfEmpty(""); v != nil {
        t.Fatalf("empty -> nil expected")
    }
    if v := nullIfEmpty("  "); v != nil {
        t.Fatalf("blank -> nil expected")
    }
    if v := nullIfEmpty("a"); v != "a" {
        t.Fatalf("non-empty passthrough expected, got %v", v)
    }
}

func TestNextCursor(t *testing.T) {
    last := func() string { return "z" }
    if c := nextCursor(0, 10, last); c != "" {
        t.Fatalf("empty page -> no cursor, got %q", c)
    }
    if c := nextCursor(3, 10, last); c != "" {
        t.Fatalf("short page -> no cursor, got %q", c)
    }
    if c := nextCursor(10, 10, last); c != "z" {
        t.Fatalf("full page -> last id, got %q", c)
    }
}

func TestPointRoundTrip(t *testing.T) {
    if p := pointFrom(sql.NullFloat64{}, sql.NullFloat64{Float64: 2, Valid: true}); p != nil {
        t.Fatalf("partial point -> nil expected")
    }
    p := pointFrom(sql.NullFloat64{Float64: 48.85, Valid: true}, sql.NullFloat64{Float64: 2.35, Valid: true})
    if p == nil || p.Lat != 48.85 || p.Lng != 2.35 {
        t.Fatalf("unexpected point %+v", p)
    }
    lat, lng := pointArgs(nil)
    if lat != nil || lng != nil {
        t.Fatalf("nil point -> NULL args expected")
    }
}

func TestMigrationFilesArePaired(t *testing.T) {
    entries, err := os.ReadDir("../../db/migrations")
    if err != nil { t.Fatalf("read migrations: %v", err) }
    name := regexp.MustCompile(`^[0-9]+_[a-z0-9_]+\.(up|down)\.sql$`)
    ups, downs := map[string]bool{}, map[string]bool{}
    for _, e := range entries {
        if !name.MatchString(e.Name()) { t.Fatalf("migration %s does not follow {version}_{name}.(up|down).sql", e.Name()) }
        if base, ok := strings.CutSuffix(e.Name(), ".up.sql"); ok { ups[base] = true }
        if base, ok := strings.CutSuffix(e.Name(), ".down.sql"); ok { downs[base] = true }
    }
    if len(ups) == 0 { t.Fatal("no up migrations") }
    for base := range ups {
        if !downs[base] { t.Fatalf("%s has no down migration", base) }
    }
}
