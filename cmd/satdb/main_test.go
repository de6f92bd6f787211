package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseInstant(t *testing.T) {
	now := time.Date(2024, time.May, 1, 8, 30, 0, 0, time.FixedZone("CEST", 7200))
	cases := []struct {
		in   string
		want time.Time
	}{
		{"", now.UTC()},
		{"NOW", now.UTC()},
		{"2019-09-06T01:10:02Z", time.Date(2019, time.September, 6, 1, 10, 2, 0, time.UTC)},
		{"2019-09-06T03:10:02+02:00", time.Date(2019, time.September, 6, 1, 10, 2, 0, time.UTC)},
		{"2019-09-06T01:10:02", time.Date(2019, time.September, 6, 1, 10, 2, 0, time.UTC)},
		{"2019-09-06", time.Date(2019, time.September, 6, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseInstant(tc.in, now)
		if err != nil {
			t.Fatalf("parseInstant(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Fatalf("parseInstant(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	var uerr usageError
	if _, err := parseInstant("yesterday", now); !errors.As(err, &uerr) {
		t.Fatalf("parseInstant(yesterday) err = %v, want usageError", err)
	}
}

func TestParseCatalogIDs(t *testing.T) {
	ids, err := parseCatalogIDs([]string{"25544", " 5 "})
	if err != nil || len(ids) != 2 || ids[0] != 25544 || ids[1] != 5 {
		t.Fatalf("parseCatalogIDs = %v, %v", ids, err)
	}
	for _, bad := range []string{"0", "-3", "ISS"} {
		if _, err := parseCatalogIDs([]string{bad}); err == nil {
			t.Fatalf("parseCatalogIDs(%q) should fail", bad)
		}
	}
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	if code := run(nil, &out); code != 2 {
		t.Fatalf("run() = %d, want 2", code)
	}
	if code := run([]string{"frobnicate"}, &out); code != 2 {
		t.Fatalf("run(frobnicate) = %d, want 2", code)
	}
	if code := run([]string{"tle2db", "-dry-run"}, &out); code != 2 {
		t.Fatalf("run(tle2db -dry-run) without files = %d, want 2", code)
	}
}

func TestRunDryRunLoadsTLE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iss.tle")
	text := "ISS (ZARYA)\n" +
		"1 25544U 98067A   19249.04864348  .00001909  00000-0  40858-4 0  9990\n" +
		"2 25544  51.6464 320.1755 0007999  10.9066  53.2893 15.50437522187805\n"
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	var out bytes.Buffer
	if code := run([]string{"tle2db", "-dry-run", path}, &out); code != 0 {
		t.Fatalf("run(tle2db -dry-run) = %d, want 0", code)
	}
	if got := out.String(); !strings.Contains(got, "1 seen, 1 inserted, 0 duplicates, 0 rejected") {
		t.Fatalf("unexpected output %q", got)
	}
}
