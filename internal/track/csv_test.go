package track

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadCSVHeaderAliases(t *testing.T) {
	// Headers as exported by the tagging vendor: mixed case, bracketed UTC.
	input := "VULTURE_ID,Timestamp [UTC],LAT,LON,Height\n" +
		"V01,2024-06-01T10:00:00Z,48.1,11.5,420\n" +
		"V02,2024-06-01 10:05:00,48.2,11.6,\n"

	points, reports, err := ReadCSV(strings.NewReader(input), "fallback")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(points["V01"]) != 1 || len(points["V02"]) != 1 {
		t.Fatalf("points = %v", points)
	}
	if !points["V01"][0].HasAltitude() {
		t.Error("V01 altitude should be present")
	}
	if points["V02"][0].HasAltitude() {
		t.Error("V02 altitude should be absent")
	}
	for _, r := range reports {
		if r.Skipped != 0 {
			t.Errorf("unexpected skips: %+v", r)
		}
	}
}

func TestReadCSVSkipsMalformedRows(t *testing.T) {
	input := "entity_id,timestamp,latitude,longitude\n" +
		"A,2024-06-01T10:00:00Z,48.1,11.5\n" +
		"A,not-a-time,48.1,11.5\n" +
		"A,2024-06-01T10:10:00Z,not-a-number,11.5\n" +
		"A,2024-06-01T10:15:00Z,48.2,11.6\n"

	points, reports, err := ReadCSV(strings.NewReader(input), "A")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(points["A"]) != 2 {
		t.Errorf("accepted %d points, want 2", len(points["A"]))
	}
	if len(reports) != 1 || reports[0].Skipped != 2 {
		t.Errorf("reports = %+v, want 1 report with 2 skips", reports)
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	input := "entity_id,timestamp,latitude\nA,2024-06-01T10:00:00Z,48.1\n"
	if _, _, err := ReadCSV(strings.NewReader(input), "A"); err == nil {
		t.Fatal("expected error for missing longitude column")
	}
}

func TestLoadFileUsesBasenameAsEntity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "V07.csv")
	content := "timestamp,latitude,longitude\n2024-06-01T10:00:00Z,48.1,11.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := NewStore()
	reports, err := LoadFile(s, path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Track("V07") == nil || s.Track("V07").Len() != 1 {
		t.Fatalf("entity V07 not loaded: %v", s.Entities())
	}
	if len(reports) != 1 || reports[0].EntityID != "V07" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "b.CSV"} {
		content := "timestamp,latitude,longitude\n2024-06-01T10:00:00Z,48.1,11.5\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	// Non-CSV files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := NewStore()
	if _, err := LoadDir(s, dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("store has %d entities, want 2 (%v)", s.Len(), s.Entities())
	}
}
