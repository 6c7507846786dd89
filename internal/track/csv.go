package track

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field sources vary across tagging hardware; headers are matched
// case-insensitively against these aliases.
var columnAliases = map[string]string{
	"entity_id":       "entity_id",
	"vulture_id":      "entity_id",
	"animal_id":       "entity_id",
	"id":              "entity_id",
	"timestamp":       "timestamp",
	"timestamp [utc]": "timestamp",
	"time":            "timestamp",
	"latitude":        "latitude",
	"lat":             "latitude",
	"longitude":       "longitude",
	"lon":             "longitude",
	"lng":             "longitude",
	"altitude":        "altitude",
	"alt":             "altitude",
	"height":          "altitude",
	"elevation":       "altitude",
}

// timestampLayouts are tried in order when parsing sample times. All parsed
// times are normalized to UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601-ish timestamp and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ReadCSV parses one entity's GPS samples from r. defaultEntity is used for
// rows that carry no entity column (one-file-per-animal exports). Rows that
// fail to parse are skipped and counted in the per-entity quality reports;
// a parse failure never aborts the load.
func ReadCSV(r io.Reader, defaultEntity string) (map[string][]GPSPoint, []QualityReport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read CSV header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{"timestamp", "latitude", "longitude"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	points := make(map[string][]GPSPoint)
	issues := make(map[string][]QualityIssue)
	skipped := make(map[string]int)

	rowIdx := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read CSV row: %w", err)
		}
		rowIdx++

		entity := defaultEntity
		if idx, ok := cols["entity_id"]; ok && idx < len(record) && strings.TrimSpace(record[idx]) != "" {
			entity = strings.TrimSpace(record[idx])
		}

		p, err := parseRow(record, cols)
		if err != nil {
			skipped[entity]++
			issues[entity] = append(issues[entity], QualityIssue{Index: rowIdx, Reason: err.Error()})
			continue
		}
		points[entity] = append(points[entity], p)
	}

	entities := make([]string, 0, len(points))
	for id := range points {
		entities = append(entities, id)
	}
	for id := range skipped {
		if _, ok := points[id]; !ok {
			entities = append(entities, id)
		}
	}
	sort.Strings(entities)

	reports := make([]QualityReport, 0, len(entities))
	for _, id := range entities {
		reports = append(reports, QualityReport{
			EntityID: id,
			Accepted: len(points[id]),
			Skipped:  skipped[id],
			Issues:   issues[id],
		})
	}
	return points, reports, nil
}

func parseRow(record []string, cols map[string]int) (GPSPoint, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	ts, err := ParseTimestamp(field("timestamp"))
	if err != nil {
		return GPSPoint{}, err
	}

	lat, err := strconv.ParseFloat(field("latitude"), 64)
	if err != nil {
		return GPSPoint{}, fmt.Errorf("bad latitude %q", field("latitude"))
	}
	lon, err := strconv.ParseFloat(field("longitude"), 64)
	if err != nil {
		return GPSPoint{}, fmt.Errorf("bad longitude %q", field("longitude"))
	}

	alt := math.NaN()
	if s := field("altitude"); s != "" {
		// A malformed altitude degrades to "absent" rather than dropping
		// the whole sample.
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			alt = v
		}
	}

	return GPSPoint{Timestamp: ts, Latitude: lat, Longitude: lon, Altitude: alt}, nil
}

// LoadFile reads one CSV file into the store. The file's base name (without
// extension) is the fallback entity ID for rows without an entity column.
func LoadFile(s *Store, path string) ([]QualityReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	points, reports, err := ReadCSV(f, base)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for entity, pts := range points {
		r := s.AddPoints(entity, pts)
		for i := range reports {
			if reports[i].EntityID == entity {
				reports[i].Skipped += r.Skipped
				reports[i].Accepted = r.Accepted
				reports[i].Issues = append(reports[i].Issues, r.Issues...)
			}
		}
	}
	return reports, nil
}

// LoadDir loads every .csv file under dir into the store.
func LoadDir(s *Store, dir string) ([]QualityReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read track dir %s: %w", dir, err)
	}

	var all []QualityReport
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		reports, err := LoadFile(s, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, reports...)
	}
	return all, nil
}
