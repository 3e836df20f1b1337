package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"goa.design/clue/log"
)

// Column aliases accepted in historical database exports. The files come from
// several upstream systems, so header names vary.
var historicalColumns = map[string][]string{
	"HistEventID": {"historicaleventid", "histeventid", "hist_event_id", "eventid", "event_id"},
	"EventName":   {"eventname", "event_name", "name"},
	"Year":        {"year"},
	"EventDate":   {"eventdate", "event_date", "date"},
	"PCSCode":     {"pcsid", "pcs_id", "pcscode", "pcs_code", "pcs"},
}

var (
	fourDigitYear = regexp.MustCompile(`(\d{4})`)
	twoDigitDate  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{2})$`)
)

// LoadHistoricalEventsCSV parses a historical event database export. Rows
// missing an event ID, name or resolvable year are skipped.
func LoadHistoricalEventsCSV(path string) ([]HistoricalEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read historical database: %w", err)
	}
	header := string(data)
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}

	r := csv.NewReader(strings.NewReader(string(data)))
	r.Comma = detectDelimiter(header)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read historical database: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("historical database %s is empty", path)
	}

	mapping := mapColumnNames(records[0], historicalColumns)
	if missing := missingColumns(mapping, "HistEventID", "EventName"); len(missing) > 0 {
		return nil, fmt.Errorf("historical database %s is missing required columns: %s",
			path, strings.Join(missing, ", "))
	}

	var events []HistoricalEvent
	for i, row := range records[1:] {
		byName := rowByColumn(records[0], row)
		id := strings.TrimSpace(byName[mapping["HistEventID"]])
		name := strings.TrimSpace(byName[mapping["EventName"]])
		date := strings.TrimSpace(byName[mapping["EventDate"]])
		year := strings.TrimSpace(byName[mapping["Year"]])
		if year == "" {
			year = yearFromDate(date)
		}
		if id == "" || name == "" || year == "" {
			continue
		}
		events = append(events, HistoricalEvent{
			HistEventID: id,
			EventName:   name,
			Year:        year,
			EventDate:   date,
			PCSCode:     strings.TrimSpace(byName[mapping["PCSCode"]]),
			SourceRow:   i + 2,
		})
	}
	return events, nil
}

// Seed loads the CSV at path and writes it into the store when the historical
// collection is still empty.
func Seed(ctx context.Context, c Client, path string) error {
	events, err := LoadHistoricalEventsCSV(path)
	if err != nil {
		return err
	}
	n, err := c.SeedHistoricalEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("seed historical events: %w", err)
	}
	if n > 0 {
		log.Info(ctx, log.KV{K: "msg", V: "seeded historical event database"},
			log.KV{K: "path", V: path}, log.KV{K: "events", V: n})
	}
	return nil
}

// detectDelimiter picks the separator that occurs most often in the header.
func detectDelimiter(header string) rune {
	best := ','
	bestCount := strings.Count(header, ",")
	if n := strings.Count(header, ";"); n > bestCount {
		best, bestCount = ';', n
	}
	if n := strings.Count(header, "\t"); n > bestCount {
		best = '\t'
	}
	return best
}

// mapColumnNames resolves expected logical columns to the actual header names
// using case-insensitive alias matching.
func mapColumnNames(header []string, expected map[string][]string) map[string]string {
	mapping := make(map[string]string, len(expected))
	for logical, aliases := range expected {
		for _, col := range header {
			normalized := strings.ToLower(strings.TrimSpace(col))
			for _, alias := range aliases {
				if normalized == alias {
					mapping[logical] = col
					break
				}
			}
			if _, ok := mapping[logical]; ok {
				break
			}
		}
	}
	return mapping
}

func missingColumns(mapping map[string]string, required ...string) []string {
	var missing []string
	for _, r := range required {
		if mapping[r] == "" {
			missing = append(missing, r)
		}
	}
	return missing
}

func rowByColumn(header, row []string) map[string]string {
	out := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(row) {
			out[col] = row[i]
		}
	}
	return out
}

// yearFromDate extracts a 4-digit year from a date string, converting
// 2-digit m/d/yy years by assuming the 2000s.
func yearFromDate(date string) string {
	if date == "" {
		return ""
	}
	if m := fourDigitYear.FindStringSubmatch(date); m != nil {
		return m[1]
	}
	if m := twoDigitDate.FindStringSubmatch(date); m != nil {
		yy, err := strconv.Atoi(m[3])
		if err != nil {
			return ""
		}
		return strconv.Itoa(2000 + yy)
	}
	return ""
}
