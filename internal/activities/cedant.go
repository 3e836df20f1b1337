package activities

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/store"
)

// Cedant implements the ledger population and reporting activities.
type Cedant struct {
	store       store.Client
	bridge      *BridgeClient
	mappingPath string
	exportDir   string
}

// NewCedant builds the cedant activities. mappingPath is the Program ID to
// Loss Data ID map CSV; exportDir is where diff reports are written when the
// caller gives no explicit path.
func NewCedant(st store.Client, tc client.Client, mappingPath, exportDir string) *Cedant {
	return &Cedant{store: st, bridge: NewBridgeClient(tc), mappingPath: mappingPath, exportDir: exportDir}
}

// PopulateCedantData turns the historical matches stored on the bridge into
// cedant ledger records: it resolves the Loss Data ID for the program, maps
// each matched event to a record, assigns index numbers and pushes the
// records back to the bridge for the comparison step.
func (c *Cedant) PopulateCedantData(ctx context.Context, args map[string]any) (map[string]any, error) {
	programID := argString(args, "program_id")
	if programID == "" {
		return map[string]any{"success": false, "error": "Program ID is required"}, nil
	}
	bridgeID := argString(args, "bridge_workflow_id")
	if bridgeID == "" {
		return map[string]any{"success": false, "error": "bridge_workflow_id is required to retrieve extraction data"}, nil
	}

	snap, err := c.bridge.Snapshot(ctx, bridgeID)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Could not retrieve extraction data from bridge workflow: %v", err),
		}, nil
	}

	asOfYear := argString(args, "as_of_year")
	if asOfYear == "" && snap.AsOfYear != nil {
		asOfYear = *snap.AsOfYear
	}
	if asOfYear == "" {
		return map[string]any{"success": false, "error": "As Of Year is required"}, nil
	}

	if len(snap.HistoricalMatches) == 0 {
		return map[string]any{
			"success": false,
			"error":   "Could not retrieve historical_matches from bridge workflow",
		}, nil
	}

	lossDataID, err := c.lookupLossDataID(programID)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}

	var records []map[string]any
	for _, item := range snap.HistoricalMatches {
		wrapper, ok := item.(map[string]any)
		if !ok {
			continue
		}
		event, _ := wrapper["event_data"].(map[string]any)
		if event == nil {
			continue
		}
		histID, correctedYear := resolveMatch(wrapper)
		lossYear := stringify(event["loss_year"])
		if correctedYear != "" {
			lossYear = correctedYear
		}
		gross, _ := argFloat(event["original_loss_gross"])
		records = append(records, map[string]any{
			"loss_data_id":        lossDataID,
			"as_of_year":          asOfYear,
			"hist_event_id":       histID,
			"loss_year":           lossYear,
			"loss_description":    stringify(event["loss_description"]),
			"original_loss_gross": gross,
			"source_info": fmt.Sprintf("Source: %s, Row: %s",
				stringify(event["source_worksheet"]), stringify(event["source_row"])),
		})
	}
	if len(records) == 0 {
		return map[string]any{
			"success": false,
			"error":   "No valid records could be generated from the historical matches",
		}, nil
	}

	assignIndexNumbers(records)

	log.Info(ctx, log.KV{K: "msg", V: "cedant records populated"},
		log.KV{K: "program_id", V: programID},
		log.KV{K: "loss_data_id", V: lossDataID},
		log.KV{K: "records", V: len(records)})

	if err := c.bridge.StoreExtraction(ctx, bridgeID, "cedant_records", records); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "storing cedant records on bridge failed"},
			log.KV{K: "err", V: err.Error()})
	}

	return map[string]any{
		"success":       true,
		"records_count": len(records),
		"all_records":   records,
		"loss_data_id":  lossDataID,
		"program_id":    programID,
		"as_of_year":    asOfYear,
	}, nil
}

// resolveMatch extracts the matched historical event ID from one batch result
// entry along with a corrected loss year when the match was made on a PCS
// code. PCS codes pin the event to its catalog year, which overrides whatever
// year the submission pack carried.
func resolveMatch(wrapper map[string]any) (histID, correctedYear string) {
	histID = "0"
	match, _ := wrapper["historical_match"].(map[string]any)
	if match == nil {
		return histID, ""
	}
	if success, _ := match["success"].(bool); !success {
		return histID, ""
	}
	id := stringify(match["hist_event_id"])
	if id == "" {
		return histID, ""
	}
	histID = id

	potentials, _ := match["potential_matches"].([]any)
	for _, p := range potentials {
		cand, ok := p.(map[string]any)
		if !ok || stringify(cand["hist_event_id"]) != id {
			continue
		}
		reasons, _ := cand["match_reasons"].([]any)
		for _, r := range reasons {
			if strings.Contains(stringify(r), "PCS code") {
				return histID, stringify(cand["year"])
			}
		}
	}
	return histID, ""
}

// assignIndexNumbers orders records by as-of year ascending then gross loss
// descending and writes 1-based index numbers in place.
func assignIndexNumbers(records []map[string]any) {
	sort.SliceStable(records, func(i, j int) bool {
		yi, yj := stringify(records[i]["as_of_year"]), stringify(records[j]["as_of_year"])
		if yi != yj {
			return yi < yj
		}
		gi, _ := argFloat(records[i]["original_loss_gross"])
		gj, _ := argFloat(records[j]["original_loss_gross"])
		return gi > gj
	})
	for i, rec := range records {
		rec["index_num"] = i + 1
	}
}

// lookupLossDataID resolves a program ID through the Program ID to Loss Data
// ID map CSV. Header names are matched loosely so hand-maintained exports
// with varying column labels keep working.
func (c *Cedant) lookupLossDataID(programID string) (string, error) {
	f, err := os.Open(c.mappingPath)
	if err != nil {
		return "", fmt.Errorf("Loss Data ProgramID Map not found: %s", c.mappingPath)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return "", fmt.Errorf("Loss Data ProgramID Map is empty or unreadable: %s", c.mappingPath)
	}

	programCol, lossDataCol := -1, -1
	for i, name := range header {
		switch normalizeHeader(name) {
		case "program id", "programid", "program_id":
			programCol = i
		case "loss data id", "lossdataid", "loss_data_id", "data id":
			lossDataCol = i
		}
	}
	if programCol < 0 || lossDataCol < 0 {
		return "", fmt.Errorf("Loss Data ProgramID Map is missing required columns: %v", header)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if programCol >= len(row) || lossDataCol >= len(row) {
			continue
		}
		if strings.TrimSpace(row[programCol]) == programID {
			return strings.TrimSpace(row[lossDataCol]), nil
		}
	}
	return "", fmt.Errorf("Program ID %s not found in Loss Data ProgramID Map", programID)
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CompareToExistingCedantData diffs newly generated records against the
// records already stored in the cedant ledger for one Loss Data ID. A set
// with no stored records compares as all additions.
func (c *Cedant) CompareToExistingCedantData(ctx context.Context, args map[string]any) (map[string]any, error) {
	lossDataID := argString(args, "loss_data_id")
	if lossDataID == "" {
		return map[string]any{"success": false, "error": "loss_data_id is required"}, nil
	}

	newRecords, err := c.resolveNewRecords(ctx, args)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}

	existing, err := c.store.CedantRecords(ctx, lossDataID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Failed to load existing cedant records: %v", err),
		}, nil
	}
	existingMaps := make([]map[string]any, 0, len(existing))
	for _, rec := range existing {
		existingMaps = append(existingMaps, existingRecordMap(rec))
	}

	diff := analyzeRecordDifferences(existingMaps, newRecords)
	summary := map[string]any{
		"total_additions":        len(diff["additions"].([]any)),
		"total_modifications":    len(diff["modifications"].([]any)),
		"total_unchanged":        len(diff["unchanged"].([]any)),
		"total_in_existing_only": len(diff["in_existing_only"].([]any)),
	}

	log.Info(ctx, log.KV{K: "msg", V: "cedant records compared"},
		log.KV{K: "loss_data_id", V: lossDataID},
		log.KV{K: "existing", V: len(existingMaps)},
		log.KV{K: "new", V: len(newRecords)})

	return map[string]any{
		"success":               true,
		"loss_data_id":          lossDataID,
		"existing_record_count": len(existingMaps),
		"new_record_count":      len(newRecords),
		"existing_records":      anySlice(existingMaps),
		"differences":           diff,
		"summary":               summary,
		"message": fmt.Sprintf(
			"Compared %d new record(s) against %d existing record(s) for LossDataID %s: "+
				"%d addition(s), %d modification(s), %d unchanged, %d in existing only.",
			len(newRecords), len(existingMaps), lossDataID,
			summary["total_additions"], summary["total_modifications"],
			summary["total_unchanged"], summary["total_in_existing_only"]),
	}, nil
}

// resolveNewRecords pulls the new records out of the tool arguments, falling
// back to the records stored on the bridge when the planner passed the
// previous-result sentinel or omitted them.
func (c *Cedant) resolveNewRecords(ctx context.Context, args map[string]any) ([]map[string]any, error) {
	raw, present := args["new_records"]
	if s, ok := raw.(string); !present || (ok && s == agent.UsePreviousResult) {
		bridgeID := argString(args, "bridge_workflow_id")
		if bridgeID == "" {
			return nil, errors.New("bridge_workflow_id is required to retrieve cedant records")
		}
		snap, err := c.bridge.Snapshot(ctx, bridgeID)
		if err != nil {
			return nil, fmt.Errorf("Could not retrieve cedant_records from bridge workflow: %v", err)
		}
		if len(snap.CedantRecords) == 0 {
			return nil, errors.New("Could not retrieve cedant_records from bridge workflow")
		}
		raw = snap.CedantRecords
	}
	items, ok := raw.([]any)
	if !ok {
		if maps, ok := raw.([]map[string]any); ok {
			return maps, nil
		}
		return nil, errors.New("new_records must be a list of records")
	}
	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func existingRecordMap(rec store.CedantRecord) map[string]any {
	histID := "0"
	if rec.HistEventID != nil && *rec.HistEventID != "" {
		histID = *rec.HistEventID
	}
	return map[string]any{
		"loss_data_id":        rec.LossDataID,
		"index_num":           rec.Index,
		"as_of_year":          rec.AsOfYear,
		"hist_event_id":       histID,
		"loss_year":           rec.LossYear,
		"loss_description":    rec.LossDescription,
		"original_loss_gross": rec.OriginalLossGross,
	}
}

// analyzeRecordDifferences buckets records into additions, modifications,
// unchanged and existing-only, keyed on the normalized loss description.
func analyzeRecordDifferences(existing, updated []map[string]any) map[string]any {
	existingByDesc := make(map[string]map[string]any, len(existing))
	for _, rec := range existing {
		existingByDesc[descKey(rec)] = rec
	}

	additions := []any{}
	modifications := []any{}
	unchanged := []any{}
	inExistingOnly := []any{}
	seen := make(map[string]bool, len(updated))

	for _, rec := range updated {
		key := descKey(rec)
		seen[key] = true
		old, ok := existingByDesc[key]
		if !ok {
			additions = append(additions, rec)
			continue
		}
		if changes := compareRecords(old, rec); len(changes) > 0 {
			modifications = append(modifications, map[string]any{
				"existing": old,
				"new":      rec,
				"changes":  changes,
			})
		} else {
			unchanged = append(unchanged, rec)
		}
	}
	for _, rec := range existing {
		if !seen[descKey(rec)] {
			inExistingOnly = append(inExistingOnly, rec)
		}
	}

	return map[string]any{
		"additions":        additions,
		"modifications":    modifications,
		"unchanged":        unchanged,
		"in_existing_only": inExistingOnly,
	}
}

func descKey(rec map[string]any) string {
	return strings.ToLower(strings.TrimSpace(stringify(rec["loss_description"])))
}

// compareRecords reports the fields that differ between two records of the
// same event. Gross loss amounts compare with a cent tolerance; historical
// event IDs normalize absent, empty and zero to "0".
func compareRecords(existing, updated map[string]any) []any {
	var changes []any
	for _, field := range []string{"loss_year", "as_of_year"} {
		oldVal := stringify(existing[field])
		newVal := stringify(updated[field])
		if oldVal != newVal {
			changes = append(changes, fieldChange(field, oldVal, newVal))
		}
	}
	oldID := normalizeHistID(existing["hist_event_id"])
	newID := normalizeHistID(updated["hist_event_id"])
	if oldID != newID {
		changes = append(changes, fieldChange("hist_event_id", oldID, newID))
	}
	oldGross, _ := argFloat(existing["original_loss_gross"])
	newGross, _ := argFloat(updated["original_loss_gross"])
	if math.Abs(oldGross-newGross) > 0.01 {
		changes = append(changes, fieldChange("original_loss_gross", oldGross, newGross))
	}
	return changes
}

func fieldChange(field string, oldVal, newVal any) map[string]any {
	return map[string]any{"field": field, "existing_value": oldVal, "new_value": newVal}
}

func normalizeHistID(v any) string {
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return "0"
	}
	return s
}

// GenerateDiffReport builds the full change report: summary statistics,
// per-change descriptions, an impact assessment and recommendations.
func (c *Cedant) GenerateDiffReport(ctx context.Context, args map[string]any) (map[string]any, error) {
	lossDataID := argString(args, "loss_data_id")
	if lossDataID == "" {
		return map[string]any{"success": false, "error": "loss_data_id is required"}, nil
	}
	existing := recordList(args["existing_records"])
	updated := recordList(args["new_records"])
	programID := argString(args, "program_id")
	asOfYear := argString(args, "as_of_year")

	diff := analyzeRecordDifferences(existing, updated)
	additions := diff["additions"].([]any)
	modifications := diff["modifications"].([]any)
	unchanged := diff["unchanged"].([]any)
	inExistingOnly := diff["in_existing_only"].([]any)

	totalChanges := len(additions) + len(modifications) + len(inExistingOnly)
	summaryStats := map[string]any{
		"existing_record_count":  len(existing),
		"new_record_count":       len(updated),
		"total_additions":        len(additions),
		"total_modifications":    len(modifications),
		"total_unchanged":        len(unchanged),
		"total_in_existing_only": len(inExistingOnly),
		"total_changes":          totalChanges,
		"net_change":             len(additions) - len(inExistingOnly),
	}

	changeDescriptions := describeChanges(additions, modifications, inExistingOnly)
	impact := assessImpact(additions, modifications, inExistingOnly, updated, totalChanges)
	recommendations := buildRecommendations(len(additions), len(modifications), len(inExistingOnly), updated)

	log.Info(ctx, log.KV{K: "msg", V: "diff report generated"},
		log.KV{K: "loss_data_id", V: lossDataID},
		log.KV{K: "total_changes", V: totalChanges},
		log.KV{K: "severity", V: impact["severity"]})

	return map[string]any{
		"success":             true,
		"loss_data_id":        lossDataID,
		"program_id":          programID,
		"as_of_year":          asOfYear,
		"summary_stats":       summaryStats,
		"change_descriptions": changeDescriptions,
		"impact_assessment":   impact,
		"recommendations":     recommendations,
		"generated_at":        nowISO(),
		"message": fmt.Sprintf(
			"Diff report for LossDataID %s: %d change(s) (%d addition(s), %d modification(s), "+
				"%d potential deletion(s)), severity %s.",
			lossDataID, totalChanges, len(additions), len(modifications),
			len(inExistingOnly), impact["severity"]),
	}, nil
}

func recordList(v any) []map[string]any {
	switch items := v.(type) {
	case []map[string]any:
		return items
	case []any:
		records := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if rec, ok := item.(map[string]any); ok {
				records = append(records, rec)
			}
		}
		return records
	}
	return nil
}

func describeChanges(additions, modifications, inExistingOnly []any) []any {
	descriptions := []any{}
	for _, a := range additions {
		rec, _ := a.(map[string]any)
		if rec == nil {
			continue
		}
		gross, _ := argFloat(rec["original_loss_gross"])
		descriptions = append(descriptions, map[string]any{
			"type": "addition",
			"description": fmt.Sprintf("New loss record: %s (%s), gross loss %s",
				stringify(rec["loss_description"]), stringify(rec["loss_year"]), formatAmount(gross)),
			"record": rec,
		})
	}
	for _, m := range modifications {
		mod, _ := m.(map[string]any)
		if mod == nil {
			continue
		}
		rec, _ := mod["new"].(map[string]any)
		var fields []string
		if changes, ok := mod["changes"].([]any); ok {
			for _, ch := range changes {
				if cm, ok := ch.(map[string]any); ok {
					fields = append(fields, stringify(cm["field"]))
				}
			}
		}
		descriptions = append(descriptions, map[string]any{
			"type": "modification",
			"description": fmt.Sprintf("Modified loss record: %s, changed fields: %s",
				stringify(rec["loss_description"]), strings.Join(fields, ", ")),
			"record":  rec,
			"changes": mod["changes"],
		})
	}
	for _, e := range inExistingOnly {
		rec, _ := e.(map[string]any)
		if rec == nil {
			continue
		}
		gross, _ := argFloat(rec["original_loss_gross"])
		descriptions = append(descriptions, map[string]any{
			"type": "potential_deletion",
			"description": fmt.Sprintf("Record only in existing ledger: %s (%s), gross loss %s",
				stringify(rec["loss_description"]), stringify(rec["loss_year"]), formatAmount(gross)),
			"record": rec,
		})
	}
	return descriptions
}

// assessImpact grades the change set. Severity escalates with change volume
// and with the money at stake: large new losses or large potential deletions
// flag high regardless of count.
func assessImpact(additions, modifications, inExistingOnly []any, updated []map[string]any, totalChanges int) map[string]any {
	additionsGross := sumGross(additions)
	deletionsGross := sumGross(inExistingOnly)

	severity := "low"
	switch {
	case totalChanges > 50, additionsGross > 10_000_000, deletionsGross > 5_000_000:
		severity = "high"
	case totalChanges > 20:
		severity = "medium"
	}

	unmatched := 0
	for _, rec := range updated {
		if normalizeHistID(rec["hist_event_id"]) == "0" {
			unmatched++
		}
	}
	concerns := []any{}
	if unmatched > 0 {
		concerns = append(concerns, fmt.Sprintf(
			"%d record(s) have no historical event match (HistEventID=0)", unmatched))
	}

	return map[string]any{
		"severity": severity,
		"financial_impact": map[string]any{
			"total_new_losses":           additionsGross,
			"total_potential_deletions":  deletionsGross,
			"net_financial_change":       additionsGross - deletionsGross,
			"modified_record_count":      len(modifications),
			"records_without_hist_match": unmatched,
		},
		"data_quality_concerns": concerns,
	}
}

func sumGross(records []any) float64 {
	var total float64
	for _, r := range records {
		rec, _ := r.(map[string]any)
		if rec == nil {
			continue
		}
		// Modifications nest the record under "new".
		if inner, ok := rec["new"].(map[string]any); ok {
			rec = inner
		}
		if g, ok := argFloat(rec["original_loss_gross"]); ok {
			total += g
		}
	}
	return total
}

func buildRecommendations(additions, modifications, inExistingOnly int, updated []map[string]any) []any {
	recs := []any{}
	if additions > 0 {
		recs = append(recs, fmt.Sprintf("Review the %d new loss record(s) before applying the update", additions))
	}
	if modifications > 0 {
		recs = append(recs, fmt.Sprintf("Verify the %d modified record(s) against the source worksheets", modifications))
	}
	if inExistingOnly > 0 {
		recs = append(recs, fmt.Sprintf(
			"Investigate the %d record(s) present only in the existing ledger; they may have been dropped from the submission pack", inExistingOnly))
	}
	unmatched := 0
	for _, rec := range updated {
		if normalizeHistID(rec["hist_event_id"]) == "0" {
			unmatched++
		}
	}
	if unmatched > 0 {
		recs = append(recs, fmt.Sprintf("Resolve the %d unmatched record(s) (HistEventID=0) before final population", unmatched))
	}
	if len(recs) == 0 {
		recs = append(recs, "No changes detected; the cedant ledger is up to date")
	}
	return recs
}

func formatAmount(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// ExportDiffReport writes a generated diff report to disk as JSON or as a
// formatted text report.
func (c *Cedant) ExportDiffReport(ctx context.Context, args map[string]any) (map[string]any, error) {
	report, _ := args["diff_report"].(map[string]any)
	if len(report) == 0 {
		return map[string]any{"success": false, "error": "diff_report is required"}, nil
	}
	format := strings.ToLower(argString(args, "format"))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "txt" {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Unsupported format: %s. Use 'json' or 'txt'.", format),
		}, nil
	}

	outputPath := argString(args, "output_path")
	if outputPath == "" {
		name := fmt.Sprintf("diff_report_%s_%s_%s.%s",
			stringify(report["program_id"]), stringify(report["loss_data_id"]),
			time.Now().UTC().Format("20060102_150405"), format)
		outputPath = filepath.Join(c.exportDir, name)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return map[string]any{
				"success": false,
				"error":   fmt.Sprintf("Failed to create output directory: %v", err),
			}, nil
		}
	}

	var content []byte
	if format == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return map[string]any{
				"success": false,
				"error":   fmt.Sprintf("Failed to serialize diff report: %v", err),
			}, nil
		}
		content = data
	} else {
		content = []byte(formatTextReport(report))
	}

	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Failed to write diff report: %v", err),
		}, nil
	}

	log.Info(ctx, log.KV{K: "msg", V: "diff report exported"},
		log.KV{K: "path", V: outputPath}, log.KV{K: "format", V: format})

	return map[string]any{
		"success":     true,
		"output_path": outputPath,
		"format":      format,
		"file_size":   len(content),
		"message":     fmt.Sprintf("Diff report exported to %s (%d bytes, %s format)", outputPath, len(content), format),
	}, nil
}

func formatTextReport(report map[string]any) string {
	var sb strings.Builder
	line := strings.Repeat("=", 70)

	sb.WriteString(line + "\n")
	sb.WriteString("CEDANT LEDGER DIFF REPORT\n")
	sb.WriteString(line + "\n")
	fmt.Fprintf(&sb, "Loss Data ID: %s\n", stringify(report["loss_data_id"]))
	if p := stringify(report["program_id"]); p != "" {
		fmt.Fprintf(&sb, "Program ID:   %s\n", p)
	}
	if y := stringify(report["as_of_year"]); y != "" {
		fmt.Fprintf(&sb, "As Of Year:   %s\n", y)
	}
	fmt.Fprintf(&sb, "Generated:    %s\n\n", stringify(report["generated_at"]))

	if stats, ok := report["summary_stats"].(map[string]any); ok {
		sb.WriteString("SUMMARY\n" + strings.Repeat("-", 70) + "\n")
		fmt.Fprintf(&sb, "Existing records:   %s\n", stringify(stats["existing_record_count"]))
		fmt.Fprintf(&sb, "New records:        %s\n", stringify(stats["new_record_count"]))
		fmt.Fprintf(&sb, "Additions:          %s\n", stringify(stats["total_additions"]))
		fmt.Fprintf(&sb, "Modifications:      %s\n", stringify(stats["total_modifications"]))
		fmt.Fprintf(&sb, "Unchanged:          %s\n", stringify(stats["total_unchanged"]))
		fmt.Fprintf(&sb, "In existing only:   %s\n", stringify(stats["total_in_existing_only"]))
		fmt.Fprintf(&sb, "Net change:         %s\n\n", stringify(stats["net_change"]))
	}

	if impact, ok := report["impact_assessment"].(map[string]any); ok {
		sb.WriteString("IMPACT ASSESSMENT\n" + strings.Repeat("-", 70) + "\n")
		fmt.Fprintf(&sb, "Severity: %s\n", stringify(impact["severity"]))
		if fin, ok := impact["financial_impact"].(map[string]any); ok {
			newLosses, _ := argFloat(fin["total_new_losses"])
			deletions, _ := argFloat(fin["total_potential_deletions"])
			net, _ := argFloat(fin["net_financial_change"])
			fmt.Fprintf(&sb, "New losses:           %s\n", formatAmount(newLosses))
			fmt.Fprintf(&sb, "Potential deletions:  %s\n", formatAmount(deletions))
			fmt.Fprintf(&sb, "Net financial change: %s\n", formatAmount(net))
		}
		if concerns, ok := impact["data_quality_concerns"].([]any); ok && len(concerns) > 0 {
			sb.WriteString("Data quality concerns:\n")
			for _, concern := range concerns {
				fmt.Fprintf(&sb, "  - %s\n", stringify(concern))
			}
		}
		sb.WriteString("\n")
	}

	if recs, ok := report["recommendations"].([]any); ok && len(recs) > 0 {
		sb.WriteString("RECOMMENDATIONS\n" + strings.Repeat("-", 70) + "\n")
		for _, rec := range recs {
			fmt.Fprintf(&sb, "  - %s\n", stringify(rec))
		}
		sb.WriteString("\n")
	}

	if changes, ok := report["change_descriptions"].([]any); ok && len(changes) > 0 {
		sb.WriteString("DETAILED CHANGES\n" + strings.Repeat("-", 70) + "\n")
		for i, change := range changes {
			cm, _ := change.(map[string]any)
			if cm == nil {
				continue
			}
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1,
				strings.ToUpper(stringify(cm["type"])), stringify(cm["description"]))
		}
	}

	sb.WriteString(line + "\n")
	return sb.String()
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
