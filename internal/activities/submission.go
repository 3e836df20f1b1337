package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/model"
)

const (
	previewRows = 15
	maxColumns  = 50

	asOfSearchRows = 25
	asOfSearchCols = 15

	extractionSystemPrompt = "You are an expert insurance data analyst specializing in " +
		"catastrophe loss data extraction from submission packs."

	extractionTemperature = 0.1
	extractionMaxTokens   = 16384
)

// extractionInstructions tells the model how to pick loss columns and name
// columns out of arbitrary submission pack sheets.
const extractionInstructions = `Your task: extract ALL catastrophe events with accurate gross loss amounts.

For each event, identify:
1. loss_year: the year the catastrophe occurred (extract from date fields if needed)
2. loss_description: the event name. Look for columns like "Cat", "Cat Description",
   "Storm Family", "Event Description", "Loss Description", "Peril", "Event Name".
   Abbreviations: "HU" = Hurricane, "TS" = Tropical Storm, "WS" = Wind Storm.
   Descriptions are text based event names, often first names ("Hurricane Ida", "Sally",
   "Ian") or peril types ("Storm", "Wind/Hail"). Never use purely numeric columns.
3. original_loss_gross: the GROSS loss amount. If one column carries the combined total
   ("Total Loss & ALAE", "Gross Loss Incurred") use it directly; if loss and ALAE are in
   separate columns sum them. Prefer gross over incurred over total over net over
   ultimate. Prefer grand totals over regional or peril subcategories.

Guidelines:
- Skip header rows and total/summary rows that aggregate multiple events.
- If the event name is a PCS number ("PCS 1721"), the loss year is 2000 plus the first
  two digits of the code (PCS 1721 -> 2017).
- Extract ALL events regardless of loss size, including events with empty ID fields.
- Multi-row headers are common; identify where the actual data starts.

Return a JSON array:
[
  {"loss_year": "2020", "loss_description": "Hurricane Sally",
   "original_loss_gross": 61331232.59, "source_row": 30}
]`

// asOfPatterns, in priority order. The first eight capture the year in group
// one; the date format patterns at the end need a four digit group scan.
var asOfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`as\s+of[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`effective\s+as\s+of[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`as\s+of\s+date[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`effective\s+date[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`effective[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`(\d{4})\s+as\s+of`),
	regexp.MustCompile(`renewal\s+date[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`policy\s+year[:\s]+.*?(\d{4})`),
	regexp.MustCompile(`(\d{1,2})[/\-](\d{1,2})[/\-](\d{4})`),
	regexp.MustCompile(`(\d{4})[/\-](\d{1,2})[/\-](\d{1,2})`),
}

const primaryPatternCount = 8

// Submission implements the submission pack parsing activities.
type Submission struct {
	packsDir string
	model    model.Client
	modelID  string
	bridge   *BridgeClient
}

// NewSubmission builds the submission activities. The model client may be nil
// when no provider is configured; extraction then fails in-band.
func NewSubmission(packsDir string, mc model.Client, modelID string, bridge *BridgeClient) *Submission {
	return &Submission{packsDir: packsDir, model: mc, modelID: modelID, bridge: bridge}
}

// LocateSubmissionPack finds the workbook for a program ID by scanning the
// submission packs directory recursively for files named after the ID.
func (s *Submission) LocateSubmissionPack(ctx context.Context, args map[string]any) (map[string]any, error) {
	programID := argString(args, "program_id")
	if programID == "" {
		return map[string]any{"success": false, "error_message": "program_id is required"}, nil
	}
	dir := argString(args, "submission_packs_directory")
	if dir == "" {
		dir = s.packsDir
	}
	log.Info(ctx, log.KV{K: "msg", V: "locating submission pack"},
		log.KV{K: "program_id", V: programID}, log.KV{K: "dir", V: dir})

	if _, err := os.Stat(dir); err != nil {
		return map[string]any{
			"success":       false,
			"error_message": fmt.Sprintf("Submission packs directory not found: %s", dir),
			"program_id":    programID,
		}, nil
	}

	type found struct{ path, name string }
	var matches []found
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if !strings.HasPrefix(name, programID) {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".xlsx", ".xlsm":
			matches = append(matches, found{path: path, name: name})
		}
		return nil
	})
	if err != nil {
		return map[string]any{
			"success":       false,
			"error_message": fmt.Sprintf("Error locating submission pack: %v", err),
			"program_id":    programID,
		}, nil
	}
	if len(matches) == 0 {
		return map[string]any{
			"success":       false,
			"error_message": fmt.Sprintf("No submission pack found for Program ID: %s", programID),
			"program_id":    programID,
		}, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].name < matches[j].name })
	first := matches[0]
	return map[string]any{
		"success":    true,
		"file_path":  first.path,
		"file_name":  first.name,
		"file_type":  "excel",
		"program_id": programID,
	}, nil
}

// GetSheetNames lists the sheets of a workbook with basic metadata.
func (s *Submission) GetSheetNames(ctx context.Context, args map[string]any) (map[string]any, error) {
	filePath := argString(args, "file_path")
	fail := func(msg string, sizeMB any) map[string]any {
		return map[string]any{
			"success":       false,
			"sheet_names":   []string{},
			"total_sheets":  0,
			"file_path":     filePath,
			"file_size_mb":  sizeMB,
			"error_message": msg,
		}
	}
	if filePath == "" {
		return fail("file_path is required", nil), nil
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return fail(fmt.Sprintf("File not found: %s", filePath), nil), nil
	}
	sizeMB := math.Round(float64(info.Size())/1024/1024*100) / 100

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return fail(fmt.Sprintf("Invalid or corrupted Excel file: %s", filePath), sizeMB), nil
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	log.Info(ctx, log.KV{K: "msg", V: "listed workbook sheets"},
		log.KV{K: "file", V: filePath}, log.KV{K: "sheets", V: len(names)})
	return map[string]any{
		"success":       true,
		"sheet_names":   names,
		"total_sheets":  len(names),
		"file_path":     filePath,
		"file_size_mb":  sizeMB,
		"error_message": "",
	}, nil
}

// ReadSheet returns the headers and data rows of one sheet with empty rows
// and columns filtered out. Preview mode caps the read at the first 15 rows.
func (s *Submission) ReadSheet(ctx context.Context, args map[string]any) (map[string]any, error) {
	filePath := argString(args, "file_path")
	sheetName := argString(args, "sheet_name")
	mode := argString(args, "mode")
	if mode == "" {
		mode = "preview"
	}
	fail := func(msg string) map[string]any {
		return map[string]any{
			"success":          false,
			"sheet_name":       sheetName,
			"headers":          []string{},
			"data_rows":        [][]string{},
			"total_rows":       0,
			"total_columns":    0,
			"filtered_columns": 0,
			"filtered_rows":    0,
			"error_message":    msg,
		}
	}
	if filePath == "" || sheetName == "" {
		return fail("file_path and sheet_name are required"), nil
	}
	if _, err := os.Stat(filePath); err != nil {
		return fail(fmt.Sprintf("File not found: %s", filePath)), nil
	}
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return fail(fmt.Sprintf("Invalid or corrupted Excel file: %s", filePath)), nil
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return fail(fmt.Sprintf("Sheet '%s' not found in workbook. Available sheets: %s",
			sheetName, strings.Join(f.GetSheetList(), ", "))), nil
	}

	totalRows := len(rows)
	totalColumns := 0
	for _, row := range rows {
		if len(row) > totalColumns {
			totalColumns = len(row)
		}
	}

	readRows := totalRows
	if mode != "full" && readRows > previewRows {
		readRows = previewRows
	}
	cols := totalColumns
	if cols > maxColumns {
		cols = maxColumns
	}

	// First pass identifies columns with any content in the read window.
	raw := make([][]string, 0, readRows)
	for _, row := range rows[:readRows] {
		cells := make([]string, cols)
		for c := 0; c < cols; c++ {
			if c < len(row) {
				cells[c] = strings.TrimSpace(row[c])
			}
		}
		raw = append(raw, cells)
	}
	var nonEmpty []int
	for c := 0; c < cols; c++ {
		for _, row := range raw {
			if row[c] != "" {
				nonEmpty = append(nonEmpty, c)
				break
			}
		}
	}

	var filtered [][]string
	for _, row := range raw {
		var out []string
		for _, c := range nonEmpty {
			if row[c] != "" {
				out = append(out, row[c])
			}
		}
		if len(out) > 0 {
			filtered = append(filtered, out)
		}
	}

	headers := []string{}
	dataRows := [][]string{}
	if len(filtered) > 0 {
		headers = filtered[0]
		dataRows = filtered[1:]
	}

	return map[string]any{
		"success":          true,
		"sheet_name":       sheetName,
		"headers":          headers,
		"data_rows":        dataRows,
		"total_rows":       totalRows,
		"total_columns":    totalColumns,
		"filtered_columns": len(nonEmpty),
		"filtered_rows":    len(filtered),
		"mode":             mode,
		"rows_returned":    len(dataRows),
		"error_message":    "",
	}, nil
}

// ExtractAsOfYear scans the workbook for "as of" style annotations, scoring
// each hit by pattern strength, sheet priority and cell position. When the
// scan finds nothing it falls back to asking the model. Successful results
// are pushed to the bridge data store.
func (s *Submission) ExtractAsOfYear(ctx context.Context, args map[string]any) (map[string]any, error) {
	filePath := argString(args, "file_path")
	if filePath == "" {
		return map[string]any{"success": false, "error_message": "file_path is required"}, nil
	}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".xlsx", ".xls", ".xlsm":
	default:
		return map[string]any{
			"success": false,
			"error_message": fmt.Sprintf(
				"Unsupported file extension: %s. Only Excel files (.xlsx, .xls, .xlsm) are supported.",
				filepath.Ext(filePath)),
		}, nil
	}

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return map[string]any{
			"success":       false,
			"error_message": fmt.Sprintf("Error processing Excel file: %v", err),
		}, nil
	}
	defer func() { _ = f.Close() }()

	result := s.scanAsOfYear(ctx, f)
	if !asBool(result["success"]) && s.model != nil {
		result = s.modelAsOfYear(ctx, f, result)
	}

	if asBool(result["success"]) {
		if bridgeID := argString(args, "bridge_workflow_id"); bridgeID != "" && s.bridge != nil {
			_ = s.bridge.StoreExtraction(ctx, bridgeID, "as_of_year", result["as_of_year"])
		}
	}
	return result, nil
}

func (s *Submission) scanAsOfYear(ctx context.Context, f *excelize.File) map[string]any {
	type candidate struct {
		year, location, confidence, text string
	}

	var best *candidate
	for _, sheet := range prioritizeSheets(f.GetSheetList()) {
		rows, err := f.GetRows(sheet.name)
		if err != nil {
			continue
		}
		for r, row := range rows {
			if r >= asOfSearchRows {
				break
			}
			for c, cell := range row {
				if c >= asOfSearchCols {
					break
				}
				text := strings.TrimSpace(cell)
				if len(text) < 4 {
					continue
				}
				lower := strings.ToLower(text)
				for idx, pat := range asOfPatterns {
					m := pat.FindStringSubmatch(lower)
					if m == nil {
						continue
					}
					year := patternYear(idx, m)
					if year == "" {
						continue
					}
					yi, _ := strconv.Atoi(year)
					if yi < 2015 || yi > 2030 {
						continue
					}
					conf := asOfConfidence(idx, sheet.priority, lower, r+1, c+1)
					coord, _ := excelize.CoordinatesToCellName(c+1, r+1)
					cand := candidate{
						year:       year,
						location:   fmt.Sprintf("Sheet: %s, Cell: %s", sheet.name, coord),
						confidence: conf,
						text:       text,
					}
					if conf == "high" {
						log.Info(ctx, log.KV{K: "msg", V: "as of year found"},
							log.KV{K: "year", V: year}, log.KV{K: "location", V: cand.location})
						return asOfResult(cand.year, cand.location, cand.confidence, cand.text)
					}
					if best == nil || confidenceRank(conf) > confidenceRank(best.confidence) {
						b := cand
						best = &b
					}
				}
			}
		}
	}
	if best != nil {
		return asOfResult(best.year, best.location, best.confidence, best.text)
	}
	return map[string]any{"success": false, "error_message": "As Of Year not found in document"}
}

// modelAsOfYear asks the model to infer the as-of year from the first sheet's
// text when pattern scanning comes up empty.
func (s *Submission) modelAsOfYear(ctx context.Context, f *excelize.File, scanResult map[string]any) map[string]any {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return scanResult
	}
	var sb strings.Builder
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return scanResult
	}
	for r, row := range rows {
		if r >= asOfSearchRows {
			break
		}
		line := strings.TrimSpace(strings.Join(row, " "))
		if line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	if sb.Len() == 0 {
		return scanResult
	}

	resp, err := s.model.Complete(ctx, model.Request{
		Model: s.modelID,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: extractionSystemPrompt},
			{Role: model.RoleUser, Content: fmt.Sprintf(
				"What is the As Of Year of this insurance submission pack? "+
					"Reply with the four digit year only.\n\n%s", sb.String())},
		},
		Temperature: extractionTemperature,
		MaxTokens:   16,
	})
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "model as-of-year fallback failed"},
			log.KV{K: "err", V: err.Error()})
		return scanResult
	}
	m := regexp.MustCompile(`\b(\d{4})\b`).FindStringSubmatch(resp.Content)
	if m == nil {
		return scanResult
	}
	if yi, _ := strconv.Atoi(m[1]); yi < 2015 || yi > 2030 {
		return scanResult
	}
	return asOfResult(m[1], "Model estimate", "low", strings.TrimSpace(resp.Content))
}

// ExtractCatastropheEvents renders the requested sheets as text, asks the
// model for a JSON array of loss events and pushes the parsed events to the
// bridge data store.
func (s *Submission) ExtractCatastropheEvents(ctx context.Context, args map[string]any) (map[string]any, error) {
	filePath := argString(args, "file_path")
	sheetNames := argStrings(args, "sheet_names")
	if filePath == "" || len(sheetNames) == 0 {
		return map[string]any{
			"success": false,
			"error":   "Missing required parameters: file_path and sheet_names",
		}, nil
	}
	if s.model == nil {
		return map[string]any{
			"success": false,
			"events":  []any{},
			"error":   "No model provider configured for extraction",
		}, nil
	}

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return map[string]any{
			"success": false,
			"events":  []any{},
			"error":   fmt.Sprintf("LLM extraction with values failed: %v", err),
		}, nil
	}
	defer func() { _ = f.Close() }()

	prompt, processed := buildExtractionPrompt(f, sheetNames, argString(args, "user_instructions"))
	if len(processed) == 0 {
		return map[string]any{
			"success":       false,
			"events":        []any{},
			"error_message": fmt.Sprintf("None of the specified sheets found: %v", sheetNames),
		}, nil
	}

	resp, err := s.model.Complete(ctx, model.Request{
		Model: s.modelID,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: extractionSystemPrompt},
			{Role: model.RoleUser, Content: prompt},
		},
		Temperature: extractionTemperature,
		MaxTokens:   extractionMaxTokens,
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "extraction model call failed"})
		return map[string]any{
			"success": false,
			"events":  []any{},
			"error":   fmt.Sprintf("LLM extraction failed: %v", err),
		}, nil
	}

	events := parseExtractedEvents(resp.Content, processed[0])
	log.Info(ctx, log.KV{K: "msg", V: "extracted catastrophe events"},
		log.KV{K: "events", V: len(events)}, log.KV{K: "sheets", V: len(processed)})

	if bridgeID := argString(args, "bridge_workflow_id"); bridgeID != "" && s.bridge != nil && len(events) > 0 {
		_ = s.bridge.StoreExtraction(ctx, bridgeID, "events", events)
	}

	return map[string]any{
		"success":         true,
		"events":          events,
		"extracted_count": len(events),
		"notes": []string{fmt.Sprintf("Extracted %d events from %d sheets: %s",
			len(events), len(processed), strings.Join(processed, ", "))},
		"error_message": "",
	}, nil
}

func buildExtractionPrompt(f *excelize.File, sheetNames []string, userInstructions string) (string, []string) {
	available := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		available[name] = true
	}

	var sb strings.Builder
	var processed []string
	for _, name := range sheetNames {
		if !available[name] {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		processed = append(processed, name)
		fmt.Fprintf(&sb, "\n=== SHEET: %s ===\n", name)
		for r, row := range rows {
			var cells []string
			for _, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell == "" {
					continue
				}
				if len(cell) > 50 {
					cell = cell[:50]
				}
				cells = append(cells, cell)
			}
			if len(cells) > 0 {
				fmt.Fprintf(&sb, "Row %d: %v\n", r+1, cells)
			}
		}
	}
	if len(processed) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(
		"Extract catastrophe loss events from the following sheets. Data from %d sheet(s) is provided below.\n\nSheets: %s\n%s\n\n%s\n\nIMPORTANT: for each event include a \"source_worksheet\" field indicating which sheet the event came from.",
		len(processed), strings.Join(processed, ", "), sb.String(), extractionInstructions)
	if userInstructions != "" {
		prompt += fmt.Sprintf(
			"\n\nADDITIONAL USER INSTRUCTIONS:\n%s\n\nApply these user instructions when extracting the data. They take precedence over default behavior.",
			userInstructions)
	}
	return prompt, processed
}

// parseExtractedEvents pulls the JSON array out of a model response that may
// be wrapped in code fences or prose, and normalizes each event's fields.
func parseExtractedEvents(response, defaultSheet string) []any {
	response = strings.TrimSpace(response)
	if i := strings.Index(response, "```json"); i >= 0 {
		response = response[i+len("```json"):]
		if j := strings.Index(response, "```"); j >= 0 {
			response = response[:j]
		}
	} else if i := strings.Index(response, "```"); i >= 0 {
		response = response[i+3:]
		if j := strings.Index(response, "```"); j >= 0 {
			response = response[:j]
		}
	}
	start := strings.Index(response, "[")
	if start < 0 {
		return []any{}
	}
	if end := strings.LastIndex(response, "]"); end > start {
		response = response[start : end+1]
	} else {
		response = response[start:]
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(response), &items); err != nil {
		return []any{}
	}

	events := make([]any, 0, len(items))
	for _, item := range items {
		gross := 0.0
		if g, ok := argFloat(item["original_loss_gross"]); ok {
			gross = g
		}
		sheet := stringify(item["source_worksheet"])
		if sheet == "" {
			sheet = defaultSheet
		}
		events = append(events, map[string]any{
			"loss_year":           stringify(item["loss_year"]),
			"loss_description":    stringify(item["loss_description"]),
			"original_loss_gross": gross,
			"source_worksheet":    sheet,
			"source_row":          argInt(item["source_row"]),
		})
	}
	return events
}

type prioritizedSheet struct {
	name     string
	priority string
}

func prioritizeSheets(names []string) []prioritizedSheet {
	var priority, regular []prioritizedSheet
	for _, name := range names {
		lower := strings.ToLower(name)
		switch {
		case containsAny(lower, "toc", "contents", "cover", "summary", "index", "overview"):
			priority = append(priority, prioritizedSheet{name, "high"})
		case containsAny(lower, "info", "general", "details", "submission"):
			priority = append(priority, prioritizedSheet{name, "medium"})
		default:
			regular = append(regular, prioritizedSheet{name, "low"})
		}
	}
	if len(regular) > 2 {
		regular = regular[:2]
	}
	return append(priority, regular...)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func patternYear(idx int, m []string) string {
	if idx < primaryPatternCount {
		return m[1]
	}
	for _, g := range m[1:] {
		if len(g) == 4 {
			return g
		}
	}
	return ""
}

func asOfConfidence(patternIdx int, sheetPriority, cellText string, row, col int) string {
	score := 0
	switch {
	case patternIdx < 4:
		score += 3
	case patternIdx < primaryPatternCount:
		score += 2
	default:
		score++
	}
	switch sheetPriority {
	case "high":
		score += 2
	case "medium":
		score++
	}
	switch {
	case row <= 5:
		score += 2
	case row <= 10:
		score++
	}
	if col <= 3 {
		score++
	}
	if containsAny(cellText, "as of", "effective", "renewal", "policy") {
		score += 2
	}
	switch {
	case score >= 6:
		return "high"
	case score >= 3:
		return "medium"
	default:
		return "low"
	}
}

func confidenceRank(c string) int {
	switch c {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	}
	return 0
}

func asOfResult(year, location, confidence, text string) map[string]any {
	return map[string]any{
		"success":          true,
		"as_of_year":       year,
		"source_location":  location,
		"confidence_level": confidence,
		"extracted_text":   text,
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
