package match

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/treatyline/subpack/internal/store"
)

const (
	// ExactThreshold is the confidence at which a match is adopted without
	// user review.
	ExactThreshold = 90

	// candidateThreshold filters out weak candidates before presenting
	// alternatives to the user.
	candidateThreshold = 80

	// inclusionThreshold is the minimum score for a historical event to be
	// considered a candidate at all.
	inclusionThreshold = 50
)

// Event holds the loss fields the matcher needs from a catastrophe event.
type Event struct {
	LossYear          string  `json:"loss_year"`
	LossDescription   string  `json:"loss_description"`
	OriginalLossGross float64 `json:"original_loss_gross"`
	SourceWorksheet   string  `json:"source_worksheet"`
	SourceRow         int     `json:"source_row"`
}

// Candidate is a scored historical event.
type Candidate struct {
	HistEventID     string   `json:"hist_event_id"`
	EventName       string   `json:"event_name"`
	Year            string   `json:"year"`
	EventDate       string   `json:"event_date,omitempty"`
	PCSCode         string   `json:"pcs_code,omitempty"`
	ConfidenceScore int      `json:"confidence_score"`
	MatchReasons    []string `json:"match_reasons"`
	SourceRow       int      `json:"source_row,omitempty"`
}

// Result is the outcome of matching one event against the full database.
type Result struct {
	HistEventID      *string     `json:"hist_event_id"`
	MatchConfidence  string      `json:"match_confidence"`
	PotentialMatches []Candidate `json:"potential_matches"`
}

var (
	eventPCSPattern = regexp.MustCompile(`(?i)pcs\s*(?:cat\s*)?#?\s*(\d{4})`)
	histPCSPattern  = regexp.MustCompile(`-(\d{4})`)
)

// genericTerms are peril words that appear in many descriptions. A name match
// built only from these would be meaningless.
var genericTerms = map[string]bool{
	"winter storm":   true,
	"storm":          true,
	"hurricane":      true,
	"tropical storm": true,
	"windstorm":      true,
	"hail":           true,
	"tornado":        true,
	"flood":          true,
	"fire":           true,
	"wind":           true,
	"scs":            true,
	"sscs":           true,
	"":               true,
}

func isGeneric(name string) bool {
	if genericTerms[name] {
		return true
	}
	// Three letter all-alpha names are likely storm names (Ida, Uri, Ian).
	if len(name) == 3 && isAlpha(name) {
		return false
	}
	return len(name) < 3
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return s != ""
}

func wordMatch(needle, haystack string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(needle) + `\b`)
	return re.MatchString(haystack)
}

// FindMatches scores every historical event against the given catastrophe
// event and returns the candidates that cleared the inclusion threshold,
// unsorted.
func FindMatches(event Event, historical []store.HistoricalEvent) []Candidate {
	if strings.TrimSpace(event.LossYear) == "" || strings.TrimSpace(event.LossDescription) == "" {
		return nil
	}

	eventYear := strings.TrimSpace(event.LossYear)
	eventDescription := strings.ToLower(strings.TrimSpace(event.LossDescription))

	var eventPCS string
	if m := eventPCSPattern.FindStringSubmatch(eventDescription); m != nil {
		eventPCS = m[1]
	}

	var matches []Candidate
	for _, hist := range historical {
		score := 0
		var reasons []string

		yearMatched := false
		if hist.Year == eventYear {
			score += 40
			reasons = append(reasons, fmt.Sprintf("Year match: %s", eventYear))
			yearMatched = true
		} else if yearsWithinOne(hist.Year, eventYear) {
			score += 30
			reasons = append(reasons, fmt.Sprintf("Year close match: %s vs %s", hist.Year, eventYear))
			yearMatched = true
		}

		histName := strings.ToLower(hist.EventName)
		eventCore := ExtractStormName(eventDescription)
		histCore := ExtractStormName(histName)
		eventGeneric := isGeneric(eventCore)
		histGeneric := isGeneric(histCore)

		switch {
		case eventDescription == histName || (eventCore == histCore && !(eventGeneric && histGeneric)):
			score += 60
			reasons = append(reasons, "Exact name match")
		case !eventGeneric && !histGeneric &&
			(strings.Contains(histName, eventDescription) || strings.Contains(eventDescription, histName) ||
				(len(eventCore) > 3 && len(histCore) > 3 &&
					(wordMatch(eventCore, histCore) || wordMatch(histCore, eventCore)))):
			if len(eventDescription) <= 15 || len(eventCore) <= 15 {
				score += 50
				reasons = append(reasons, "Strong partial name match")
			} else {
				score += 35
				reasons = append(reasons, "Partial name match")
			}
		default:
			fuzzyScore, fuzzyReasons := FuzzyScore(eventDescription, histName)
			score += fuzzyScore
			reasons = append(reasons, fuzzyReasons...)
		}

		// PCS codes are the most reliable signal when both sides carry one.
		if eventPCS != "" && hist.PCSCode != "" {
			histPCS := ""
			if m := histPCSPattern.FindStringSubmatch(hist.PCSCode); m != nil {
				histPCS = m[1]
			}
			matched := false
			if histPCS != "" && eventPCS == histPCS {
				matched = true
			} else if histPCS == "" && eventPCS == strings.TrimSpace(hist.PCSCode) {
				matched = true
			}
			if matched {
				score += 60
				reasons = append(reasons, fmt.Sprintf("PCS code exact match: %s", eventPCS))
				if !yearMatched {
					score += 35
					reasons = append(reasons, "PCS code match compensates for year mismatch")
				}
			}
		}

		if score >= inclusionThreshold {
			matches = append(matches, Candidate{
				HistEventID:     hist.HistEventID,
				EventName:       hist.EventName,
				Year:            hist.Year,
				EventDate:       hist.EventDate,
				PCSCode:         hist.PCSCode,
				ConfidenceScore: score,
				MatchReasons:    reasons,
				SourceRow:       hist.SourceRow,
			})
		}
	}

	return matches
}

// Match finds the best historical event for a catastrophe event. Only
// candidates at or above ExactThreshold are adopted automatically; weaker
// candidates come back as potential matches for the user to pick from.
func Match(event Event, historical []store.HistoricalEvent) Result {
	matches := FindMatches(event, historical)
	if len(matches) == 0 {
		return Result{MatchConfidence: "none", PotentialMatches: []Candidate{}}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].ConfidenceScore > matches[j].ConfidenceScore
	})

	res := Result{MatchConfidence: "none", PotentialMatches: []Candidate{}}
	if matches[0].ConfidenceScore >= ExactThreshold {
		id := matches[0].HistEventID
		res.HistEventID = &id
		res.MatchConfidence = "exact"
	}

	maxCandidates := 5
	if res.HistEventID != nil {
		maxCandidates = 3
	}
	for _, m := range matches {
		if m.ConfidenceScore >= candidateThreshold && len(res.PotentialMatches) < maxCandidates {
			m.SourceRow = 0
			res.PotentialMatches = append(res.PotentialMatches, m)
		}
	}

	return res
}

func yearsWithinOne(a, b string) bool {
	ya, errA := strconv.Atoi(strings.TrimSpace(a))
	yb, errB := strconv.Atoi(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return false
	}
	diff := ya - yb
	return diff >= -1 && diff <= 1
}
