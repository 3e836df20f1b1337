// Package match scores catastrophe events against the historical event
// database. Matching combines year proximity, storm name comparison, and PCS
// code extraction into a single confidence score per historical event.
package match

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var (
	pcsCatPrefix  = regexp.MustCompile(`(?i)^pcs\s*cat\s*\d+\s*`)
	stormPrefix   = regexp.MustCompile(`(?i)^(hurricane|tropical storm|winter storm|storm|hu|ts|ws)\s*-?\s*`)
	trailingDate  = regexp.MustCompile(`\s+\d{1,2}[/-]\d{1,2}[/-]\d{2,4}.*$`)
	trailingYear  = regexp.MustCompile(`\s+\d{4}.*$`)
	nonTokenChars = regexp.MustCompile(`[^a-z0-9]+`)
)

func newLevenshtein() *metrics.Levenshtein {
	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	return lev
}

// ratio is the edit distance similarity between two strings on a 0..100 scale.
func ratio(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	if a == "" || b == "" {
		return 0
	}
	return int(math.Round(strutil.Similarity(a, b, newLevenshtein()) * 100))
}

// partialRatio slides the shorter string across the longer one and keeps the
// best window similarity, so "ian" still scores high against "hurricane ian
// florida landfall".
func partialRatio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == len(long) {
		return ratio(short, long)
	}
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		if r := ratio(short, long[i:i+len(short)]); r > best {
			best = r
		}
	}
	return best
}

func tokens(s string) []string {
	parts := nonTokenChars.Split(strings.ToLower(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func tokenSortRatio(a, b string) int {
	ta, tb := tokens(a), tokens(b)
	sort.Strings(ta)
	sort.Strings(tb)
	return ratio(strings.Join(ta, " "), strings.Join(tb, " "))
}

// tokenSetRatio compares the shared token set against each side's full token
// set. Word order and repeated qualifiers do not hurt the score.
func tokenSetRatio(a, b string) int {
	setA := make(map[string]bool)
	for _, t := range tokens(a) {
		setA[t] = true
	}
	setB := make(map[string]bool)
	for _, t := range tokens(b) {
		setB[t] = true
	}

	var both, onlyA, onlyB []string
	for t := range setA {
		if setB[t] {
			both = append(both, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(both)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	t0 := strings.Join(both, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	best := ratio(t0, t1)
	if r := ratio(t0, t2); r > best {
		best = r
	}
	if r := ratio(t1, t2); r > best {
		best = r
	}
	return best
}

// ExtractStormName reduces a full event description to its core storm name.
// It handles the historical DB "date; name" format, PCS CAT prefixes, peril
// prefixes like "Hurricane" or "TS", and trailing dates.
func ExtractStormName(name string) string {
	if strings.Contains(name, "; ") {
		longest := ""
		for _, part := range strings.Split(name, "; ") {
			if len(part) > len(longest) {
				longest = part
			}
		}
		name = longest
	}

	name = pcsCatPrefix.ReplaceAllString(name, "")
	name = stormPrefix.ReplaceAllString(name, "")

	if i := strings.IndexAny(name, ",("); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)

	name = trailingDate.ReplaceAllString(name, "")
	name = trailingYear.ReplaceAllString(name, "")

	return strings.TrimSpace(name)
}

// FuzzyScore rates the similarity between an event description and a
// historical event name. It tests the raw pair, the cleaned pair, and the
// mixed pair with several ratio algorithms, keeps the best, and converts it
// into score points with the reasons that produced them.
func FuzzyScore(eventDescription, histEventName string) (int, []string) {
	score := 0
	var reasons []string

	cleanEvent := ExtractStormName(eventDescription)
	cleanHist := ExtractStormName(histEventName)

	pairs := []struct {
		a, b, kind string
	}{
		{eventDescription, histEventName, "original"},
		{cleanEvent, cleanHist, "cleaned"},
		{cleanEvent, histEventName, "mixed"},
	}

	best := 0
	bestKind := ""
	for _, p := range pairs {
		r := partialRatio(p.a, p.b)
		if ts := tokenSortRatio(p.a, p.b); ts > r {
			r = ts
		}
		if ts := tokenSetRatio(p.a, p.b); ts > r {
			r = ts
		}
		if r > best {
			best = r
			bestKind = p.kind
		}
	}

	switch {
	case best >= 85:
		score += 35
		reasons = append(reasons, fmt.Sprintf("High fuzzy match (score: %d, type: %s)", best, bestKind))
	case best >= 75:
		score += 30
		reasons = append(reasons, fmt.Sprintf("Good fuzzy match (score: %d, type: %s)", best, bestKind))
	case best >= 65:
		score += 25
		reasons = append(reasons, fmt.Sprintf("Moderate fuzzy match (score: %d, type: %s)", best, bestKind))
	case best >= 50:
		score += 15
		reasons = append(reasons, fmt.Sprintf("Weak fuzzy match (score: %d, type: %s)", best, bestKind))
	case best >= 40:
		score += 10
		reasons = append(reasons, fmt.Sprintf("Very weak fuzzy match (score: %d, type: %s)", best, bestKind))
	}

	if ts := tokenSetRatio(cleanEvent, cleanHist); ts >= 70 {
		score += 5
		reasons = append(reasons, fmt.Sprintf("Strong token set match on cleaned names: %d", ts))
	}

	return score, reasons
}
