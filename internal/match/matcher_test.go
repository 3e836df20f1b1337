package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatyline/subpack/internal/store"
)

func histDB() []store.HistoricalEvent {
	return []store.HistoricalEvent{
		{HistEventID: "HE-2022-09", EventName: "Hurricane Ian", Year: "2022", EventDate: "2022-09-28", PCSCode: "2022-2244"},
		{HistEventID: "HE-2021-02", EventName: "Winter Storm Uri", Year: "2021", EventDate: "2021-02-13"},
		{HistEventID: "HE-2021-08", EventName: "Hurricane Ida", Year: "2021", EventDate: "2021-08-29", PCSCode: "2021-2150"},
		{HistEventID: "HE-2020-08", EventName: "Hurricane Isaias", Year: "2020", PCSCode: "2020-2044"},
		{HistEventID: "HE-2005-08", EventName: "Hurricane Katrina", Year: "2005", PCSCode: "2005-1713"},
	}
}

func TestMatchExactNameAndYear(t *testing.T) {
	res := Match(Event{LossYear: "2022", LossDescription: "Hurricane Ian"}, histDB())

	require.NotNil(t, res.HistEventID)
	assert.Equal(t, "HE-2022-09", *res.HistEventID)
	assert.Equal(t, "exact", res.MatchConfidence)
	require.NotEmpty(t, res.PotentialMatches)
	assert.Equal(t, "HE-2022-09", res.PotentialMatches[0].HistEventID)
	assert.Equal(t, 100, res.PotentialMatches[0].ConfidenceScore)
	assert.Contains(t, res.PotentialMatches[0].MatchReasons, "Exact name match")
}

func TestMatchToleratesOneYearDrift(t *testing.T) {
	// Cedant books sometimes carry the loss in the following year.
	res := Match(Event{LossYear: "2022", LossDescription: "Hurricane Ida"}, histDB())

	require.NotNil(t, res.HistEventID)
	assert.Equal(t, "HE-2021-08", *res.HistEventID)
	assert.Equal(t, "exact", res.MatchConfidence)
}

func TestMatchPCSCodeCompensatesForYear(t *testing.T) {
	res := Match(Event{LossYear: "2023", LossDescription: "PCS CAT 2044 windstorm losses"}, histDB())

	require.NotNil(t, res.HistEventID)
	assert.Equal(t, "HE-2020-08", *res.HistEventID)

	best := res.PotentialMatches[0]
	assert.Contains(t, best.MatchReasons, "PCS code exact match: 2044")
	assert.Contains(t, best.MatchReasons, "PCS code match compensates for year mismatch")
}

func TestMatchGenericPerilNamesStayUnmatched(t *testing.T) {
	res := Match(Event{LossYear: "2021", LossDescription: "windstorm"}, histDB())

	assert.Nil(t, res.HistEventID)
	assert.Equal(t, "none", res.MatchConfidence)
}

func TestMatchUnknownEventReturnsNone(t *testing.T) {
	res := Match(Event{LossYear: "1998", LossDescription: "Hurricane Mitch"}, histDB())

	assert.Nil(t, res.HistEventID)
	assert.Equal(t, "none", res.MatchConfidence)
	assert.Empty(t, res.PotentialMatches)
}

func TestFindMatchesRequiresYearAndDescription(t *testing.T) {
	assert.Nil(t, FindMatches(Event{LossDescription: "Hurricane Ian"}, histDB()))
	assert.Nil(t, FindMatches(Event{LossYear: "2022"}, histDB()))
}

func TestMatchCapsPotentialCandidates(t *testing.T) {
	// Many near-identical historical entries for the same storm.
	var db []store.HistoricalEvent
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		db = append(db, store.HistoricalEvent{
			HistEventID: "HE-" + id,
			EventName:   "Hurricane Ian",
			Year:        "2022",
		})
	}

	res := Match(Event{LossYear: "2022", LossDescription: "Hurricane Ian"}, db)
	require.NotNil(t, res.HistEventID)
	assert.Len(t, res.PotentialMatches, 3, "exact match narrows the candidate list")
}
