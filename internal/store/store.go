// Package store persists the historical catastrophe event database and the
// cedant loss ledger in MongoDB, and seeds the historical collection from the
// CSV export the matching team maintains.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// HistoricalEvent is one row of the historical catastrophe event database.
type HistoricalEvent struct {
	HistEventID string `bson:"hist_event_id" json:"hist_event_id"`
	EventName   string `bson:"event_name" json:"event_name"`
	Year        string `bson:"year" json:"year"`
	EventDate   string `bson:"event_date,omitempty" json:"event_date,omitempty"`
	PCSCode     string `bson:"pcs_code,omitempty" json:"pcs_code,omitempty"`
	SourceRow   int    `bson:"source_row,omitempty" json:"source_row,omitempty"`
}

// CedantRecord is one populated row of a cedant's loss ledger. Records are
// keyed by the loss data set they belong to and ordered by Index within it.
type CedantRecord struct {
	LossDataID        string    `bson:"loss_data_id" json:"loss_data_id"`
	Index             int       `bson:"index" json:"index"`
	LossYear          string    `bson:"loss_year" json:"loss_year"`
	LossDescription   string    `bson:"loss_description" json:"loss_description"`
	HistEventID       *string   `bson:"hist_event_id,omitempty" json:"hist_event_id,omitempty"`
	MatchConfidence   string    `bson:"match_confidence,omitempty" json:"match_confidence,omitempty"`
	OriginalLossGross float64   `bson:"original_loss_gross,omitempty" json:"original_loss_gross,omitempty"`
	AsOfYear          string    `bson:"as_of_year,omitempty" json:"as_of_year,omitempty"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}
