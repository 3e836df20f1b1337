package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"
)

const (
	defaultDatabase             = "subpack"
	defaultHistoricalCollection = "historical_events"
	defaultCedantCollection     = "cedant_records"
	defaultOpTimeout            = 5 * time.Second
	storeClientName             = "subpack-mongo"
)

// Client exposes Mongo-backed operations for historical events and cedant
// records.
type Client interface {
	health.Pinger

	// HistoricalEvents returns the full historical event database. Matching
	// scans every event, so there is no filtered variant.
	HistoricalEvents(ctx context.Context) ([]HistoricalEvent, error)

	// SeedHistoricalEvents inserts events when the collection is empty and
	// reports how many were written. A non-empty collection is left alone so
	// worker restarts never duplicate the database.
	SeedHistoricalEvents(ctx context.Context, events []HistoricalEvent) (int, error)

	// CedantRecords returns the records of one loss data set ordered by
	// index. ErrNotFound when the set has no records.
	CedantRecords(ctx context.Context, lossDataID string) ([]CedantRecord, error)

	// ReplaceCedantRecords atomically swaps the records of one loss data set.
	ReplaceCedantRecords(ctx context.Context, lossDataID string, records []CedantRecord) error
}

// Options configures the Mongo store client.
type Options struct {
	Client               *mongodriver.Client
	Database             string
	HistoricalCollection string
	CedantCollection     string
	Timeout              time.Duration
}

type client struct {
	mongo      *mongodriver.Client
	historical collection
	cedant     collection
	timeout    time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	db := opts.Database
	if db == "" {
		db = defaultDatabase
	}
	histName := opts.HistoricalCollection
	if histName == "" {
		histName = defaultHistoricalCollection
	}
	cedName := opts.CedantCollection
	if cedName == "" {
		cedName = defaultCedantCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	hist := mongoCollection{coll: opts.Client.Database(db).Collection(histName)}
	ced := mongoCollection{coll: opts.Client.Database(db).Collection(cedName)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, hist, ced); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, historical: hist, cedant: ced, timeout: timeout}, nil
}

func (c *client) Name() string {
	return storeClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) HistoricalEvents(ctx context.Context) ([]HistoricalEvent, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.historical.Find(ctx, bson.M{}, bson.D{{Key: "source_row", Value: 1}})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []HistoricalEvent
	for cur.Next(ctx) {
		var ev HistoricalEvent
		if err := cur.Decode(&ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) SeedHistoricalEvents(ctx context.Context, events []HistoricalEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	count, err := c.historical.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	docs := make([]any, len(events))
	for i, ev := range events {
		docs[i] = ev
	}
	if err := c.historical.InsertMany(ctx, docs); err != nil {
		return 0, err
	}
	return len(events), nil
}

func (c *client) CedantRecords(ctx context.Context, lossDataID string) ([]CedantRecord, error) {
	if lossDataID == "" {
		return nil, errors.New("loss data id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.cedant.Find(ctx, bson.M{"loss_data_id": lossDataID}, bson.D{{Key: "index", Value: 1}})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []CedantRecord
	for cur.Next(ctx) {
		var rec CedantRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (c *client) ReplaceCedantRecords(ctx context.Context, lossDataID string, records []CedantRecord) error {
	if lossDataID == "" {
		return errors.New("loss data id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.cedant.DeleteMany(ctx, bson.M{"loss_data_id": lossDataID}); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]any, len(records))
	for i, rec := range records {
		rec.LossDataID = lossDataID
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = now
		}
		docs[i] = rec
	}
	return c.cedant.InsertMany(ctx, docs)
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, hist, ced collection) error {
	histIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "hist_event_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := hist.Indexes().CreateOne(ctx, histIndex); err != nil {
		return err
	}
	cedIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "loss_data_id", Value: 1},
			{Key: "index", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := ced.Indexes().CreateOne(ctx, cedIndex); err != nil {
		return err
	}
	return nil
}

// collection abstracts the subset of mongo.Collection the store uses so unit
// tests can substitute fakes.
type collection interface {
	Find(ctx context.Context, filter any, sort bson.D) (cursor, error)
	InsertMany(ctx context.Context, docs []any) error
	DeleteMany(ctx context.Context, filter any) (int64, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, sort bson.D) (cursor, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts = opts.SetSort(sort)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) InsertMany(ctx context.Context, docs []any) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return err
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
func (c mongoCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCursor) Err() error                      { return c.cur.Err() }
func (c mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}
