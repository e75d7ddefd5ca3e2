// Package mongostore is the MongoDB-backed eventlog.Store, grounded on the
// teacher's features/run/mongo client: an injected driver client, a
// bson-document mapping to and from the domain type, and index setup run
// once at construction.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/runcontrolplane/rcp/eventlog"
)

const (
	defaultEventsCollection   = "rcp_events"
	defaultCountersCollection = "rcp_event_seqs"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Mongo-backed event log store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	EventsCollection   string
	CountersCollection string
	Timeout            time.Duration
}

// Store implements eventlog.Store against MongoDB. Per-run sequence numbers
// are assigned via an atomic $inc on a dedicated counters collection, which
// is the only point of contention across concurrent appends for a run.
type Store struct {
	events   eventsCollection
	counters countersCollection
	timeout  time.Duration
}

// NewStore constructs a Store backed by a real MongoDB client and ensures
// its indexes exist.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("eventlog/mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("eventlog/mongostore: database is required")
	}
	eventsColl := opts.EventsCollection
	if eventsColl == "" {
		eventsColl = defaultEventsCollection
	}
	countersColl := opts.CountersCollection
	if countersColl == "" {
		countersColl = defaultCountersCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	return newStoreWithCollections(ctx,
		mongoEventsCollection{coll: db.Collection(eventsColl)},
		mongoCountersCollection{coll: db.Collection(countersColl)},
		timeout)
}

// newStoreWithCollections builds a Store over the narrow collection
// interfaces, ensuring indexes exist. Tests supply fakes here instead of a
// live MongoDB connection.
func newStoreWithCollections(ctx context.Context, events eventsCollection, counters countersCollection, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{events: events, counters: counters, timeout: timeout}

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.ensureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

// eventDocument is the on-disk shape of an Event. Payload is stored as a
// tagged sub-document: Kind names the EventType, Data holds the
// kind-specific fields marshaled from the concrete payload struct.
type eventDocument struct {
	EventID   string    `bson:"event_id"`
	RunID     string    `bson:"run_id"`
	Seq       int64     `bson:"seq"`
	Timestamp time.Time `bson:"timestamp"`
	Phase     string    `bson:"phase,omitempty"`
	Severity  string    `bson:"severity"`
	Kind      string    `bson:"kind"`
	Data      bson.Raw  `bson:"data"`
}

func toDocument(ev *eventlog.Event) (eventDocument, error) {
	data, err := bson.Marshal(ev.Payload)
	if err != nil {
		return eventDocument{}, fmt.Errorf("marshal payload: %w", err)
	}
	return eventDocument{
		EventID:   ev.EventID,
		RunID:     ev.RunID,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Phase:     ev.Phase,
		Severity:  string(ev.Severity),
		Kind:      string(ev.Type()),
		Data:      data,
	}, nil
}

func (d eventDocument) toEvent() (*eventlog.Event, error) {
	payload, err := decodePayload(eventlog.EventType(d.Kind), d.Data)
	if err != nil {
		return nil, err
	}
	return &eventlog.Event{
		EventID:   d.EventID,
		RunID:     d.RunID,
		Seq:       d.Seq,
		Timestamp: d.Timestamp,
		Phase:     d.Phase,
		Severity:  eventlog.Severity(d.Severity),
		Payload:   payload,
	}, nil
}

func decodePayload(kind eventlog.EventType, data bson.Raw) (eventlog.Payload, error) {
	var err error
	var payload eventlog.Payload

	switch kind {
	case eventlog.TypeRunStarted:
		var v eventlog.RunStartedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypePhaseChanged:
		var v eventlog.PhaseChangedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeToolCalled:
		var v eventlog.ToolCalledPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeToolResult:
		var v eventlog.ToolResultPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeFileChanged:
		var v eventlog.FileChangedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeArtifactCreated:
		var v eventlog.ArtifactCreatedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeCheckpointRequested:
		var v eventlog.CheckpointRequestedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeCheckpointApproved:
		var v eventlog.CheckpointApprovedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeCheckpointRejected:
		var v eventlog.CheckpointRejectedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeCheckpointTimeout:
		var v eventlog.CheckpointTimeoutPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeDriftDetected:
		var v eventlog.DriftDetectedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeRunCompleted:
		var v eventlog.RunCompletedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	case eventlog.TypeRunFailed:
		var v eventlog.RunFailedPayload
		err = bson.Unmarshal(data, &v)
		payload = v
	default:
		return nil, fmt.Errorf("eventlog/mongostore: unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	return payload, nil
}

// nextSeq atomically increments the per-run counter and returns the seq to
// assign to the next event. The counter document stores a 1-based count of
// events ever assigned (so a fresh upsert-created doc starts at 1 via
// $inc), and Seq is 0-based, so the assigned value is count-1.
func (s *Store) nextSeq(ctx context.Context, runID string) (int64, error) {
	filter := bson.M{"run_id": runID}
	update := bson.M{"$inc": bson.M{"count": int64(1)}}
	res := s.counters.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After))
	var doc struct {
		Count int64 `bson:"count"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Count - 1, nil
}

// Append implements eventlog.Store.
func (s *Store) Append(ctx context.Context, ev *eventlog.Event) (*eventlog.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if existing, err := s.getByID(ctx, ev.RunID, ev.EventID); err == nil {
		if !eventlog.SamePayload(existing, ev) {
			return nil, fmt.Errorf("%w: event_id=%s", eventlog.ErrDuplicateEvent, ev.EventID)
		}
		return existing, nil
	} else if !errors.Is(err, eventlog.ErrRunNotFound) {
		return nil, err
	}

	last, err := s.LatestSeq(ctx, ev.RunID)
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: read latest seq: %w", err)
	}
	seq, err := s.nextSeq(ctx, ev.RunID)
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: assign seq: %w", err)
	}
	eventlog.CheckContiguous("eventlog/mongostore", last, seq)
	stored := *ev
	stored.Seq = seq
	doc, err := toDocument(&stored)
	if err != nil {
		return nil, err
	}
	if err := s.events.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			if existing, gErr := s.getByID(ctx, ev.RunID, ev.EventID); gErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("eventlog/mongostore: insert: %w", err)
	}
	return &stored, nil
}

// AppendBatch implements eventlog.Store. Events are appended one at a time
// under the same atomic-counter discipline as Append; Mongo has no
// multi-document transaction requirement here because seq assignment is
// already linearized per run by the counter document.
func (s *Store) AppendBatch(ctx context.Context, evs []*eventlog.Event) ([]*eventlog.Event, error) {
	out := make([]*eventlog.Event, 0, len(evs))
	for _, ev := range evs {
		stored, err := s.Append(ctx, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Store) getByID(ctx context.Context, runID, eventID string) (*eventlog.Event, error) {
	var doc eventDocument
	err := s.events.FindOne(ctx, bson.M{"run_id": runID, "event_id": eventID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: run_id=%s event_id=%s", eventlog.ErrRunNotFound, runID, eventID)
	}
	if err != nil {
		return nil, err
	}
	return doc.toEvent()
}

// GetByID implements eventlog.Store.
func (s *Store) GetByID(ctx context.Context, runID, eventID string) (*eventlog.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.getByID(ctx, runID, eventID)
}

// Query implements eventlog.Store.
func (s *Store) Query(ctx context.Context, runID string, opts eventlog.QueryOptions) (*eventlog.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	afterSeq := opts.AfterSeq
	if opts.Cursor != "" {
		var cur int64
		if _, err := fmt.Sscanf(opts.Cursor, "%d", &cur); err != nil {
			return nil, fmt.Errorf("eventlog/mongostore: invalid cursor %q: %w", opts.Cursor, err)
		}
		if cur > afterSeq {
			afterSeq = cur
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	filter := bson.M{"run_id": runID, "seq": bson.M{"$gt": afterSeq}}
	if len(opts.Types) > 0 {
		kinds := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			kinds[i] = string(t)
		}
		filter["kind"] = bson.M{"$in": kinds}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit + 1))
	cur, err := s.events.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: query: %w", err)
	}
	defer cur.Close(ctx)

	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: decode: %w", err)
	}

	hasMore := len(docs) > limit
	if hasMore {
		docs = docs[:limit]
	}
	page := &eventlog.Page{HasMore: hasMore}
	for _, d := range docs {
		ev, err := d.toEvent()
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, ev)
	}
	if hasMore && len(page.Events) > 0 {
		page.Cursor = fmt.Sprintf("%d", page.Events[len(page.Events)-1].Seq)
	}
	return page, nil
}

// Stats implements eventlog.Store.
func (s *Store) Stats(ctx context.Context, runID string) (*eventlog.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipeline := bson.A{
		bson.M{"$match": bson.M{"run_id": runID}},
		bson.M{"$group": bson.M{"_id": "$kind", "count": bson.M{"$sum": 1}}},
	}
	cur, err := s.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: stats: %w", err)
	}
	defer cur.Close(ctx)

	stats := &eventlog.Stats{RunID: runID, ByType: make(map[eventlog.EventType]int64)}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("eventlog/mongostore: decode stats: %w", err)
	}
	for _, r := range rows {
		stats.ByType[eventlog.EventType(r.ID)] = r.Count
		stats.EventCount += r.Count
	}

	seq, err := s.LatestSeq(ctx, runID)
	if err != nil {
		return nil, err
	}
	stats.LatestSeq = seq
	return stats, nil
}

// LatestSeq implements eventlog.Store.
func (s *Store) LatestSeq(ctx context.Context, runID string) (int64, error) {
	var doc struct {
		Count int64 `bson:"count"`
	}
	err := s.counters.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventlog/mongostore: latest seq: %w", err)
	}
	return doc.Count - 1, nil
}
