// Package mongostore is the MongoDB-backed run.Store, grounded on the
// teacher's features/run/mongo client: an injected driver client, a
// bson-document mapping to and from the domain type, and index setup run
// once at construction. Mirrors eventlog/mongostore's collection seam and
// Options convention.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

const (
	defaultRunsCollection  = "rcp_runs"
	defaultAuditCollection = "rcp_approval_audit"
	defaultOpTimeout       = 5 * time.Second
)

// Options configures the Mongo-backed run store.
type Options struct {
	Client           *mongodriver.Client
	Database         string
	RunsCollection   string
	AuditCollection  string
	Timeout          time.Duration
}

// Store implements run.Store against MongoDB.
type Store struct {
	runs    runsCollection
	audit   auditCollection
	timeout time.Duration
}

// NewStore constructs a Store backed by a real MongoDB client and ensures
// its indexes exist.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("run/mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("run/mongostore: database is required")
	}
	runsColl := opts.RunsCollection
	if runsColl == "" {
		runsColl = defaultRunsCollection
	}
	auditColl := opts.AuditCollection
	if auditColl == "" {
		auditColl = defaultAuditCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	return newStoreWithCollections(ctx,
		mongoRunsCollection{coll: db.Collection(runsColl)},
		mongoAuditCollection{coll: db.Collection(auditColl)},
		timeout)
}

// newStoreWithCollections builds a Store over the narrow collection
// interfaces, ensuring indexes exist. Tests supply fakes here instead of a
// live MongoDB connection.
func newStoreWithCollections(ctx context.Context, runs runsCollection, audit auditCollection, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{runs: runs, audit: audit, timeout: timeout}

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.ensureIndexes(ictx); err != nil {
		return nil, fmt.Errorf("run/mongostore: ensure indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.runs.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}); err != nil {
		return err
	}
	_, err := s.audit.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "timestamp", Value: 1}},
		},
	})
	return err
}

// runDocument is the on-disk shape of a Run.
type runDocument struct {
	RunID           string              `bson:"run_id"`
	WorkspaceID     string              `bson:"workspace_id"`
	TemplateID      string              `bson:"template_id"`
	TemplateVersion string              `bson:"template_version"`
	Contract        contract.Contract   `bson:"contract"`
	ExecutionEnv    *run.ExecutionEnv   `bson:"execution_env,omitempty"`
	State           statemachine.State  `bson:"state"`
	PreviousState   *statemachine.State `bson:"previous_state,omitempty"`
	CreatedAt       time.Time           `bson:"created_at"`
	StartedAt       *time.Time          `bson:"started_at,omitempty"`
	CompletedAt     *time.Time          `bson:"completed_at,omitempty"`
	UpdatedAt       time.Time           `bson:"updated_at"`
	LastEventSeq    int64               `bson:"last_event_seq"`
	Cost            cost.Breakdown      `bson:"cost"`
	Artifacts       []run.ArtifactManifest `bson:"artifacts,omitempty"`
	TerminalError   *run.Error          `bson:"terminal_error,omitempty"`
}

func toDocument(r *run.Run) runDocument {
	return runDocument{
		RunID:           r.RunID,
		WorkspaceID:     r.WorkspaceID,
		TemplateID:      r.TemplateID,
		TemplateVersion: r.TemplateVersion,
		Contract:        r.Contract,
		ExecutionEnv:    r.ExecutionEnv,
		State:           r.State,
		PreviousState:   r.PreviousState,
		CreatedAt:       r.CreatedAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		UpdatedAt:       r.UpdatedAt,
		LastEventSeq:    r.LastEventSeq,
		Cost:            r.Cost,
		Artifacts:       r.Artifacts,
		TerminalError:   r.TerminalError,
	}
}

func (d runDocument) toRun() *run.Run {
	return &run.Run{
		RunID:           d.RunID,
		WorkspaceID:     d.WorkspaceID,
		TemplateID:      d.TemplateID,
		TemplateVersion: d.TemplateVersion,
		Contract:        d.Contract,
		ExecutionEnv:    d.ExecutionEnv,
		State:           d.State,
		PreviousState:   d.PreviousState,
		CreatedAt:       d.CreatedAt,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		UpdatedAt:       d.UpdatedAt,
		LastEventSeq:    d.LastEventSeq,
		Cost:            d.Cost,
		Artifacts:       d.Artifacts,
		TerminalError:   d.TerminalError,
	}
}

// auditDocument is the on-disk shape of an approval.AuditRecord.
type auditDocument struct {
	AuditID         string    `bson:"audit_id"`
	RunID           string    `bson:"run_id"`
	CheckpointID    string    `bson:"checkpoint_id"`
	Action          string    `bson:"action"`
	ActorID         string    `bson:"actor_id,omitempty"`
	Source          string    `bson:"source"`
	RejectionReason string    `bson:"rejection_reason,omitempty"`
	Timestamp       time.Time `bson:"timestamp"`
}

func toAuditDocument(rec approval.AuditRecord) auditDocument {
	return auditDocument{
		AuditID:         rec.AuditID,
		RunID:           rec.RunID,
		CheckpointID:    rec.CheckpointID,
		Action:          string(rec.Action),
		ActorID:         rec.ActorID,
		Source:          string(rec.Source),
		RejectionReason: rec.RejectionReason,
		Timestamp:       rec.Timestamp,
	}
}

func (d auditDocument) toAuditRecord() approval.AuditRecord {
	return approval.AuditRecord{
		AuditID:         d.AuditID,
		RunID:           d.RunID,
		CheckpointID:    d.CheckpointID,
		Action:          approval.Status(d.Action),
		ActorID:         d.ActorID,
		Source:          approval.Source(d.Source),
		RejectionReason: d.RejectionReason,
		Timestamp:       d.Timestamp,
	}
}

func (s *Store) Create(ctx context.Context, in run.CreateInput) (*run.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := run.Now()
	r := &run.Run{
		RunID:           in.RunID,
		WorkspaceID:     in.WorkspaceID,
		TemplateID:      in.TemplateID,
		TemplateVersion: in.TemplateVersion,
		Contract:        in.Contract,
		State:           statemachine.StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastEventSeq:    -1,
	}
	if err := s.runs.InsertOne(ctx, toDocument(r)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("run/mongostore: run %s already exists", in.RunID)
		}
		return nil, fmt.Errorf("run/mongostore: insert: %w", err)
	}
	return r, nil
}

func (s *Store) getDocument(ctx context.Context, runID string) (*runDocument, error) {
	var doc runDocument
	err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, run.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("run/mongostore: find: %w", err)
	}
	return &doc, nil
}

func (s *Store) Get(ctx context.Context, runID string) (*run.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc, err := s.getDocument(ctx, runID)
	if err != nil {
		return nil, err
	}
	return doc.toRun(), nil
}

func (s *Store) Snapshot(ctx context.Context, runID string) (statemachine.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc, err := s.getDocument(ctx, runID)
	if err != nil {
		return statemachine.Snapshot{}, err
	}
	return statemachine.Snapshot{
		RunID:         doc.RunID,
		State:         doc.State,
		PreviousState: doc.PreviousState,
	}, nil
}

func (s *Store) updateOne(ctx context.Context, runID string, update bson.M) error {
	update["updated_at"] = run.Now()
	matched, err := s.runs.UpdateOne(ctx, bson.M{"run_id": runID}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("run/mongostore: update: %w", err)
	}
	if matched == 0 {
		return run.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateState(ctx context.Context, runID string, upd run.StateUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.updateOne(ctx, runID, bson.M{
		"state":          upd.State,
		"previous_state": upd.PreviousState,
	})
}

func (s *Store) MarkStarted(ctx context.Context, runID string, env run.ExecutionEnv) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	now := run.Now()
	return s.updateOne(ctx, runID, bson.M{
		"execution_env": env,
		"started_at":    now,
	})
}

func (s *Store) MarkCompleted(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.updateOne(ctx, runID, bson.M{"completed_at": run.Now()})
}

func (s *Store) SetLastEventSeq(ctx context.Context, runID string, seq int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.updateOne(ctx, runID, bson.M{"last_event_seq": seq})
}

func (s *Store) UpdateCost(ctx context.Context, runID string, breakdown cost.Breakdown) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.updateOne(ctx, runID, bson.M{"cost": breakdown})
}

func (s *Store) AddArtifact(ctx context.Context, runID string, artifact run.ArtifactManifest) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	matched, err := s.runs.UpdateOne(ctx, bson.M{"run_id": runID}, bson.M{
		"$push": bson.M{"artifacts": artifact},
		"$set":  bson.M{"updated_at": run.Now()},
	})
	if err != nil {
		return fmt.Errorf("run/mongostore: add artifact: %w", err)
	}
	if matched == 0 {
		return run.ErrNotFound
	}
	return nil
}

func (s *Store) SetTerminalError(ctx context.Context, runID string, rerr run.Error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.updateOne(ctx, runID, bson.M{"terminal_error": rerr})
}

func (s *Store) AppendAudit(ctx context.Context, rec approval.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.audit.InsertOne(ctx, toAuditDocument(rec)); err != nil {
		return fmt.Errorf("run/mongostore: insert audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, runID string) ([]approval.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.audit.Find(ctx, bson.M{"run_id": runID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("run/mongostore: find audit: %w", err)
	}
	defer cur.Close(ctx)

	var docs []auditDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("run/mongostore: decode audit: %w", err)
	}
	recs := make([]approval.AuditRecord, 0, len(docs))
	for _, d := range docs {
		recs = append(recs, d.toAuditRecord())
	}
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.runs.DeleteOne(ctx, bson.M{"run_id": runID}); err != nil {
		return fmt.Errorf("run/mongostore: delete: %w", err)
	}
	if err := s.audit.DeleteMany(ctx, bson.M{"run_id": runID}); err != nil {
		return fmt.Errorf("run/mongostore: delete audit: %w", err)
	}
	return nil
}
