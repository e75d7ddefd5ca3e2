// Package redisregistry implements approval.Registry on Redis, so a
// checkpoint's pending visibility matches its expires_at across multiple
// control-plane processes. Grounded on the teacher's registry.Service
// Redis wiring (a *redis.Client injected via an Options struct,
// registry/service.go's rdb.Expire call for TTL management); the
// encode/decode shape follows the hooks package's codec.go JSON-envelope
// convention.
//
// Redis is the visibility layer only: a checkpoint key's TTL is expires_at
// plus Options.ExpirySlack, so it disappears from a naive key scan shortly
// after it expires, but ProcessTimeouts remains the sole
// authority for the state transition that timing out a checkpoint
// requires (spec §4.4) — this registry never transitions anything itself.
package redisregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/contract"
)

// Options configures a Registry instance.
type Options struct {
	// Client is a connected Redis client. Required.
	Client *redis.Client
	// KeyPrefix namespaces checkpoint keys, default "rcp:approval:".
	KeyPrefix string
	// IndexKey names the sorted set used to enumerate checkpoints
	// without a Redis KEYS scan, default "rcp:approval:index".
	IndexKey string
	// ExpirySlack extends each checkpoint's Redis TTL past its
	// expires_at, so ProcessTimeouts has a window to observe and process
	// an expired-but-not-yet-resolved entry before Redis evicts it.
	ExpirySlack time.Duration
}

const (
	defaultKeyPrefix   = "rcp:approval:"
	defaultIndexKey    = "rcp:approval:index"
	defaultExpirySlack = 5 * time.Minute
)

// Registry is a Redis-backed approval.Registry.
type Registry struct {
	client      *redis.Client
	keyPrefix   string
	indexKey    string
	expirySlack time.Duration
}

// New builds a Registry from opts.
func New(opts Options) (*Registry, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redisregistry: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	index := opts.IndexKey
	if index == "" {
		index = defaultIndexKey
	}
	slack := opts.ExpirySlack
	if slack <= 0 {
		slack = defaultExpirySlack
	}
	return &Registry{client: opts.Client, keyPrefix: prefix, indexKey: index, expirySlack: slack}, nil
}

func (r *Registry) key(checkpointID string) string {
	return r.keyPrefix + checkpointID
}

// record is the JSON envelope persisted per checkpoint.
type record struct {
	CheckpointID       string                  `json:"checkpoint_id"`
	RunID              string                  `json:"run_id"`
	ActionType         string                  `json:"action_type"`
	Preview            string                  `json:"preview"`
	RequestedAt        time.Time               `json:"requested_at"`
	ExpiresAt          time.Time               `json:"expires_at"`
	TimeoutAction      string                  `json:"timeout_action"`
	Status             approval.Status         `json:"status"`
	RequestedFromPhase string                  `json:"requested_from_phase"`
}

func toRecord(p approval.PendingApproval) record {
	return record{
		CheckpointID:       p.CheckpointID,
		RunID:              p.RunID,
		ActionType:         p.ActionType,
		Preview:            p.Preview,
		RequestedAt:        p.RequestedAt,
		ExpiresAt:          p.ExpiresAt,
		TimeoutAction:      string(p.TimeoutAction),
		Status:             p.Status,
		RequestedFromPhase: p.RequestedFromPhase,
	}
}

func (rec record) toPending() *approval.PendingApproval {
	return &approval.PendingApproval{
		CheckpointID:       rec.CheckpointID,
		RunID:              rec.RunID,
		ActionType:         rec.ActionType,
		Preview:            rec.Preview,
		RequestedAt:        rec.RequestedAt,
		ExpiresAt:          rec.ExpiresAt,
		TimeoutAction:      contract.ApprovalAction(rec.TimeoutAction),
		Status:             rec.Status,
		RequestedFromPhase: rec.RequestedFromPhase,
	}
}

// Create registers p, failing with approval.ErrAlreadyPending if its key
// already exists.
func (r *Registry) Create(ctx context.Context, p approval.PendingApproval) error {
	key := r.key(p.CheckpointID)
	payload, err := json.Marshal(toRecord(p))
	if err != nil {
		return fmt.Errorf("redisregistry: marshal: %w", err)
	}
	ttl := time.Until(p.ExpiresAt) + r.expirySlack
	if ttl <= 0 {
		ttl = r.expirySlack
	}
	ok, err := r.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redisregistry: setnx %s: %w", key, err)
	}
	if !ok {
		return approval.ErrAlreadyPending
	}
	score := float64(p.RequestedAt.UnixNano())
	if err := r.client.ZAdd(ctx, r.indexKey, redis.Z{Score: score, Member: p.CheckpointID}).Err(); err != nil {
		return fmt.Errorf("redisregistry: index add: %w", err)
	}
	return nil
}

// Get returns the checkpoint, or approval.ErrNotFound.
func (r *Registry) Get(ctx context.Context, checkpointID string) (*approval.PendingApproval, error) {
	payload, err := r.client.Get(ctx, r.key(checkpointID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("redisregistry: get %s: %w", checkpointID, err)
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("redisregistry: unmarshal %s: %w", checkpointID, err)
	}
	return rec.toPending(), nil
}

// UpdateStatus advances the checkpoint's status, preserving its remaining
// TTL.
func (r *Registry) UpdateStatus(ctx context.Context, checkpointID string, status approval.Status) error {
	key := r.key(checkpointID)
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return approval.ErrNotFound
		}
		return fmt.Errorf("redisregistry: get %s: %w", checkpointID, err)
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("redisregistry: unmarshal %s: %w", checkpointID, err)
	}
	rec.Status = status
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redisregistry: ttl %s: %w", checkpointID, err)
	}
	if ttl <= 0 {
		ttl = r.expirySlack
	}
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisregistry: marshal: %w", err)
	}
	if err := r.client.Set(ctx, key, updated, ttl).Err(); err != nil {
		return fmt.Errorf("redisregistry: set %s: %w", checkpointID, err)
	}
	if status != approval.StatusPending {
		if err := r.client.ZRem(ctx, r.indexKey, checkpointID).Err(); err != nil {
			return fmt.Errorf("redisregistry: index remove: %w", err)
		}
	}
	return nil
}

// ListPending returns pending entries matching filter in
// (RequestedAt, CheckpointID) order, using the index sorted set to avoid a
// KEYS scan.
func (r *Registry) ListPending(ctx context.Context, filter approval.Filter) ([]*approval.PendingApproval, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisregistry: index range: %w", err)
	}
	var matches []*approval.PendingApproval
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			if err == approval.ErrNotFound {
				continue // evicted between index read and get
			}
			return nil, err
		}
		if p.Status != approval.StatusPending {
			continue
		}
		if filter.ActionType != "" && p.ActionType != filter.ActionType {
			continue
		}
		if filter.RunID != "" && p.RunID != filter.RunID {
			continue
		}
		matches = append(matches, p)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].RequestedAt.Equal(matches[j].RequestedAt) {
			return matches[i].CheckpointID < matches[j].CheckpointID
		}
		return matches[i].RequestedAt.Before(matches[j].RequestedAt)
	})
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// ListExpired returns pending entries whose ExpiresAt is <= now.
func (r *Registry) ListExpired(ctx context.Context, now time.Time) ([]*approval.PendingApproval, error) {
	pending, err := r.ListPending(ctx, approval.Filter{})
	if err != nil {
		return nil, err
	}
	var expired []*approval.PendingApproval
	for _, p := range pending {
		if !now.Before(p.ExpiresAt) {
			expired = append(expired, p)
		}
	}
	return expired, nil
}
