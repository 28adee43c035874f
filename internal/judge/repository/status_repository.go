package repository

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	statusKeyPrefix    = "judge:status:"
	userIndexKeyPrefix = "judge:user:"

	defaultStatusTTL  = 24 * time.Hour
	defaultEmptyTTL   = 30 * time.Second
	defaultIndexLimit = 1000
)

// StatusRepository keeps status snapshots and per-user submission indexes in Redis.
// Snapshots never carry source code.
type StatusRepository struct {
	cache      cache.Cache
	ttl        time.Duration
	indexLimit int64
	snapshots  *cache.ReadThrough[*model.Submission]
}

// StatusOptions tunes snapshot expiry and the per-user index length.
type StatusOptions struct {
	TTL        time.Duration `yaml:"ttl"`
	EmptyTTL   time.Duration `yaml:"emptyTTL"`
	IndexLimit int           `yaml:"indexLimit"`
}

func NewStatusRepository(c cache.Cache, opts StatusOptions) *StatusRepository {
	if opts.TTL <= 0 {
		opts.TTL = defaultStatusTTL
	}
	if opts.EmptyTTL <= 0 {
		opts.EmptyTTL = defaultEmptyTTL
	}
	if opts.IndexLimit <= 0 {
		opts.IndexLimit = defaultIndexLimit
	}
	return &StatusRepository{
		cache:      c,
		ttl:        opts.TTL,
		indexLimit: int64(opts.IndexLimit),
		snapshots: &cache.ReadThrough[*model.Submission]{
			Cache:   c,
			TTL:     opts.TTL,
			MissTTL: opts.EmptyTTL,
			Codec: cache.Codec[*model.Submission]{
				Encode: marshalSnapshot,
				Decode: unmarshalSnapshot,
				Absent: func(sub *model.Submission) bool { return sub == nil },
			},
		},
	}
}

func statusKey(id string) string {
	return statusKeyPrefix + id
}

func userIndexKey(userID string) string {
	return userIndexKeyPrefix + userID
}

// Save overwrites the status snapshot of sub.
func (r *StatusRepository) Save(ctx context.Context, sub model.Submission) error {
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	payload, err := marshalSnapshot(&sub)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode status failed")
	}
	if err := r.cache.Set(ctx, statusKey(sub.ID), payload, cache.Jitter(r.ttl)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "save status failed")
	}
	return nil
}

// Get returns the cached snapshot. The bool is false on a miss.
func (r *StatusRepository) Get(ctx context.Context, id string) (model.Submission, bool, error) {
	payload, err := r.cache.Get(ctx, statusKey(id))
	if err != nil {
		return model.Submission{}, false, appErr.Wrapf(err, appErr.CacheError, "get status failed")
	}
	if payload == "" || payload == cache.MissMarker {
		return model.Submission{}, false, nil
	}
	sub, err := unmarshalSnapshot(payload)
	if err != nil {
		return model.Submission{}, false, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return *sub, true, nil
}

// Load reads through the snapshot cache. fetch returns nil when the submission
// does not exist; the miss is cached briefly.
func (r *StatusRepository) Load(ctx context.Context, id string, fetch func(context.Context) (*model.Submission, error)) (*model.Submission, error) {
	return r.snapshots.Load(ctx, statusKey(id), fetch)
}

// Delete drops the snapshot of id.
func (r *StatusRepository) Delete(ctx context.Context, id string) error {
	if err := r.cache.Del(ctx, statusKey(id)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete status failed")
	}
	return nil
}

// Index records sub in its owner's sorted set, scored by submission time,
// and trims the set to the newest indexLimit entries.
func (r *StatusRepository) Index(ctx context.Context, subs ...model.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	touched := make(map[string]struct{})
	err := r.cache.Pipeline(ctx, func(pipe cache.Pipeliner) error {
		for _, sub := range subs {
			if sub.UserID == "" {
				continue
			}
			key := userIndexKey(sub.UserID)
			member := cache.ZMember{Score: float64(sub.SubmittedAt.UnixMilli()), Member: sub.ID}
			if err := pipe.ZAdd(key, member); err != nil {
				return err
			}
			if err := pipe.Expire(key, r.ttl); err != nil {
				return err
			}
			touched[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "index submission failed")
	}
	for key := range touched {
		if err := r.cache.ZRemRangeByRank(ctx, key, 0, -r.indexLimit-1); err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "trim submission index failed")
		}
	}
	return nil
}

// IndexSize returns how many submissions the user's index holds.
func (r *StatusRepository) IndexSize(ctx context.Context, userID string) (int64, error) {
	n, err := r.cache.ZCard(ctx, userIndexKey(userID))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "count submission index failed")
	}
	return n, nil
}

// RecentIDs returns submission ids of userID, most recent first.
func (r *StatusRepository) RecentIDs(ctx context.Context, userID string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := int64(offset)
	ids, err := r.cache.ZRevRange(ctx, userIndexKey(userID), start, start+int64(limit)-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read submission index failed")
	}
	return ids, nil
}

// Limit is the maximum number of ids kept per user.
func (r *StatusRepository) Limit() int64 {
	return r.indexLimit
}

func marshalSnapshot(sub *model.Submission) (string, error) {
	snapshot := *sub
	snapshot.Code = ""
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSnapshot(payload string) (*model.Submission, error) {
	var sub model.Submission
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
