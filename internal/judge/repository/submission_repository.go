package repository

import (
	"context"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/repository"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// SubmissionRepository combines the durable store with the Redis status cache.
// Intermediate states live only in the cache; creation and the final verdict
// are written to both.
type SubmissionRepository struct {
	store  SubmissionStore
	status *StatusRepository
}

// NewSubmissionRepository wires a store with an optional status cache.
func NewSubmissionRepository(store SubmissionStore, status *StatusRepository) *SubmissionRepository {
	return &SubmissionRepository{store: store, status: status}
}

func (r *SubmissionRepository) Create(ctx context.Context, sub model.Submission) error {
	if err := r.store.Create(ctx, sub); err != nil {
		return err
	}
	if r.status == nil {
		return nil
	}
	if err := r.status.Save(ctx, sub); err != nil {
		logger.Warn(ctx, "cache new submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
	if err := r.status.Index(ctx, sub); err != nil {
		logger.Warn(ctx, "index new submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
	return nil
}

// SaveStatus records a non-terminal state such as Compiling or progress updates.
func (r *SubmissionRepository) SaveStatus(ctx context.Context, sub model.Submission) error {
	if r.status == nil {
		return r.store.Update(ctx, sub)
	}
	if err := r.status.Save(ctx, sub); err != nil {
		logger.Warn(ctx, "cache status failed, writing through", zap.String("submission_id", sub.ID), zap.Error(err))
		return r.store.Update(ctx, sub)
	}
	return nil
}

// Finalize persists the verdict and refreshes the cached snapshot.
func (r *SubmissionRepository) Finalize(ctx context.Context, sub model.Submission) error {
	if err := r.store.Update(ctx, sub); err != nil {
		return err
	}
	if r.status == nil {
		return nil
	}
	if err := r.status.Save(ctx, sub); err != nil {
		logger.Warn(ctx, "cache final status failed", zap.String("submission_id", sub.ID), zap.Error(err))
		// A stale non-terminal snapshot must not outlive the verdict.
		_ = r.status.Delete(ctx, sub.ID)
	}
	return nil
}

// Get returns the freshest view of a submission. Cached snapshots omit code.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (model.Submission, error) {
	if id == "" {
		return model.Submission{}, appErr.ValidationError("submission_id", "required")
	}
	if r.status == nil {
		return r.store.Get(ctx, id)
	}
	sub, err := r.status.Load(ctx, id, func(ctx context.Context) (*model.Submission, error) {
		sub, err := r.store.Get(ctx, id)
		if err != nil {
			if appErr.Is(err, appErr.SubmissionNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &sub, nil
	})
	if err != nil {
		return model.Submission{}, err
	}
	if sub == nil {
		return model.Submission{}, notFound(id)
	}
	return *sub, nil
}

// ListByUser pages a user's submissions, most recent first. The Redis index
// serves the page when it holds every submission the store knows about.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) (*repository.PaginationResult[model.Submission], error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if err := opts.Normalize(repository.DefaultPageSize, repository.MaxPageSize); err != nil {
		return nil, appErr.ValidationError("offset", err.Error())
	}
	total, err := r.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.status != nil && total > 0 && total <= r.status.Limit() {
		if items, ok := r.listFromIndex(ctx, userID, total, opts); ok {
			return repository.NewPaginationResult(items, total, opts), nil
		}
	}

	items, err := r.store.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	if r.status != nil && opts.Offset == 0 {
		r.backfillIndex(ctx, userID, total)
	}
	return repository.NewPaginationResult(items, total, opts), nil
}

func (r *SubmissionRepository) listFromIndex(ctx context.Context, userID string, total int64, opts repository.ListOptions) ([]model.Submission, bool) {
	size, err := r.status.IndexSize(ctx, userID)
	if err != nil || size != total {
		return nil, false
	}
	ids, err := r.status.RecentIDs(ctx, userID, opts.Offset, opts.Limit)
	if err != nil {
		return nil, false
	}
	items := make([]model.Submission, 0, len(ids))
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err != nil {
			logger.Warn(ctx, "hydrate indexed submission failed", zap.String("submission_id", id), zap.Error(err))
			return nil, false
		}
		items = append(items, sub)
	}
	return items, true
}

// backfillIndex rebuilds a user's index from the store after a cache miss.
func (r *SubmissionRepository) backfillIndex(ctx context.Context, userID string, total int64) {
	if total <= 0 || total > r.status.Limit() {
		return
	}
	all, err := r.store.ListByUser(ctx, userID, repository.ListOptions{Offset: 0, Limit: int(total)})
	if err != nil {
		logger.Warn(ctx, "backfill submission index failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := r.status.Index(ctx, all...); err != nil {
		logger.Warn(ctx, "backfill submission index failed", zap.String("user_id", userID), zap.Error(err))
	}
}
