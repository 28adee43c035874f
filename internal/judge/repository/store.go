// Package repository persists submissions and publishes their final status.
package repository

import (
	"context"
	"sort"
	"sync"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/repository"
)

// SubmissionStore is the durable record of submissions.
type SubmissionStore interface {
	Create(ctx context.Context, sub model.Submission) error
	Update(ctx context.Context, sub model.Submission) error
	Get(ctx context.Context, id string) (model.Submission, error)
	// ListByUser returns the user's submissions, most recent first.
	ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Submission, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

func notFound(id string) error {
	return appErr.Newf(appErr.SubmissionNotFound, "submission %s not found", id)
}

// finalized rejects writes over a terminal record, so exactly one verdict
// survives when a worker and a cancel race to finalize.
func finalized(prev model.Submission) error {
	return appErr.Newf(appErr.InvalidStateTransition, "submission %s is already %s", prev.ID, prev.Status).
		WithDetail("status", string(prev.Status))
}

func validateSubmission(sub model.Submission) error {
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if sub.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if sub.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	return nil
}

// MemoryStore keeps submissions in process. Used in local mode and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]model.Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]model.Submission)}
}

func (m *MemoryStore) Create(ctx context.Context, sub model.Submission) error {
	if err := validateSubmission(sub); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; ok {
		return appErr.Newf(appErr.RecordAlreadyExists, "submission %s already exists", sub.ID)
	}
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, sub model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.subs[sub.ID]
	if !ok {
		return notFound(sub.ID)
	}
	if prev.Terminal() {
		return finalized(prev)
	}
	// Identity and code never change, matching the SQL store.
	sub.ProblemID, sub.UserID, sub.Language = prev.ProblemID, prev.UserID, prev.Language
	sub.Code, sub.SubmittedAt = prev.Code, prev.SubmittedAt
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return model.Submission{}, notFound(id)
	}
	return sub, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Submission, error) {
	m.mu.RLock()
	var all []model.Submission
	for _, sub := range m.subs {
		if sub.UserID == userID {
			all = append(all, sub)
		}
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].SubmittedAt.After(all[j].SubmittedAt)
	})
	if opts.Offset >= len(all) {
		return []model.Submission{}, nil
	}
	end := opts.Offset + opts.Limit
	if opts.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[opts.Offset:end], nil
}

func (m *MemoryStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, sub := range m.subs {
		if sub.UserID == userID {
			n++
		}
	}
	return n, nil
}
