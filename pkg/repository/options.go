package repository

import "errors"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions describes an offset page over a most-recent-first listing.
type ListOptions struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Normalize clamps the page to [1, max] and applies the default size.
func (o *ListOptions) Normalize(defaultLimit, maxLimit int) error {
	if defaultLimit <= 0 {
		defaultLimit = DefaultPageSize
	}
	if maxLimit <= 0 {
		maxLimit = MaxPageSize
	}
	if o.Offset < 0 {
		return errors.New("offset must be non-negative")
	}
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	return nil
}

// Page returns the 1-based page number for the options.
func (o ListOptions) Page() int {
	if o.Limit <= 0 {
		return 1
	}
	return o.Offset/o.Limit + 1
}

// PaginationResult represents the result of a paginated query
type PaginationResult[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	HasMore  bool  `json:"has_more"`
}

// NewPaginationResult creates a new pagination result
func NewPaginationResult[T any](items []T, total int64, opts ListOptions) *PaginationResult[T] {
	return &PaginationResult[T]{
		Items:    items,
		Total:    total,
		Page:     opts.Page(),
		PageSize: opts.Limit,
		HasMore:  int64(opts.Offset+len(items)) < total,
	}
}
