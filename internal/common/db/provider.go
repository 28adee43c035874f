package db

import (
	"sync/atomic"

	appErr "codejudge/pkg/errors"
)

// Provider hands out the live database. Stores resolve it per call so a
// pool reopened after a failover is picked up without rebuilding them.
type Provider interface {
	Current() Database
}

// Manager is a Provider whose database can be replaced at runtime.
type Manager struct {
	current atomic.Pointer[Database]
}

func NewManager(database Database) *Manager {
	m := &Manager{}
	if database != nil {
		m.Replace(database)
	}
	return m
}

func (m *Manager) Current() Database {
	if m == nil {
		return nil
	}
	if p := m.current.Load(); p != nil {
		return *p
	}
	return nil
}

// Replace installs next and returns the database it displaced, which the
// caller closes once in-flight queries drain.
func (m *Manager) Replace(next Database) Database {
	var prev Database
	if p := m.current.Swap(&next); p != nil {
		prev = *p
	}
	return prev
}

// CurrentDatabase resolves provider or reports the store as unavailable.
func CurrentDatabase(provider Provider) (Database, error) {
	if provider == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database provider is not configured")
	}
	database := provider.Current()
	if database == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database is not connected")
	}
	return database, nil
}
