// Package catalog provides read-only access to problems and their test cases.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const (
	DriverFile     = "file"
	DriverDataPack = "datapack"
)

// Catalog looks problems up by id.
type Catalog interface {
	Get(ctx context.Context, problemID string) (model.Problem, error)
}

// Config selects and configures a catalog driver.
type Config struct {
	Driver     string        `yaml:"driver"`
	Dir        string        `yaml:"dir"`
	Bucket     string        `yaml:"bucket"`
	Prefix     string        `yaml:"prefix"`
	CacheDir   string        `yaml:"cacheDir"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
}

// Open builds the configured catalog. The data pack driver needs objects and locks.
func Open(cfg Config, objects storage.ObjectStorage, locks cache.LockOps) (Catalog, error) {
	switch cfg.Driver {
	case "", DriverFile:
		return NewFileCatalog(cfg.Dir)
	case DriverDataPack:
		return NewDataPackCatalog(DataPackConfig{
			Bucket:     cfg.Bucket,
			Prefix:     cfg.Prefix,
			CacheDir:   cfg.CacheDir,
			TTL:        cfg.CacheTTL,
			LockWait:   cfg.LockWait,
			MaxEntries: cfg.MaxEntries,
		}, objects, locks)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

// FileCatalog serves problems from a directory. Each entry is either a problem
// file or a subdirectory holding problem.yaml or problem.toml.
type FileCatalog struct {
	dir      string
	mu       sync.RWMutex
	problems map[string]model.Problem
}

// NewFileCatalog loads every problem under dir.
func NewFileCatalog(dir string) (*FileCatalog, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog dir is required")
	}
	c := &FileCatalog{dir: dir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the directory and swaps the problem set atomically.
func (c *FileCatalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackInvalid, "read catalog dir failed")
	}
	problems := make(map[string]model.Problem, len(entries))
	for _, entry := range entries {
		path := filepath.Join(c.dir, entry.Name())
		var (
			p   model.Problem
			err error
		)
		switch {
		case entry.IsDir():
			p, err = LoadProblemDir(path)
		case IsProblemFile(entry.Name()):
			p, err = LoadProblemFile(path)
		default:
			continue
		}
		if err != nil {
			return err
		}
		if _, dup := problems[p.ID]; dup {
			return appErr.Newf(appErr.DataPackInvalid, "duplicate problem id %s", p.ID)
		}
		problems[p.ID] = p
	}
	c.mu.Lock()
	c.problems = problems
	c.mu.Unlock()
	return nil
}

func (c *FileCatalog) Get(ctx context.Context, problemID string) (model.Problem, error) {
	if problemID == "" {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	c.mu.RLock()
	p, ok := c.problems[problemID]
	c.mu.RUnlock()
	if !ok {
		return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
	}
	return p, nil
}

// IDs lists the loaded problem ids.
func (c *FileCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.problems))
	for id := range c.problems {
		ids = append(ids, id)
	}
	return ids
}
