package catalog

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
)

const (
	metaFileName    = "meta.json"
	tempFileName    = "data-pack.tmp"
	lockKeyPrefix   = "judge:datapack:lock:"
	dataPackSuffix  = ".tar.zst"
	dataPackType    = "application/zstd"
	defaultLockTTL  = 5 * time.Minute
	defaultLockWait = 30 * time.Second
	defaultTTL      = 10 * time.Minute
	defaultEntries  = 64
)

// DataPackConfig configures object-storage backed problems.
type DataPackConfig struct {
	Bucket     string
	Prefix     string
	CacheDir   string
	TTL        time.Duration
	LockWait   time.Duration
	MaxEntries int
}

type packMeta struct {
	ProblemID string `json:"problem_id"`
	ETag      string `json:"etag"`
}

type packEntry struct {
	problem   model.Problem
	expiresAt time.Time
}

// DataPackCatalog downloads problems packed as <prefix><id>.tar.zst, extracts
// them under CacheDir and keeps the parsed problems in memory. Downloads are
// de-duplicated in process and serialized across processes by a Redis lock.
type DataPackCatalog struct {
	cfg     DataPackConfig
	objects storage.ObjectStorage
	locks   cache.LockOps
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]*packEntry
	lru     []string
}

// NewDataPackCatalog creates the catalog. locks may be nil for a single process.
func NewDataPackCatalog(cfg DataPackConfig, objects storage.ObjectStorage, locks cache.LockOps) (*DataPackCatalog, error) {
	if objects == nil {
		return nil, errors.New("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("data pack bucket is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("data pack cache dir is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultEntries
	}
	return &DataPackCatalog{
		cfg:     cfg,
		objects: objects,
		locks:   locks,
		entries: make(map[string]*packEntry),
	}, nil
}

// ObjectKey is where the pack for problemID lives in the bucket.
func (c *DataPackCatalog) ObjectKey(problemID string) string {
	return c.cfg.Prefix + problemID + dataPackSuffix
}

func (c *DataPackCatalog) Get(ctx context.Context, problemID string) (model.Problem, error) {
	if problemID == "" {
		return model.Problem{}, appErr.ValidationError("problem_id", "required")
	}
	if strings.ContainsAny(problemID, `/\`) || strings.HasPrefix(problemID, ".") {
		return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
	}
	if p, ok := c.hit(problemID); ok {
		return p, nil
	}
	v, err, _ := c.group.Do(problemID, func() (interface{}, error) {
		return c.load(ctx, problemID)
	})
	if err != nil {
		return model.Problem{}, err
	}
	return v.(model.Problem), nil
}

func (c *DataPackCatalog) hit(problemID string) (model.Problem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[problemID]
	if !ok {
		return model.Problem{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(problemID)
		return model.Problem{}, false
	}
	c.touchLocked(problemID)
	return entry.problem, true
}

func (c *DataPackCatalog) load(ctx context.Context, problemID string) (model.Problem, error) {
	key := c.ObjectKey(problemID)
	stat, err := c.objects.StatObject(ctx, c.cfg.Bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return model.Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", problemID)
		}
		return model.Problem{}, appErr.Wrapf(err, appErr.StorageError, "stat data pack failed")
	}
	dir := filepath.Join(c.cfg.CacheDir, problemID)
	if !c.checkDisk(dir, stat.ETag) {
		if err := c.fetch(ctx, problemID, key, stat.ETag, dir); err != nil {
			return model.Problem{}, err
		}
	}
	p, err := LoadProblemDir(dir)
	if err != nil {
		return model.Problem{}, err
	}
	if p.ID != problemID {
		return model.Problem{}, appErr.Newf(appErr.DataPackInvalid, "data pack %s holds problem %s", key, p.ID)
	}
	c.add(problemID, p)
	return p, nil
}

func (c *DataPackCatalog) checkDisk(dir, etag string) bool {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return false
	}
	var stored packMeta
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	return stored.ETag == etag
}

func (c *DataPackCatalog) fetch(ctx context.Context, problemID, key, etag, dir string) error {
	if c.locks != nil {
		lockKey := lockKeyPrefix + problemID
		locked, err := c.locks.TryLock(ctx, lockKey, defaultLockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.LockFailed, "acquire data pack lock failed")
		}
		if !locked {
			return c.waitForDisk(ctx, dir, etag)
		}
		defer func() {
			_ = c.locks.Unlock(context.Background(), lockKey)
		}()
		if c.checkDisk(dir, etag) {
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup cache dir failed")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache dir failed")
	}
	tempPath := filepath.Join(dir, tempFileName)
	if err := c.download(ctx, key, tempPath); err != nil {
		return err
	}
	if err := extractDataPack(tempPath, dir); err != nil {
		return err
	}
	_ = os.Remove(tempPath)

	meta, _ := json.Marshal(packMeta{ProblemID: problemID, ETag: etag})
	if err := os.WriteFile(filepath.Join(dir, metaFileName), meta, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write meta failed")
	}
	return nil
}

func (c *DataPackCatalog) waitForDisk(ctx context.Context, dir, etag string) error {
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		if c.checkDisk(dir, etag) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for data pack download timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (c *DataPackCatalog) download(ctx context.Context, key, dstPath string) error {
	reader, err := c.objects.GetObject(ctx, c.cfg.Bucket, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "download data pack failed")
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create data pack file failed")
	}
	defer file.Close()
	if _, err := io.Copy(file, reader); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write data pack file failed")
	}
	return nil
}

// Publish validates the problem in srcDir, packs the directory and uploads it
// under the problem's key. It returns the problem id.
func (c *DataPackCatalog) Publish(ctx context.Context, srcDir string) (string, error) {
	p, err := LoadProblemDir(srcDir)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := packDir(srcDir, &buf); err != nil {
		return "", err
	}
	key := c.ObjectKey(p.ID)
	if err := c.objects.PutObject(ctx, c.cfg.Bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), dataPackType); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "upload data pack failed")
	}
	c.mu.Lock()
	c.removeLocked(p.ID)
	c.mu.Unlock()
	return p.ID, nil
}

func packDir(srcDir string, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create zstd writer failed")
	}
	tw := tar.NewWriter(zw)
	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil || rel == "." {
			return err
		}
		if d.Name() == metaFileName && !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return appErr.Wrapf(walkErr, appErr.DataPackInvalid, "pack problem dir failed")
	}
	if err := tw.Close(); err != nil {
		return appErr.Wrapf(err, appErr.DataPackInvalid, "close tar failed")
	}
	if err := zw.Close(); err != nil {
		return appErr.Wrapf(err, appErr.DataPackInvalid, "close zstd failed")
	}
	return nil
}

func extractDataPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open data pack failed")
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackInvalid, "create zstd reader failed")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DataPackInvalid, "read tar entry failed")
		}
		name := path.Clean(hdr.Name)
		if name == "." || name == tempFileName || name == metaFileName {
			continue
		}
		target, err := safeJoin(dstDir, filepath.FromSlash(name))
		if err != nil {
			return appErr.New(appErr.DataPackInvalid).WithMessage("tar entry escapes data pack")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.CacheError, "write file failed")
			}
			_ = out.Close()
		}
	}
	return nil
}

func (c *DataPackCatalog) add(problemID string, p model.Problem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[problemID] = &packEntry{problem: p, expiresAt: time.Now().Add(c.cfg.TTL)}
	c.touchLocked(problemID)
	for len(c.entries) > c.cfg.MaxEntries && len(c.lru) > 0 {
		oldest := c.lru[0]
		c.removeLocked(oldest)
		_ = os.RemoveAll(filepath.Join(c.cfg.CacheDir, oldest))
	}
}

func (c *DataPackCatalog) touchLocked(problemID string) {
	for i, id := range c.lru {
		if id == problemID {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	c.lru = append(c.lru, problemID)
}

func (c *DataPackCatalog) removeLocked(problemID string) {
	delete(c.entries, problemID)
	for i, id := range c.lru {
		if id == problemID {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
}
