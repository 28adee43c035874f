package catalog

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const twoSumYAML = `id: two-sum
title: Two Sum
timeLimitMs: 2000
memoryLimitMb: 128
comparator:
  type: structural
drivers:
  python: |
    {code}

    import json, sys
    lines = sys.stdin.read().strip().split("\n")
    print(json.dumps(twoSum(json.loads(lines[0]), int(lines[1]))).replace(" ", ""))
testCases:
  - input: "[2,7,11,15]\n9"
    expected: "[0,1]"
    visibility: visible
    order: 1
  - input: "[3,2,4]\n6"
    expected: "[1,2]"
    visibility: visible
    order: 2
  - inputFile: data/3.in
    expectedFile: data/3.out
    order: 3
`

const addTOML = `title = "A plus B"
time_limit_ms = 1000
memory_limit_mb = 64

[comparator]
type = "float"
float_tolerance = 0.001

[[test_cases]]
id = "small"
input = "1 2"
expected = "3"
visibility = "visible"
`

func writeTwoSumDir(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "two-sum")
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"problem.yaml": twoSumYAML,
		"data/3.in":    "[3,3]\n6\n",
		"data/3.out":   "[0,1]\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadProblemDirYAML(t *testing.T) {
	dir := writeTwoSumDir(t, t.TempDir())
	p, err := LoadProblemDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ID != "two-sum" || p.TimeLimitMs != 2000 || p.Comparator.Type != compare.TypeStructural {
		t.Fatalf("unexpected problem: %+v", p)
	}
	if len(p.TestCases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(p.TestCases))
	}
	third := p.TestCases[2]
	if third.ID != "3" || third.Input != "[3,3]\n6\n" || third.ExpectedOutput != "[0,1]\n" {
		t.Fatalf("file-backed case not resolved: %+v", third)
	}
	if third.Visibility != model.VisibilityHidden || third.ProblemID != "two-sum" {
		t.Fatalf("expected defaults applied: %+v", third)
	}
	if len(p.VisibleCases()) != 2 {
		t.Fatalf("expected 2 visible cases")
	}
}

func TestLoadProblemFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a-plus-b.toml")
	if err := os.WriteFile(path, []byte(addTOML), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadProblemFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ID != "a-plus-b" || p.Comparator.FloatTolerance != 0.001 || p.TestCases[0].ID != "small" {
		t.Fatalf("unexpected problem: %+v", p)
	}
}

func TestLoadProblemRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		code    appErr.ErrorCode
	}{
		{name: "no_cases", content: "id: x\n", code: appErr.TestCaseInvalid},
		{name: "bad_comparator", content: "id: x\ncomparator:\n  type: magic\ntestCases:\n  - input: a\n", code: appErr.DataPackInvalid},
		{name: "driver_without_placeholder", content: "id: x\ndrivers:\n  python: print(1)\ntestCases:\n  - input: a\n", code: appErr.DataPackInvalid},
		{name: "escaping_file", content: "id: x\ntestCases:\n  - inputFile: ../../etc/passwd\n", code: appErr.InvalidParams},
		{name: "duplicate_ids", content: "id: x\ntestCases:\n  - id: a\n  - id: a\n", code: appErr.TestCaseInvalid},
		{name: "bad_visibility", content: "id: x\ntestCases:\n  - visibility: public\n", code: appErr.TestCaseInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadProblemFile(path)
			if !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}

func TestFileCatalog(t *testing.T) {
	root := t.TempDir()
	writeTwoSumDir(t, root)
	if err := os.WriteFile(filepath.Join(root, "a-plus-b.toml"), []byte(addTOML), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := NewFileCatalog(root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(c.IDs()) != 2 {
		t.Fatalf("expected 2 problems, got %v", c.IDs())
	}
	p, err := c.Get(context.Background(), "two-sum")
	if err != nil || p.Title != "Two Sum" {
		t.Fatalf("get two-sum: %+v %v", p, err)
	}
	if _, err := c.Get(context.Background(), "missing"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected problem not found, got %v", err)
	}
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	m.gets++
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	sum := md5.Sum(data)
	return storage.ObjectStat{SizeBytes: int64(len(data)), ETag: hex.EncodeToString(sum[:])}, nil
}

func newLockCache(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDataPackPublishAndGet(t *testing.T) {
	objects := newMemStorage()
	locks := newLockCache(t)
	c, err := NewDataPackCatalog(DataPackConfig{Bucket: "problems", Prefix: "packs/", CacheDir: t.TempDir()}, objects, locks)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	src := writeTwoSumDir(t, t.TempDir())

	id, err := c.Publish(context.Background(), src)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "two-sum" {
		t.Fatalf("unexpected id %s", id)
	}
	if _, ok := objects.objects["problems/packs/two-sum.tar.zst"]; !ok {
		t.Fatalf("pack not uploaded: %v", objects.objects)
	}

	p, err := c.Get(context.Background(), "two-sum")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.TestCases) != 3 || p.TestCases[2].ExpectedOutput != "[0,1]\n" {
		t.Fatalf("unexpected problem from pack: %+v", p)
	}
	if _, err := c.Get(context.Background(), "two-sum"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if objects.gets != 1 {
		t.Fatalf("expected a single download, got %d", objects.gets)
	}

	held, err := locks.Exists(context.Background(), lockKeyPrefix+"two-sum")
	if err != nil || held != 0 {
		t.Fatalf("expected lock released, exists=%d err=%v", held, err)
	}
}

func TestDataPackDiskReuseAcrossInstances(t *testing.T) {
	objects := newMemStorage()
	cacheDir := t.TempDir()
	cfg := DataPackConfig{Bucket: "problems", CacheDir: cacheDir}
	first, err := NewDataPackCatalog(cfg, objects, nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if _, err := first.Publish(context.Background(), writeTwoSumDir(t, t.TempDir())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := first.Get(context.Background(), "two-sum"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, _ := NewDataPackCatalog(cfg, objects, nil)
	if _, err := second.Get(context.Background(), "two-sum"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if objects.gets != 1 {
		t.Fatalf("expected extracted pack reused from disk, downloads=%d", objects.gets)
	}
}

func TestDataPackMissingProblem(t *testing.T) {
	c, err := NewDataPackCatalog(DataPackConfig{Bucket: "problems", CacheDir: t.TempDir()}, newMemStorage(), nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if _, err := c.Get(context.Background(), "nope"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected problem not found, got %v", err)
	}
	if _, err := c.Get(context.Background(), "../etc"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected traversal id rejected, got %v", err)
	}
}

func TestDataPackWaitsForForeignLock(t *testing.T) {
	objects := newMemStorage()
	locks := newLockCache(t)
	c, err := NewDataPackCatalog(DataPackConfig{Bucket: "problems", CacheDir: t.TempDir(), LockWait: 50 * time.Millisecond}, objects, locks)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if _, err := c.Publish(context.Background(), writeTwoSumDir(t, t.TempDir())); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ok, err := locks.TryLock(context.Background(), lockKeyPrefix+"two-sum", time.Minute); err != nil || !ok {
		t.Fatalf("take lock: %v", err)
	}
	if _, err := c.Get(context.Background(), "two-sum"); !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected timeout waiting for foreign download, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "ftp"}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestShippedProblemsLoad(t *testing.T) {
	cat, err := NewFileCatalog(filepath.Join("..", "..", "..", "problems"))
	if err != nil {
		t.Fatalf("open shipped problems: %v", err)
	}
	twoSum, err := cat.Get(context.Background(), "two-sum")
	if err != nil {
		t.Fatalf("get two-sum: %v", err)
	}
	if len(twoSum.TestCases) != 3 || len(twoSum.VisibleCases()) != 2 {
		t.Fatalf("unexpected two-sum cases: %+v", twoSum.TestCases)
	}
	for _, lang := range []string{"python", "javascript", "java", "cpp"} {
		if _, ok := twoSum.Drivers[lang]; !ok {
			t.Fatalf("missing %s driver", lang)
		}
	}
	aPlusB, err := cat.Get(context.Background(), "a-plus-b")
	if err != nil {
		t.Fatalf("get a-plus-b: %v", err)
	}
	if aPlusB.TimeLimitMs != 1000 || len(aPlusB.TestCases) != 3 {
		t.Fatalf("unexpected a-plus-b: %+v", aPlusB)
	}
}
