//go:build linux

package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/spec"
)

// runCgroup is the cgroup v2 leaf of one test run, laid out as
// <root>/<submission>/<test>-<nanos>. A nil *runCgroup means cgroups are
// off; its readers return zero values.
type runCgroup struct {
	dir    string
	parent string
}

func newRunCgroup(root, submissionID, testID string) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	parent := filepath.Join(root, submissionID)
	cg := &runCgroup{
		parent: parent,
		dir:    filepath.Join(parent, testID+"-"+strconv.FormatInt(time.Now().UnixNano(), 10)),
	}
	if err := os.MkdirAll(cg.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cgroup %s: %w", cg.dir, err)
	}
	return cg, nil
}

func (cg *runCgroup) path() string {
	if cg == nil {
		return ""
	}
	return cg.dir
}

// remove drops the leaf, and the submission directory once no sibling run
// is left in it.
func (cg *runCgroup) remove() {
	if cg == nil {
		return
	}
	_ = os.RemoveAll(cg.dir)
	_ = os.Remove(cg.parent)
}

// limit writes pids, memory and cpu controllers. CPU bandwidth stays
// unthrottled; the CPU budget is enforced by polling usage.
func (cg *runCgroup) limit(limits spec.ResourceLimit) error {
	pids := "max"
	if limits.PIDs > 0 {
		pids = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := cg.write("pids.max", pids); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		if err := cg.write("memory.max", strconv.FormatInt(limits.MemoryMB<<20, 10)); err != nil {
			return err
		}
		// missing without swap accounting
		_ = cg.write("memory.swap.max", "0")
	}
	return cg.write("cpu.max", "max 100000")
}

func (cg *runCgroup) add(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return cg.write("cgroup.procs", strconv.Itoa(pid))
}

func (cg *runCgroup) kill() error {
	return killCgroupDir(cg.path())
}

func (cg *runCgroup) oomKilled() bool {
	n, ok := cg.stat("memory.events", "oom_kill")
	return ok && n > 0
}

func (cg *runCgroup) cpuTimeMs() int64 {
	usec, _ := cg.stat("cpu.stat", "usage_usec")
	return usec / 1000
}

// peakMemoryKB prefers memory.peak and falls back to the rusage max RSS.
func (cg *runCgroup) peakMemoryKB(state *os.ProcessState) int64 {
	if cg != nil {
		raw, err := os.ReadFile(filepath.Join(cg.dir, "memory.peak"))
		if err == nil {
			if n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64); err == nil && n > 0 {
				return n / 1024
			}
		}
	}
	if state == nil {
		return 0
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		return ru.Maxrss
	}
	return 0
}

// stat reads key from a flat-keyed controller file such as cpu.stat.
func (cg *runCgroup) stat(file, key string) (int64, bool) {
	if cg == nil {
		return 0, false
	}
	raw, err := os.ReadFile(filepath.Join(cg.dir, file))
	if err != nil {
		return 0, false
	}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), " ")
		if !ok || name != key {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (cg *runCgroup) write(file, value string) error {
	return os.WriteFile(filepath.Join(cg.dir, file), []byte(value), 0o640)
}

func rusageCPUTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return (ru.Utime.Nano() + ru.Stime.Nano()) / int64(time.Millisecond)
}

func killCgroupDir(dir string) error {
	if dir == "" {
		return nil
	}
	killFile := filepath.Join(dir, "cgroup.kill")
	if _, err := os.Stat(killFile); err != nil {
		return err
	}
	return os.WriteFile(killFile, []byte("1"), 0o600)
}
