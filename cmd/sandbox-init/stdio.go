//go:build linux

package main

import (
	"fmt"
	"os"

	"codejudge/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

// redirectStdio points fds 0-2 at the run spec's stream files. Missing paths
// become /dev/null; output files are truncated.
func redirectStdio(rs spec.RunSpec) error {
	const write = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	for fd, s := range []struct {
		path string
		flag int
	}{
		{rs.StdinPath, os.O_RDONLY},
		{rs.StdoutPath, write},
		{rs.StderrPath, write},
	} {
		p := s.path
		if p == "" {
			p = os.DevNull
		}
		f, err := os.OpenFile(p, s.flag, 0o644)
		if err != nil {
			return err
		}
		err = unix.Dup3(int(f.Fd()), fd, 0)
		f.Close()
		if err != nil {
			return fmt.Errorf("fd %d: %w", fd, err)
		}
	}
	return nil
}
