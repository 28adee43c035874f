//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"codejudge/internal/judge/sandbox/spec"

	"golang.org/x/sys/unix"
)

// enterRoot makes mounts private to this namespace, binds every mount into
// rootfs (or in place when rootfs is empty), then mounts /proc and chroots.
func enterRoot(rootfs string, mounts []spec.MountSpec) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("private /: %w", err)
	}
	for _, m := range mounts {
		if err := bind(filepath.Join("/", rootfs, m.Target), m); err != nil {
			return fmt.Errorf("bind %s: %w", m.Target, err)
		}
	}
	if rootfs == "" {
		return nil
	}
	proc := filepath.Join(rootfs, "proc")
	if err := os.MkdirAll(proc, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("proc", proc, "proc", 0, ""); err != nil && !errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("mount proc: %w", err)
	}
	if err := unix.Chroot(rootfs); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	return os.Chdir("/")
}

func bind(target string, m spec.MountSpec) error {
	if m.Source == "" || m.Target == "" {
		return fmt.Errorf("incomplete mount %q -> %q", m.Source, m.Target)
	}
	if err := mountPoint(m.Source, target); err != nil {
		return err
	}
	if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return err
	}
	if !m.ReadOnly {
		return nil
	}
	return unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
}

// mountPoint creates target shaped like source: a directory for a
// directory, an empty file for anything else.
func mountPoint(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
