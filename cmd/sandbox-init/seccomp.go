//go:build linux

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// profile is the part of the OCI seccomp format the judge profiles use.
type profile struct {
	DefaultAction   string `json:"defaultAction"`
	DefaultErrnoRet *uint  `json:"defaultErrnoRet"`
	Syscalls        []struct {
		Names    []string `json:"names"`
		Action   string   `json:"action"`
		ErrnoRet *uint    `json:"errnoRet"`
	} `json:"syscalls"`
}

var actions = map[string]seccomp.ScmpAction{
	"SCMP_ACT_ALLOW":        seccomp.ActAllow,
	"SCMP_ACT_KILL":         seccomp.ActKillProcess,
	"SCMP_ACT_KILL_PROCESS": seccomp.ActKillProcess,
	"SCMP_ACT_KILL_THREAD":  seccomp.ActKillThread,
	"SCMP_ACT_TRAP":         seccomp.ActTrap,
	"SCMP_ACT_LOG":          seccomp.ActLog,
}

// parseAction resolves an OCI action name. ERRNO defaults to EPERM.
func parseAction(name string, errnoRet *uint) (seccomp.ScmpAction, error) {
	name = strings.ToUpper(name)
	if name == "SCMP_ACT_ERRNO" {
		errno := uint(unix.EPERM)
		if errnoRet != nil {
			errno = *errnoRet
		}
		return seccomp.ActErrno.SetReturnCode(int16(errno)), nil
	}
	if act, ok := actions[name]; ok {
		return act, nil
	}
	return seccomp.ActInvalid, fmt.Errorf("unsupported action %q", name)
}

func loadProfile(path string) (*profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &p, nil
}

// buildFilter compiles p. Syscall names this kernel or arch does not know
// are skipped since shared profiles list calls for every platform.
func buildFilter(p *profile) (*seccomp.ScmpFilter, error) {
	def, err := parseAction(p.DefaultAction, p.DefaultErrnoRet)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(def)
	if err != nil {
		return nil, err
	}
	for _, rule := range p.Syscalls {
		act, err := parseAction(rule.Action, rule.ErrnoRet)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				continue
			}
			if err := filter.AddRuleExact(call, act); err != nil {
				filter.Release()
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

func applySeccomp(path string) error {
	p, err := loadProfile(path)
	if err != nil {
		return err
	}
	filter, err := buildFilter(p)
	if err != nil {
		return err
	}
	defer filter.Release()
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("no_new_privs: %w", err)
	}
	return filter.Load()
}
