// Package language holds the registry of per-language compile and run strategies.
package language

import (
	"path/filepath"
	"strings"

	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"

	"github.com/google/shlex"
)

// Spec defines how to build and run one language inside the sandbox.
// CheckCmdTpl is a syntax check used by interpreted languages in place of a compiler.
type Spec struct {
	ID               string             `yaml:"id" json:"id"`
	Name             string             `yaml:"name" json:"name"`
	Version          string             `yaml:"version" json:"version"`
	Aliases          []string           `yaml:"aliases" json:"aliases,omitempty"`
	SourceFile       string             `yaml:"sourceFile" json:"-"`
	BinaryFile       string             `yaml:"binaryFile" json:"-"`
	CompileEnabled   bool               `yaml:"compileEnabled" json:"compiled"`
	CompileCmdTpl    string             `yaml:"compileCmd" json:"-"`
	CheckCmdTpl      string             `yaml:"checkCmd" json:"-"`
	RunCmdTpl        string             `yaml:"runCmd" json:"-"`
	Env              []string           `yaml:"env" json:"-"`
	TimeMultiplier   float64            `yaml:"timeMultiplier" json:"time_multiplier"`
	MemoryMultiplier float64            `yaml:"memoryMultiplier" json:"memory_multiplier"`
	DefaultLimits    spec.ResourceLimit `yaml:"defaultLimits" json:"-"`
	CompileLimits    spec.ResourceLimit `yaml:"compileLimits" json:"-"`
	Image            string             `yaml:"image" json:"-"`
}

// BuildTemplate returns the template executed during the Compiling phase, if any.
func (s Spec) BuildTemplate() string {
	if s.CompileEnabled {
		return s.CompileCmdTpl
	}
	return s.CheckCmdTpl
}

// HasBuildStep reports whether the Compiling phase runs anything in the sandbox.
func (s Spec) HasBuildStep() bool {
	return strings.TrimSpace(s.BuildTemplate()) != ""
}

// Expand substitutes {src}, {bin} and {workdir} relative to workDir and splits the result.
func (s Spec) Expand(tpl, workDir string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.NewReplacer(
		"{src}", filepath.Join(workDir, s.SourceFile),
		"{bin}", filepath.Join(workDir, s.BinaryFile),
		"{workdir}", workDir,
	).Replace(tpl)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func (s Spec) validate() error {
	if s.ID == "" {
		return appErr.ValidationError("language.id", "required")
	}
	if s.SourceFile == "" {
		return appErr.ValidationError(s.ID+".sourceFile", "required")
	}
	if s.CompileEnabled && strings.TrimSpace(s.CompileCmdTpl) == "" {
		return appErr.ValidationError(s.ID+".compileCmd", "required when compileEnabled")
	}
	for _, tpl := range []string{s.CompileCmdTpl, s.CheckCmdTpl, s.RunCmdTpl} {
		if tpl == "" {
			continue
		}
		if _, err := s.Expand(tpl, "/work"); err != nil {
			return appErr.Wrapf(err, appErr.ValidationFailed, "invalid command template for %s", s.ID)
		}
	}
	if strings.TrimSpace(s.RunCmdTpl) == "" {
		return appErr.ValidationError(s.ID+".runCmd", "required")
	}
	return nil
}
