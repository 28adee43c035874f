package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codejudge/internal/judge/compare"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var problemFileNames = []string{"problem.yaml", "problem.yml", "problem.toml"}

// IsProblemFile reports whether name has an extension the loader decodes.
func IsProblemFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	default:
		return false
	}
}

// LoadProblemFile decodes a YAML or TOML problem and resolves file-backed cases
// relative to the file's directory. The file name stem is the default id.
func LoadProblemFile(path string) (model.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Problem{}, appErr.Wrapf(err, appErr.DataPackInvalid, "read problem file failed")
	}
	var p model.Problem
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &p)
	default:
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return model.Problem{}, appErr.Wrapf(err, appErr.DataPackInvalid, "parse %s failed", filepath.Base(path))
	}
	if p.ID == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if stem == "problem" {
			stem = filepath.Base(filepath.Dir(path))
		}
		p.ID = stem
	}
	if err := normalizeProblem(&p, filepath.Dir(path)); err != nil {
		return model.Problem{}, err
	}
	return p, nil
}

// LoadProblemDir loads the problem file at the root of dir.
func LoadProblemDir(dir string) (model.Problem, error) {
	for _, name := range problemFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadProblemFile(path)
		}
	}
	return model.Problem{}, appErr.Newf(appErr.DataPackInvalid, "no problem file in %s", dir)
}

func normalizeProblem(p *model.Problem, baseDir string) error {
	if strings.ContainsAny(p.ID, `/\`) || strings.HasPrefix(p.ID, ".") {
		return appErr.Newf(appErr.DataPackInvalid, "invalid problem id %q", p.ID)
	}
	if len(p.TestCases) == 0 {
		return appErr.Newf(appErr.TestCaseInvalid, "problem %s has no test cases", p.ID)
	}
	if p.TimeLimitMs < 0 || p.MemoryLimitMB < 0 {
		return appErr.Newf(appErr.DataPackInvalid, "problem %s has negative limits", p.ID)
	}
	if _, err := compare.New(p.Comparator); err != nil {
		return appErr.Wrapf(err, appErr.DataPackInvalid, "problem %s comparator", p.ID)
	}
	for lang, driver := range p.Drivers {
		if !strings.Contains(driver, model.CodePlaceholder) {
			return appErr.Newf(appErr.DataPackInvalid, "driver for %s lacks %s", lang, model.CodePlaceholder)
		}
	}

	seen := make(map[string]bool, len(p.TestCases))
	for i := range p.TestCases {
		tc := &p.TestCases[i]
		if tc.ID == "" {
			tc.ID = strconv.Itoa(i + 1)
		}
		if seen[tc.ID] {
			return appErr.Newf(appErr.TestCaseInvalid, "duplicate test case id %s", tc.ID)
		}
		seen[tc.ID] = true
		tc.ProblemID = p.ID
		if tc.Visibility == "" {
			tc.Visibility = model.VisibilityHidden
		}
		if tc.Visibility != model.VisibilityVisible && tc.Visibility != model.VisibilityHidden {
			return appErr.Newf(appErr.TestCaseInvalid, "test case %s has visibility %q", tc.ID, tc.Visibility)
		}
		if tc.InputFile != "" {
			data, err := readCaseFile(baseDir, tc.InputFile)
			if err != nil {
				return err
			}
			tc.Input = data
		}
		if tc.ExpectedFile != "" {
			data, err := readCaseFile(baseDir, tc.ExpectedFile)
			if err != nil {
				return err
			}
			tc.ExpectedOutput = data
		}
	}
	return nil
}

func readCaseFile(baseDir, rel string) (string, error) {
	path, err := safeJoin(baseDir, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.TestCaseInvalid, "read %s failed", rel)
	}
	return string(data), nil
}

func safeJoin(basePath, relPath string) (string, error) {
	if relPath == "" {
		return "", appErr.ValidationError("path", "required")
	}
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessage("invalid relative path")
	}
	full := filepath.Join(basePath, clean)
	if !strings.HasPrefix(full, filepath.Clean(basePath)+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessage(fmt.Sprintf("path %s escapes %s", relPath, basePath))
	}
	return full, nil
}
