// Package compare decides whether program output matches the expected answer.
package compare

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	appErr "codejudge/pkg/errors"
)

const (
	TypeExact      = "exact"
	TypeFloat      = "float"
	TypeUnordered  = "unordered"
	TypeStructural = "structural"

	DefaultFloatTolerance = 1e-6
)

// Config selects a comparator for a problem.
type Config struct {
	Type           string  `yaml:"type" toml:"type" json:"type"`
	FloatTolerance float64 `yaml:"floatTolerance" toml:"float_tolerance" json:"float_tolerance,omitempty"`
}

// Comparator reports whether actual output is an acceptable answer.
type Comparator interface {
	Name() string
	Equal(expected, actual string) bool
}

// New builds the comparator named by cfg. An empty type means exact.
func New(cfg Config) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeExact:
		return Exact{}, nil
	case TypeFloat:
		tol := cfg.FloatTolerance
		if tol <= 0 {
			tol = DefaultFloatTolerance
		}
		return Float{Tolerance: tol}, nil
	case TypeUnordered:
		return Unordered{}, nil
	case TypeStructural:
		return Structural{}, nil
	default:
		return nil, appErr.Newf(appErr.InvalidParams, "unknown comparator %q", cfg.Type)
	}
}

// Normalize drops carriage returns, trailing whitespace on every line and trailing blank lines.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// Exact compares normalized text byte for byte.
type Exact struct{}

func (Exact) Name() string { return TypeExact }

func (Exact) Equal(expected, actual string) bool {
	return Normalize(expected) == Normalize(actual)
}

// Float compares whitespace-separated tokens, numeric ones within an absolute
// or relative tolerance.
type Float struct {
	Tolerance float64
}

func (Float) Name() string { return TypeFloat }

func (f Float) Equal(expected, actual string) bool {
	want := strings.Fields(expected)
	got := strings.Fields(actual)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] == got[i] {
			continue
		}
		a, errA := strconv.ParseFloat(want[i], 64)
		b, errB := strconv.ParseFloat(got[i], 64)
		if errA != nil || errB != nil {
			return false
		}
		if !f.close(a, b) {
			return false
		}
	}
	return true
}

func (f Float) close(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	diff := math.Abs(a - b)
	if diff <= f.Tolerance {
		return true
	}
	return diff <= f.Tolerance*math.Max(math.Abs(a), math.Abs(b))
}

// Unordered compares the multiset of lines. Single-line output compares the
// multiset of whitespace-separated tokens instead.
type Unordered struct{}

func (Unordered) Name() string { return TypeUnordered }

func (Unordered) Equal(expected, actual string) bool {
	want := strings.Split(Normalize(expected), "\n")
	got := strings.Split(Normalize(actual), "\n")
	if len(want) == 1 && len(got) == 1 {
		want = strings.Fields(want[0])
		got = strings.Fields(got[0])
	}
	if len(want) != len(got) {
		return false
	}
	sort.Strings(want)
	sort.Strings(got)
	for i := range want {
		if strings.TrimSpace(want[i]) != strings.TrimSpace(got[i]) {
			return false
		}
	}
	return true
}

// Structural decodes both sides as JSON and compares the values.
// Output that is not JSON falls back to Exact.
type Structural struct{}

func (Structural) Name() string { return TypeStructural }

func (Structural) Equal(expected, actual string) bool {
	var want, got interface{}
	if json.Unmarshal([]byte(expected), &want) != nil || json.Unmarshal([]byte(actual), &got) != nil {
		return Exact{}.Equal(expected, actual)
	}
	return reflect.DeepEqual(want, got)
}
