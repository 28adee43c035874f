package compare

import (
	"testing"

	appErr "codejudge/pkg/errors"
)

func TestComparators(t *testing.T) {
	cases := []struct {
		name     string
		cfg      Config
		expected string
		actual   string
		want     bool
	}{
		{name: "exact_match", cfg: Config{}, expected: "[0,1]", actual: "[0,1]", want: true},
		{name: "exact_trailing_newline", cfg: Config{}, expected: "[0,1]", actual: "[0,1]\n", want: true},
		{name: "exact_trailing_spaces_and_crlf", cfg: Config{Type: "exact"}, expected: "a b\nc", actual: "a b  \r\nc\r\n\r\n", want: true},
		{name: "exact_leading_space_matters", cfg: Config{}, expected: "x", actual: " x", want: false},
		{name: "exact_mismatch", cfg: Config{}, expected: "[0,1]", actual: "[1,0]", want: false},
		{name: "float_within_abs", cfg: Config{Type: "float"}, expected: "0.3333333", actual: "0.33333331", want: true},
		{name: "float_within_rel", cfg: Config{Type: "float", FloatTolerance: 1e-6}, expected: "1000000000", actual: "1000000100", want: true},
		{name: "float_outside", cfg: Config{Type: "float"}, expected: "1.0", actual: "1.01", want: false},
		{name: "float_token_count", cfg: Config{Type: "float"}, expected: "1 2", actual: "1", want: false},
		{name: "float_words_exact", cfg: Config{Type: "float"}, expected: "YES 1.5", actual: "YES 1.5000001", want: true},
		{name: "float_nan", cfg: Config{Type: "float"}, expected: "NaN", actual: "NaN", want: true},
		{name: "unordered_lines", cfg: Config{Type: "unordered"}, expected: "a\nb\nc\n", actual: "c\na\nb", want: true},
		{name: "unordered_tokens", cfg: Config{Type: "unordered"}, expected: "1 2 3", actual: "3 1 2", want: true},
		{name: "unordered_multiset", cfg: Config{Type: "unordered"}, expected: "1 1 2", actual: "1 2 2", want: false},
		{name: "structural_spacing", cfg: Config{Type: "structural"}, expected: "[0,1]", actual: "[0, 1]\n", want: true},
		{name: "structural_object_order", cfg: Config{Type: "structural"}, expected: `{"a":1,"b":[1,2]}`, actual: `{"b":[1,2],"a":1}`, want: true},
		{name: "structural_mismatch", cfg: Config{Type: "structural"}, expected: "[0,1]", actual: "[1,0]", want: false},
		{name: "structural_fallback", cfg: Config{Type: "structural"}, expected: "hello", actual: "hello\n", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmp, err := New(tc.cfg)
			if err != nil {
				t.Fatalf("new comparator: %v", err)
			}
			if got := cmp.Equal(tc.expected, tc.actual); got != tc.want {
				t.Fatalf("%s.Equal(%q, %q) = %v, want %v", cmp.Name(), tc.expected, tc.actual, got, tc.want)
			}
		})
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New(Config{Type: "checker"}); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("a  \n\n b\t\n\n"); got != "a\n\n b" {
		t.Fatalf("unexpected normalization: %q", got)
	}
}
