package state

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	st, err := Load(path)
	if err != nil || st.UserID != "" || len(st.Recent) != 0 {
		t.Fatalf("expected empty state for missing file, got %+v %v", st, err)
	}
	want := State{UserID: "alice", LastSubmissionID: "s1", LastProblemID: "two-sum", Recent: []string{"s1"}}
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil || got.UserID != "alice" || got.LastSubmissionID != "s1" || got.LastProblemID != "two-sum" || !slices.Equal(got.Recent, want.Recent) {
		t.Fatalf("round trip: got %+v %v", got, err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestSetTracksRecentSubmissions(t *testing.T) {
	var st State
	for i := range recentLimit + 2 {
		st.Set(KeySubmission, string(rune('a'+i)))
	}
	st.Set(KeySubmission, "c")
	if len(st.Recent) != recentLimit || st.Recent[0] != "c" || st.Get(KeySubmission) != "c" {
		t.Fatalf("unexpected recent list: %v", st.Recent)
	}
	if slices.Index(st.Recent[1:], "c") >= 0 {
		t.Fatalf("duplicate id in recent list: %v", st.Recent)
	}
	if st.Set("color", "red") {
		t.Fatalf("unknown key accepted")
	}
}
