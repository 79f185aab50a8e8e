package evaluation

import (
	"reflect"
	"testing"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core/room"
)

var testRubric = room.Rubric{
	{ID: "clarity", Question: "Was the presentation clear?", MaxScore: 10},
	{ID: "teamwork", Question: "Did the group work well together?", MaxScore: 5},
}

func TestSummarize(t *testing.T) {
	rm := room.Room{ID: "r1", Rubric: testRubric}
	g1 := room.Group{ID: "g1", RoomID: "r1", Name: "Alpha"}
	g2 := room.Group{ID: "g2", RoomID: "r1", Name: "Beta"}

	entries := []LedgerEntry{
		{RoomID: "r1", EvaluatorID: "s1", TargetGroupID: "g1"},
		{RoomID: "r1", EvaluatorID: "s2", TargetGroupID: "g1"},
	}
	results := []Result{
		{ID: "e1", TargetGroupID: "g1", Scores: map[string]int{"clarity": 7, "teamwork": 4}, Comment: null.StringFrom("solid work")},
		{ID: "e2", TargetGroupID: "g1", Scores: map[string]int{"clarity": 9, "teamwork": 5}},
	}

	smr := Summarize(rm, []room.Group{g1, g2}, entries, results, 4)
	if smr.RoomID != "r1" {
		t.Errorf("RoomID = %s, want r1", smr.RoomID)
	}
	if smr.TotalStudents != 4 {
		t.Errorf("TotalStudents = %d, want 4", smr.TotalStudents)
	}
	if len(smr.Groups) != 2 {
		t.Fatalf("got %d group summaries, want 2", len(smr.Groups))
	}

	gs := smr.Groups[0] // g1 outranks the unevaluated g2
	if gs.GroupID != "g1" {
		t.Fatalf("top group = %s, want g1", gs.GroupID)
	}
	if gs.EvaluationCount != 2 {
		t.Errorf("EvaluationCount = %d, want 2", gs.EvaluationCount)
	}
	wantItems := map[string]ItemStat{
		"clarity":  {Average: 8, Min: 7, Max: 9, Count: 2},
		"teamwork": {Average: 4.5, Min: 4, Max: 5, Count: 2},
	}
	if !reflect.DeepEqual(gs.Items, wantItems) {
		t.Errorf("Items = %+v, want %+v", gs.Items, wantItems)
	}
	if gs.TotalAverageScore != 12.5 {
		t.Errorf("TotalAverageScore = %v, want 12.5", gs.TotalAverageScore)
	}
	if !reflect.DeepEqual(gs.Comments, []string{"solid work"}) {
		t.Errorf("Comments = %v, want [solid work]", gs.Comments)
	}

	// a group without data still gets a full, zeroed summary
	empty := smr.Groups[1]
	if empty.GroupID != "g2" {
		t.Fatalf("bottom group = %s, want g2", empty.GroupID)
	}
	if empty.EvaluationCount != 0 || empty.TotalAverageScore != 0 {
		t.Errorf("empty group: count = %d, total = %v, want zeroes", empty.EvaluationCount, empty.TotalAverageScore)
	}
	if !reflect.DeepEqual(empty.Comments, []string{}) {
		t.Errorf("empty group: Comments = %#v, want []", empty.Comments)
	}
	for id, stat := range empty.Items {
		if stat.Count != 0 {
			t.Errorf("empty group: item %s has Count %d, want 0", id, stat.Count)
		}
	}
}

// the ledger decides the evaluation count, never the raw result rows
func TestSummarize_ledgerIsAuthoritative(t *testing.T) {
	rm := room.Room{ID: "r1", Rubric: testRubric}
	g := room.Group{ID: "g1", RoomID: "r1", Name: "Alpha"}

	entries := []LedgerEntry{
		{RoomID: "r1", EvaluatorID: "s1", TargetGroupID: "g1"},
		{RoomID: "r1", EvaluatorID: "s2", TargetGroupID: "g1"},
		{RoomID: "r1", EvaluatorID: "s3", TargetGroupID: "g1"},
	}
	results := []Result{
		{ID: "e1", TargetGroupID: "g1", Scores: map[string]int{"clarity": 6, "teamwork": 3}},
	}

	smr := Summarize(rm, []room.Group{g}, entries, results, 3)
	if got := smr.Groups[0].EvaluationCount; got != 3 {
		t.Errorf("EvaluationCount = %d, want 3", got)
	}
	if got := smr.Groups[0].Items["clarity"].Count; got != 1 {
		t.Errorf("clarity Count = %d, want 1", got)
	}
}

func TestSummarize_ranking(t *testing.T) {
	rm := room.Room{ID: "r1", Rubric: testRubric}
	groups := []room.Group{
		{ID: "g1", RoomID: "r1", Name: "Alpha"},
		{ID: "g2", RoomID: "r1", Name: "Beta"},
		{ID: "g3", RoomID: "r1", Name: "Gamma"},
	}
	results := []Result{
		{ID: "e1", TargetGroupID: "g1", Scores: map[string]int{"clarity": 5, "teamwork": 2}}, // total 7
		{ID: "e2", TargetGroupID: "g2", Scores: map[string]int{"clarity": 8, "teamwork": 1}}, // total 9
		{ID: "e3", TargetGroupID: "g3", Scores: map[string]int{"clarity": 5, "teamwork": 2}}, // total 7, ties g1
	}

	smr := Summarize(rm, groups, nil, results, 6)
	got := []string{smr.Groups[0].GroupID, smr.Groups[1].GroupID, smr.Groups[2].GroupID}
	// ties keep creation order: g1 before g3
	want := []string{"g2", "g1", "g3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ranking = %v, want %v", got, want)
	}
}

func TestSummarize_rounding(t *testing.T) {
	rm := room.Room{ID: "r1", Rubric: room.Rubric{{ID: "clarity", Question: "q", MaxScore: 10}}}
	g := room.Group{ID: "g1", RoomID: "r1", Name: "Alpha"}
	results := []Result{
		{ID: "e1", TargetGroupID: "g1", Scores: map[string]int{"clarity": 1}},
		{ID: "e2", TargetGroupID: "g1", Scores: map[string]int{"clarity": 0}},
		{ID: "e3", TargetGroupID: "g1", Scores: map[string]int{"clarity": 0}},
	}

	smr := Summarize(rm, []room.Group{g}, nil, results, 3)
	if got := smr.Groups[0].Items["clarity"].Average; got != 0.33 {
		t.Errorf("Average = %v, want 0.33", got)
	}
	if got := smr.Groups[0].TotalAverageScore; got != 0.33 {
		t.Errorf("TotalAverageScore = %v, want 0.33", got)
	}
}
