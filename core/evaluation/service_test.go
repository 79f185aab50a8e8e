package evaluation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/evaluation"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
	"github.com/trezcool/tathmini/services/email"
	"github.com/trezcool/tathmini/storage/database/inmem"
	"github.com/trezcool/tathmini/tests"
)

type fixture struct {
	db      *inmemdb.DB
	repo    evaluation.Repository
	svc     evaluation.Service
	roomSvc room.Service

	teacher user.User
	s1, s2  user.User // leaders of g1 and g2
	s3      user.User // joined, ungrouped
	rm      room.Room
	g1, g2  room.Group
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, emailsvc.NewConsoleServiceMock())
	roomSvc := room.NewService(inmemdb.NewRoomRepository(db), usrSvc)
	repo := inmemdb.NewEvaluationRepository(db)
	svc := evaluation.NewService(repo, roomSvc, core.NopLogger{})

	f := &fixture{db: db, repo: repo, svc: svc, roomSvc: roomSvc}
	f.teacher = testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	f.s1 = testutil.CreateStudent(t, usrRepo, "s1")
	f.s2 = testutil.CreateStudent(t, usrRepo, "s2")
	f.s3 = testutil.CreateStudent(t, usrRepo, "s3")
	f.rm = testutil.CreateRoom(t, inmemdb.NewRoomRepository(db), "Bio", "BIO123", f.teacher.ID, testutil.DefaultRubric(), f.s1.ID, f.s2.ID, f.s3.ID)
	f.g1 = testutil.CreateGroup(t, inmemdb.NewRoomRepository(db), f.rm.ID, "Alpha", f.s1.ID)
	f.g2 = testutil.CreateGroup(t, inmemdb.NewRoomRepository(db), f.rm.ID, "Beta", f.s2.ID)
	return f
}

func validScores() map[string]int {
	return map[string]int{"clarity": 7, "teamwork": 4}
}

func TestServiceSubmit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
		RoomID:        f.rm.ID,
		TargetGroupID: f.g1.ID,
		EvaluatorID:   f.s3.ID,
		Scores:        validScores(),
		Comment:       "  solid work  ",
	})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if res.ID == "" {
		t.Error("result has no id")
	}
	if res.Comment.String != "solid work" {
		t.Errorf("Comment = %q, want trimmed %q", res.Comment.String, "solid work")
	}

	t.Run("results carry no trace of the evaluator", func(t *testing.T) {
		results, err := f.repo.QueryResultsByRoom(ctx, f.rm.ID)
		if err != nil {
			t.Fatalf("QueryResultsByRoom() failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		// the link lives in the ledger only
		entries, err := f.repo.QueryEntriesByRoom(ctx, f.rm.ID)
		if err != nil {
			t.Fatalf("QueryEntriesByRoom() failed: %v", err)
		}
		if len(entries) != 1 || entries[0].EvaluatorID != f.s3.ID {
			t.Errorf("entries = %+v, want a single entry for %s", entries, f.s3.ID)
		}
	})

	t.Run("duplicate submission", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: f.g1.ID,
			EvaluatorID:   f.s3.ID,
			Scores:        validScores(),
		})
		if errors.Cause(err) != evaluation.ErrEvaluationExists {
			t.Errorf("Submit() error = %v, want %v", err, evaluation.ErrEvaluationExists)
		}
	})

	t.Run("own group", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: f.g1.ID,
			EvaluatorID:   f.s1.ID,
			Scores:        validScores(),
		})
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		if !ok || errors.Cause(vErr.Err) != evaluation.ErrOwnGroup {
			t.Errorf("Submit() error = %v, want ValidationError(%v)", err, evaluation.ErrOwnGroup)
		}
	})

	t.Run("evaluator outside the population", func(t *testing.T) {
		_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: f.g1.ID,
			EvaluatorID:   "stranger",
			Scores:        validScores(),
		})
		if _, ok := errors.Cause(err).(*core.MembershipError); !ok {
			t.Errorf("Submit() error = %v, want MembershipError", err)
		}
	})

	t.Run("target group from another room", func(t *testing.T) {
		otherRm := testutil.CreateRoom(t, inmemdb.NewRoomRepository(f.db), "Other", "OTHER1", f.teacher.ID, testutil.DefaultRubric())
		otherG := testutil.CreateGroup(t, inmemdb.NewRoomRepository(f.db), otherRm.ID, "Stray", f.s2.ID)
		_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: otherG.ID,
			EvaluatorID:   f.s3.ID,
			Scores:        validScores(),
		})
		if errors.Cause(err) != room.ErrGroupNotFound {
			t.Errorf("Submit() error = %v, want %v", err, room.ErrGroupNotFound)
		}
	})

	t.Run("closed room", func(t *testing.T) {
		isOpen := false
		if _, err := f.roomSvc.UpdateRoom(ctx, f.rm.ID, room.UpdateRoom{IsOpen: &isOpen}); err != nil {
			t.Fatalf("UpdateRoom() failed: %v", err)
		}
		defer func() {
			isOpen = true
			if _, err := f.roomSvc.UpdateRoom(ctx, f.rm.ID, room.UpdateRoom{IsOpen: &isOpen}); err != nil {
				t.Fatalf("UpdateRoom() failed: %v", err)
			}
		}()
		_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: f.g2.ID,
			EvaluatorID:   f.s3.ID,
			Scores:        validScores(),
		})
		if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
			t.Errorf("Submit() error = %v, want ValidationError", err)
		}
	})
}

func TestServiceSubmit_scoreValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		scores   map[string]int
		wantFlds []string
	}{
		{name: "partial submission", scores: map[string]int{"clarity": 7}, wantFlds: []string{"teamwork"}},
		{name: "out of range", scores: map[string]int{"clarity": 11, "teamwork": -1}, wantFlds: []string{"clarity", "teamwork"}},
		{name: "unknown item", scores: map[string]int{"clarity": 7, "teamwork": 4, "vibes": 3}, wantFlds: []string{"vibes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
				RoomID:        f.rm.ID,
				TargetGroupID: f.g1.ID,
				EvaluatorID:   f.s3.ID,
				Scores:        tt.scores,
			})
			vErr, ok := errors.Cause(err).(*core.ValidationError)
			if !ok {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
			flds := make([]string, 0, len(vErr.Fields))
			for _, fe := range vErr.Fields {
				flds = append(flds, fe.Field)
			}
			if len(flds) != len(tt.wantFlds) {
				t.Fatalf("field errors on %v, want %v", flds, tt.wantFlds)
			}
			for i, fld := range tt.wantFlds {
				if flds[i] != fld {
					t.Errorf("field errors on %v, want %v", flds, tt.wantFlds)
					break
				}
			}
		})
	}
}

// concurrent duplicates: exactly one wins, the ledger never double-counts
func TestServiceSubmit_concurrentDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, evaluation.NewEvaluation{
				RoomID:        f.rm.ID,
				TargetGroupID: f.g1.ID,
				EvaluatorID:   f.s3.ID,
				Scores:        validScores(),
			})
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range errs {
		switch errors.Cause(err) {
		case nil:
			successes++
		case evaluation.ErrEvaluationExists:
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != n-1 {
		t.Errorf("successes = %d, duplicates = %d, want 1 and %d", successes, duplicates, n-1)
	}

	results, err := f.repo.QueryResultsByRoom(ctx, f.rm.ID)
	if err != nil {
		t.Fatalf("QueryResultsByRoom() failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

// queried results are detached copies; callers cannot reach into storage
func TestRepositoryResultsAreCopies(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
		RoomID:        f.rm.ID,
		TargetGroupID: f.g1.ID,
		EvaluatorID:   f.s3.ID,
		Scores:        validScores(),
	}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	results, err := f.repo.QueryResultsByRoom(ctx, f.rm.ID)
	if err != nil {
		t.Fatalf("QueryResultsByRoom() failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	results[0].Scores["clarity"] = 0

	fresh, err := f.repo.QueryResultsByRoom(ctx, f.rm.ID)
	if err != nil {
		t.Fatalf("QueryResultsByRoom() failed: %v", err)
	}
	if got := fresh[0].Scores["clarity"]; got != validScores()["clarity"] {
		t.Errorf("stored clarity score = %d, want %d", got, validScores()["clarity"])
	}
}

func TestServiceTargets(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
		RoomID:        f.rm.ID,
		TargetGroupID: f.g2.ID,
		EvaluatorID:   f.s1.ID,
		Scores:        validScores(),
	}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	t.Run("grouped evaluator", func(t *testing.T) {
		list, err := f.svc.Targets(ctx, f.rm.ID, f.s1.ID)
		if err != nil {
			t.Fatalf("Targets() failed: %v", err)
		}
		if list.Group == nil || list.Group.ID != f.g1.ID {
			t.Fatalf("Group = %+v, want own group %s", list.Group, f.g1.ID)
		}
		// the own group never shows up as a target
		if len(list.Targets) != 1 || list.Targets[0].GroupID != f.g2.ID {
			t.Fatalf("Targets = %+v, want only %s", list.Targets, f.g2.ID)
		}
		if !list.Targets[0].IsEvaluated {
			t.Error("target not flagged as evaluated")
		}
		if list.Done != 1 || list.Total != 1 {
			t.Errorf("Done/Total = %d/%d, want 1/1", list.Done, list.Total)
		}
	})

	t.Run("ungrouped evaluator sees every group", func(t *testing.T) {
		list, err := f.svc.Targets(ctx, f.rm.ID, f.s3.ID)
		if err != nil {
			t.Fatalf("Targets() failed: %v", err)
		}
		if list.Group != nil {
			t.Errorf("Group = %+v, want nil", list.Group)
		}
		if list.Total != 2 || list.Done != 0 {
			t.Errorf("Done/Total = %d/%d, want 0/2", list.Done, list.Total)
		}
	})
}

func TestServiceSummarize(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, sub := range []struct {
		evaluator string
		scores    map[string]int
	}{
		{f.s1.ID, map[string]int{"clarity": 7, "teamwork": 4}},
		{f.s3.ID, map[string]int{"clarity": 9, "teamwork": 5}},
	} {
		if _, err := f.svc.Submit(ctx, evaluation.NewEvaluation{
			RoomID:        f.rm.ID,
			TargetGroupID: f.g2.ID,
			EvaluatorID:   sub.evaluator,
			Scores:        sub.scores,
		}); err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
	}

	smr, err := f.svc.Summarize(ctx, f.rm.ID)
	if err != nil {
		t.Fatalf("Summarize() failed: %v", err)
	}
	if smr.TotalStudents != 3 {
		t.Errorf("TotalStudents = %d, want 3", smr.TotalStudents)
	}
	if len(smr.Groups) != 2 {
		t.Fatalf("got %d group summaries, want 2", len(smr.Groups))
	}
	top := smr.Groups[0]
	if top.GroupID != f.g2.ID {
		t.Fatalf("top group = %s, want %s", top.GroupID, f.g2.ID)
	}
	if top.EvaluationCount != 2 {
		t.Errorf("EvaluationCount = %d, want 2", top.EvaluationCount)
	}
	if got := top.Items["clarity"].Average; got != 8 {
		t.Errorf("clarity Average = %v, want 8", got)
	}
	if top.TotalAverageScore != 12.5 {
		t.Errorf("TotalAverageScore = %v, want 12.5", top.TotalAverageScore)
	}
}
