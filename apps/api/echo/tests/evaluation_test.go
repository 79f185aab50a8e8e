package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tathmini/core/evaluation"
	"github.com/trezcool/tathmini/tests"
)

func TestEvaluationSubmit(t *testing.T) {
	app := setup(t)
	path := "/v1/evaluations"

	teacher := createTeacher(t, "teach1")
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID)
	g1 := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID)
	testutil.CreateGroup(t, roomRepo, rm.ID, "Beta", s2.ID)

	body := marchallObj(t, map[string]interface{}{
		"room_id":         rm.ID,
		"target_group_id": g1.ID,
		"scores":          map[string]int{"clarity": 7, "teamwork": 4},
		"comment":         "solid work",
	})

	tests := []httpTest{
		{
			name:     "auth required",
			body:     body,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "students only",
			body:     body,
			token:    getToken(t, teacher),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "own group is off limits",
			body:     body,
			token:    getToken(t, s1),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: evaluation.ErrOwnGroup.Error()}),
		},
		{
			name:     "incomplete scores",
			body:     marchallObj(t, map[string]interface{}{"room_id": rm.ID, "target_group_id": g1.ID, "scores": map[string]int{"clarity": 7}}),
			token:    getToken(t, s2),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"teamwork": "missing score"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("first submission lands, a second one conflicts", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, s2), body)
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var res evaluation.Result
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.Equal(t, g1.ID, res.TargetGroupID)
		assert.Equal(t, "solid work", res.Comment.String)
		// anonymity: nothing in the payload points back at the evaluator
		var raw map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.NotContains(t, raw, "evaluator_id")

		req, rec = newAuthRequest(http.MethodPost, path, getToken(t, s2), body)
		app.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: evaluation.ErrEvaluationExists.Error()}),
		}
		checkCodeAndData(t, tt, rec)
	})
}

func TestEvaluationTargets(t *testing.T) {
	app := setup(t)

	teacher := createTeacher(t, "teach1")
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID)
	g1 := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID)
	g2 := testutil.CreateGroup(t, roomRepo, rm.ID, "Beta", s2.ID)
	path := "/v1/rooms/" + rm.ID + "/targets"

	t.Run("students only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, teacher))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("work list tracks progress", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, s1))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var list evaluation.TargetList
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		if assert.NotNil(t, list.Group) {
			assert.Equal(t, g1.ID, list.Group.ID)
		}
		if assert.Len(t, list.Targets, 1) {
			assert.Equal(t, g2.ID, list.Targets[0].GroupID)
			assert.False(t, list.Targets[0].IsEvaluated)
		}
		assert.Equal(t, 0, list.Done)
		assert.Equal(t, 1, list.Total)
	})
}

func TestRoomSummary(t *testing.T) {
	app := setup(t)

	teacher := createTeacher(t, "teach1")
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	s3 := testutil.CreateStudent(t, usrRepo, "s3")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID, s3.ID)
	g1 := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID)
	path := "/v1/rooms/" + rm.ID + "/summary"

	for _, evaluator := range []string{s2.ID, s3.ID} {
		entry := evaluation.LedgerEntry{RoomID: rm.ID, EvaluatorID: evaluator, TargetGroupID: g1.ID}
		res := evaluation.Result{TargetGroupID: g1.ID, Scores: map[string]int{"clarity": 8, "teamwork": 4}}
		if _, err := evalRepo.CreateEvaluation(context.Background(), entry, res); err != nil {
			t.Fatalf("CreateEvaluation() failed: %v", err)
		}
	}

	t.Run("room teacher only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, s1))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("summary", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, getToken(t, teacher))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var smr evaluation.Summary
		if err := json.Unmarshal(rec.Body.Bytes(), &smr); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.Equal(t, 3, smr.TotalStudents)
		if assert.Len(t, smr.Groups, 1) {
			gs := smr.Groups[0]
			assert.Equal(t, g1.ID, gs.GroupID)
			assert.Equal(t, 2, gs.EvaluationCount)
			assert.Equal(t, 8.0, gs.Items["clarity"].Average)
			assert.Equal(t, 12.0, gs.TotalAverageScore)
		}
	})
}
