package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/tests"
)

func TestRoomCreate(t *testing.T) {
	app := setup(t)
	path := "/v1/rooms"

	teacher := createTeacher(t, "teach1")
	student := testutil.CreateStudent(t, usrRepo, "student1")

	body := marchallObj(t, map[string]interface{}{
		"name":   "Physics 101",
		"rubric": testutil.DefaultRubric(),
	})

	tests := []httpTest{
		{
			name:     "auth required",
			body:     body,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "teachers only",
			body:     body,
			token:    getToken(t, student),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "rubric required",
			body:     []byte(`{"name":"Physics 101"}`),
			token:    getToken(t, teacher),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("teacher opens a room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, teacher), body)
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var rm room.Room
		if err := json.Unmarshal(rec.Body.Bytes(), &rm); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.NotEmpty(t, rm.ID)
		assert.Len(t, rm.JoinCode, room.JoinCodeLen)
		assert.Equal(t, teacher.ID, rm.TeacherID)
		assert.True(t, rm.IsOpen)
	})
}

func TestRoomJoin(t *testing.T) {
	app := setup(t)
	path := "/v1/rooms/join"

	teacher := createTeacher(t, "teach1")
	student := testutil.CreateStudent(t, usrRepo, "student1")
	testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric())

	tests := []httpTest{
		{
			name:     "students only",
			body:     []byte(`{"join_code":"BIO123"}`),
			token:    getToken(t, teacher),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "unknown code",
			body:     []byte(`{"join_code":"NOPE42"}`),
			token:    getToken(t, student),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: room.ErrNotFound.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("student joins, code case does not matter", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, student), []byte(`{"join_code":"bio123"}`))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var rm room.Room
		if err := json.Unmarshal(rec.Body.Bytes(), &rm); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.Contains(t, rm.JoinedIDs, student.ID)
	})
}

func TestRoomList(t *testing.T) {
	app := setup(t)
	path := "/v1/rooms"

	teacher := createTeacher(t, "teach1")
	other := createTeacher(t, "teach2")
	student := testutil.CreateStudent(t, usrRepo, "student1")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), student.ID)
	testutil.CreateRoom(t, roomRepo, "Chem", "CHEM42", other.ID, testutil.DefaultRubric())

	tests := []httpTest{
		{
			name:     "teacher sees owned rooms",
			token:    getToken(t, teacher),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, []room.Room{rm}),
		},
		{
			name:     "student sees joined rooms",
			token:    getToken(t, student),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, []room.Room{rm}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestRoomUpdate(t *testing.T) {
	app := setup(t)

	teacher := createTeacher(t, "teach1")
	other := createTeacher(t, "teach2")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric())
	path := "/v1/rooms/" + rm.ID

	t.Run("owner only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, other), []byte(`{"is_open":false}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner closes the room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, teacher), []byte(`{"is_open":false}`))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got room.Room
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.False(t, got.IsOpen)
		assert.Equal(t, rm.JoinCode, got.JoinCode) // immutable
	})

	t.Run("admin passes ownership checks", func(t *testing.T) {
		admin := createAdmin(t, "admin1")
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, admin), []byte(`{"is_open":true}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestGroupLifecycle(t *testing.T) {
	app := setup(t)

	teacher := createTeacher(t, "teach1")
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	s3 := testutil.CreateStudent(t, usrRepo, "s3")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID, s3.ID)
	groupsPath := "/v1/rooms/" + rm.ID + "/groups"

	t.Run("teachers do not form groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, groupsPath, getToken(t, teacher), []byte(`{"name":"Alpha"}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	var g room.Group
	t.Run("student forms a group and leads it", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, groupsPath, getToken(t, s1), []byte(`{"name":"Alpha"}`))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.Equal(t, s1.ID, g.LeaderID)
	})

	t.Run("group names are unique per room", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, groupsPath, getToken(t, s2), []byte(`{"name":"Alpha"}`))
		app.ServeHTTP(rec, req)

		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"name": room.ErrGroupNameExists.Error()}),
		}
		checkCodeAndData(t, tt, rec)
	})

	membersPath := "/v1/groups/" + g.ID + "/members"

	t.Run("only the leader manages members", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, membersPath, getToken(t, s2), marchallObj(t, map[string]string{"member_id": s3.ID}))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("leader adds and removes a member", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, membersPath, getToken(t, s1), marchallObj(t, map[string]string{"member_id": s2.ID}))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got room.Group
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		assert.Contains(t, got.MemberIDs, s2.ID)

		req, rec = newAuthRequest(http.MethodDelete, membersPath+"/"+s2.ID, getToken(t, s1))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("available students shrink as groups form", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/rooms/"+rm.ID+"/available", getToken(t, s2))
		app.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got []map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshalling response failed: %v", err)
		}
		// s1 leads a group, s2 is the caller; only s3 remains
		if assert.Len(t, got, 1) {
			assert.Equal(t, s3.ID, got[0]["id"])
		}
	})

	t.Run("only the room teacher deletes groups", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/groups/"+g.ID, getToken(t, s1))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, "/v1/groups/"+g.ID, getToken(t, teacher))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/groups/"+g.ID, getToken(t, s1))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
