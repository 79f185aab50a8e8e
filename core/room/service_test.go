package room_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
	"github.com/trezcool/tathmini/services/email"
	"github.com/trezcool/tathmini/storage/database/inmem"
	"github.com/trezcool/tathmini/tests"
)

func setup(t *testing.T) (room.Service, user.Service, *inmemdb.DB) {
	t.Helper()
	db := inmemdb.NewDB()
	usrSvc := user.NewService(inmemdb.NewUserRepository(db), emailsvc.NewConsoleServiceMock())
	roomSvc := room.NewService(inmemdb.NewRoomRepository(db), usrSvc)
	return roomSvc, usrSvc, db
}

func TestServiceCreateRoom(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, inmemdb.NewUserRepository(db), "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)

	rm, err := svc.CreateRoom(ctx, room.NewRoom{
		Name:      "Physics 101",
		TeacherID: teacher.ID,
		Rubric:    testutil.DefaultRubric(),
	})
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	if len(rm.JoinCode) != room.JoinCodeLen {
		t.Errorf("join code %q: len = %d, want %d", rm.JoinCode, len(rm.JoinCode), room.JoinCodeLen)
	}
	if rm.JoinCode != strings.ToUpper(rm.JoinCode) {
		t.Errorf("join code %q is not uppercase", rm.JoinCode)
	}
	if !rm.IsOpen {
		t.Error("new room must be open")
	}
}

func TestServiceJoin(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	student := testutil.CreateStudent(t, usrRepo, "student1")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric())

	t.Run("teacher cannot join", func(t *testing.T) {
		_, err := svc.Join(ctx, rm.JoinCode, teacher)
		if _, ok := errors.Cause(err).(*core.MembershipError); !ok {
			t.Errorf("Join() error = %v, want MembershipError", err)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := svc.Join(ctx, "NOPE42", student)
		if errors.Cause(err) != room.ErrNotFound {
			t.Errorf("Join() error = %v, want %v", err, room.ErrNotFound)
		}
	})

	t.Run("student joins; case-insensitive code", func(t *testing.T) {
		got, err := svc.Join(ctx, "bio123", student)
		if err != nil {
			t.Fatalf("Join() failed: %v", err)
		}
		if !got.HasJoined(student.ID) {
			t.Error("student not recorded in join records")
		}
	})

	t.Run("joining twice is a no-op", func(t *testing.T) {
		got, err := svc.Join(ctx, rm.JoinCode, student)
		if err != nil {
			t.Fatalf("Join() failed: %v", err)
		}
		var count int
		for _, id := range got.JoinedIDs {
			if id == student.ID {
				count++
			}
		}
		if count != 1 {
			t.Errorf("student recorded %d times, want 1", count)
		}
	})

	t.Run("closed room rejects joins", func(t *testing.T) {
		closedRm := testutil.CreateRoom(t, roomRepo, "Closed", "CLOSED", teacher.ID, testutil.DefaultRubric())
		isOpen := false
		if _, err := svc.UpdateRoom(ctx, closedRm.ID, room.UpdateRoom{IsOpen: &isOpen}); err != nil {
			t.Fatalf("UpdateRoom() failed: %v", err)
		}
		other := testutil.CreateStudent(t, usrRepo, "student2")
		_, err := svc.Join(ctx, "CLOSED", other)
		if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
			t.Errorf("Join() error = %v, want ValidationError", err)
		}
	})
}

func TestServiceCreateGroup(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	s3 := testutil.CreateStudent(t, usrRepo, "s3")
	stranger := testutil.CreateStudent(t, usrRepo, "stranger")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID, s3.ID)

	g, err := svc.CreateGroup(ctx, room.NewGroup{
		RoomID:    rm.ID,
		Name:      "Alpha",
		LeaderID:  s1.ID,
		MemberIDs: []string{s2.ID, s2.ID, s1.ID}, // dups and the leader are dropped
	})
	if err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	if len(g.MemberIDs) != 1 || g.MemberIDs[0] != s2.ID {
		t.Errorf("MemberIDs = %v, want [%s]", g.MemberIDs, s2.ID)
	}

	t.Run("leader already grouped", func(t *testing.T) {
		_, err := svc.CreateGroup(ctx, room.NewGroup{RoomID: rm.ID, Name: "Beta", LeaderID: s1.ID})
		if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
			t.Errorf("CreateGroup() error = %v, want ValidationError", err)
		}
	})

	t.Run("member outside population", func(t *testing.T) {
		_, err := svc.CreateGroup(ctx, room.NewGroup{RoomID: rm.ID, Name: "Beta", LeaderID: s3.ID, MemberIDs: []string{stranger.ID}})
		if _, ok := errors.Cause(err).(*core.MembershipError); !ok {
			t.Errorf("CreateGroup() error = %v, want MembershipError", err)
		}
	})

	t.Run("member already grouped", func(t *testing.T) {
		_, err := svc.CreateGroup(ctx, room.NewGroup{RoomID: rm.ID, Name: "Beta", LeaderID: s3.ID, MemberIDs: []string{s2.ID}})
		if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
			t.Errorf("CreateGroup() error = %v, want ValidationError", err)
		}
	})

	t.Run("duplicate name in room", func(t *testing.T) {
		_, err := svc.CreateGroup(ctx, room.NewGroup{RoomID: rm.ID, Name: "Alpha", LeaderID: s3.ID})
		if errors.Cause(err) != room.ErrGroupNameExists {
			t.Errorf("CreateGroup() error = %v, want %v", err, room.ErrGroupNameExists)
		}
	})
}

func TestServiceMembers(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	s3 := testutil.CreateStudent(t, usrRepo, "s3")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID, s3.ID)
	g := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID)

	t.Run("only the leader may add", func(t *testing.T) {
		_, err := svc.AddMember(ctx, g.ID, s2.ID, s3.ID)
		if _, ok := errors.Cause(err).(*core.MembershipError); !ok {
			t.Errorf("AddMember() error = %v, want MembershipError", err)
		}
	})

	t.Run("leader adds a member, twice", func(t *testing.T) {
		got, err := svc.AddMember(ctx, g.ID, s1.ID, s2.ID)
		if err != nil {
			t.Fatalf("AddMember() failed: %v", err)
		}
		if !got.Has(s2.ID) {
			t.Error("member not added")
		}
		got, err = svc.AddMember(ctx, g.ID, s1.ID, s2.ID) // idempotent
		if err != nil {
			t.Fatalf("AddMember() failed: %v", err)
		}
		if len(got.MemberIDs) != 1 {
			t.Errorf("MemberIDs = %v, want a single member", got.MemberIDs)
		}
	})

	t.Run("the leader cannot be removed", func(t *testing.T) {
		_, err := svc.RemoveMember(ctx, g.ID, s1.ID, s1.ID)
		if _, ok := errors.Cause(err).(*core.ValidationError); !ok {
			t.Errorf("RemoveMember() error = %v, want ValidationError", err)
		}
	})

	t.Run("leader removes a member, twice", func(t *testing.T) {
		got, err := svc.RemoveMember(ctx, g.ID, s1.ID, s2.ID)
		if err != nil {
			t.Fatalf("RemoveMember() failed: %v", err)
		}
		if got.Has(s2.ID) {
			t.Error("member not removed")
		}
		if _, err = svc.RemoveMember(ctx, g.ID, s1.ID, s2.ID); err != nil { // idempotent
			t.Fatalf("RemoveMember() failed: %v", err)
		}
	})
}

// concurrent adds must all land; a stale read-modify-write would drop some
func TestServiceMembers_concurrentAdds(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	leader := testutil.CreateStudent(t, usrRepo, "leader")
	joined := []string{leader.ID}
	members := make([]user.User, 8)
	for i := range members {
		members[i] = testutil.CreateStudent(t, usrRepo, fmt.Sprintf("member%d", i))
		joined = append(joined, members[i].ID)
	}
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), joined...)
	g := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", leader.ID)

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		wg.Add(1)
		go func(i int, memberID string) {
			defer wg.Done()
			_, errs[i] = svc.AddMember(ctx, g.ID, leader.ID, memberID)
		}(i, m.ID)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("AddMember(%s) failed: %v", members[i].ID, err)
		}
	}
	got, err := svc.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup() failed: %v", err)
	}
	if len(got.MemberIDs) != len(members) {
		t.Fatalf("group has %d members, want %d", len(got.MemberIDs), len(members))
	}
	for _, m := range members {
		if !got.Has(m.ID) {
			t.Errorf("member %s missing from group", m.ID)
		}
	}
}

func TestServicePopulationAndAvailable(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	s2 := testutil.CreateStudent(t, usrRepo, "s2")
	s3 := testutil.CreateStudent(t, usrRepo, "s3") // grouped but never joined
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID, s2.ID)
	testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID, s3.ID)

	population, err := svc.Population(ctx, rm.ID)
	if err != nil {
		t.Fatalf("Population() failed: %v", err)
	}
	if len(population) != 3 {
		t.Fatalf("Population() returned %d users, want 3", len(population))
	}
	for _, usr := range population {
		if !usr.IsStudent() {
			t.Errorf("population contains non-student %s", usr.ID)
		}
	}

	available, err := svc.Available(ctx, rm.ID, s2.ID)
	if err != nil {
		t.Fatalf("Available() failed: %v", err)
	}
	if len(available) != 0 {
		t.Errorf("Available() = %v, want none (s1+s3 grouped, s2 excluded)", available)
	}
}

func TestServiceDeleteRoomCascades(t *testing.T) {
	svc, _, db := setup(t)
	ctx := context.Background()
	usrRepo := inmemdb.NewUserRepository(db)
	roomRepo := inmemdb.NewRoomRepository(db)

	teacher := testutil.CreateUser(t, usrRepo, "Teach", "teach1", "teach@test.tt", "", user.RoleTeacher, true)
	s1 := testutil.CreateStudent(t, usrRepo, "s1")
	rm := testutil.CreateRoom(t, roomRepo, "Bio", "BIO123", teacher.ID, testutil.DefaultRubric(), s1.ID)
	g := testutil.CreateGroup(t, roomRepo, rm.ID, "Alpha", s1.ID)

	if err := svc.DeleteRoom(ctx, rm.ID); err != nil {
		t.Fatalf("DeleteRoom() failed: %v", err)
	}
	if _, err := svc.GetRoom(ctx, rm.ID); errors.Cause(err) != room.ErrNotFound {
		t.Errorf("GetRoom() error = %v, want %v", err, room.ErrNotFound)
	}
	if _, err := svc.GetGroup(ctx, g.ID); errors.Cause(err) != room.ErrGroupNotFound {
		t.Errorf("GetGroup() error = %v, want %v", err, room.ErrGroupNotFound)
	}
	if err := svc.DeleteRoom(ctx, rm.ID); errors.Cause(err) != room.ErrNotFound {
		t.Errorf("DeleteRoom() error = %v, want %v", err, room.ErrNotFound)
	}
}
