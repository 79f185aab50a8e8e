package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateStudent(t *testing.T, repo user.Repository, name string) user.User {
	t.Helper()
	return CreateUser(t, repo, name, name, name+"@test.tt", "", user.RoleStudent, true)
}

// DefaultRubric is the two-item rubric used across tests.
func DefaultRubric() room.Rubric {
	return room.Rubric{
		{ID: "clarity", Question: "Was the presentation clear?", MaxScore: 10},
		{ID: "teamwork", Question: "Did the group work well together?", MaxScore: 5},
	}
}

func CreateRoom(
	t *testing.T,
	repo room.Repository,
	name, joinCode, teacherID string,
	rubric room.Rubric,
	joinedIDs ...string,
) room.Room {
	t.Helper()

	now := time.Now().UTC()
	rm := room.Room{
		Name:      name,
		JoinCode:  joinCode,
		TeacherID: teacherID,
		IsOpen:    true,
		Rubric:    rubric,
		JoinedIDs: joinedIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rm, err := repo.CreateRoom(context.Background(), rm)
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	return rm
}

func CreateGroup(
	t *testing.T,
	repo room.Repository,
	roomID, name, leaderID string,
	memberIDs ...string,
) room.Group {
	t.Helper()

	now := time.Now().UTC()
	g := room.Group{
		RoomID:    roomID,
		Name:      name,
		LeaderID:  leaderID,
		MemberIDs: memberIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	g, err := repo.CreateGroup(context.Background(), g)
	if err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	return g
}
