package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
)

type (
	cohortFile struct {
		Name   string        `json:"name"`
		Rubric room.Rubric   `json:"rubric"`
		Groups []cohortGroup `json:"groups"`
	}

	cohortGroup struct {
		Name    string   `json:"name"`
		Leader  string   `json:"leader"`  // email
		Members []string `json:"members"` // emails
	}
)

// seedRoom creates a room with its rubric and pre-formed groups from a cohort
// file. Students referenced by email are created on the fly (with a random
// password; they reset it via the regular password-reset flow) and joined to
// the room before their group is formed.
func (cli *commandLine) seedRoom(teacherEmail, path string) error {
	ctx := context.Background()

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading cohort file")
	}
	var cohort cohortFile
	if err := json.Unmarshal(raw, &cohort); err != nil {
		return errors.Wrap(err, "parsing cohort file")
	}

	teacher, err := cli.usrSvc.GetByEmail(ctx, teacherEmail)
	if err != nil {
		return errors.Wrap(err, "finding teacher")
	}
	if !(teacher.IsTeacher() || teacher.IsAdmin()) {
		return errors.New("the room owner must be a teacher")
	}

	nr := room.NewRoom{
		Name:      cohort.Name,
		TeacherID: teacher.ID,
		Rubric:    cohort.Rubric,
	}
	if err := nr.Validate(); err != nil {
		return err
	}
	rm, err := cli.roomSvc.CreateRoom(ctx, nr)
	if err != nil {
		return errors.Wrap(err, "creating room")
	}
	logger.Printf("created room %q with join code %s", rm.Name, rm.JoinCode)

	for _, cg := range cohort.Groups {
		leader, err := cli.joinStudent(ctx, rm, cg.Leader)
		if err != nil {
			return err
		}
		memberIDs := make([]string, 0, len(cg.Members))
		for _, email := range cg.Members {
			member, err := cli.joinStudent(ctx, rm, email)
			if err != nil {
				return err
			}
			memberIDs = append(memberIDs, member.ID)
		}

		g, err := cli.roomSvc.CreateGroup(ctx, room.NewGroup{
			RoomID:    rm.ID,
			Name:      cg.Name,
			LeaderID:  leader.ID,
			MemberIDs: memberIDs,
		})
		if err != nil {
			return errors.Wrapf(err, "creating group %q", cg.Name)
		}
		logger.Printf("created group %q (%d members)", g.Name, len(g.MemberIDs)+1)
	}
	return nil
}

func (cli *commandLine) joinStudent(ctx context.Context, rm room.Room, email string) (user.User, error) {
	email = core.CleanString(email, true /* lower */)
	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, errors.Wrap(err, "finding student")
		}
		usr, err = cli.usrSvc.Create(ctx, user.NewUser{
			Name:     email,
			Email:    email,
			Role:     user.RoleStudent,
			Password: uuid.New().String(),
		})
		if err != nil {
			return user.User{}, errors.Wrapf(err, "creating student %s", email)
		}
	}
	if !usr.IsStudent() {
		return user.User{}, errors.Errorf("%s is not a student", email)
	}
	if _, err := cli.roomSvc.Join(ctx, rm.JoinCode, usr); err != nil {
		return user.User{}, errors.Wrapf(err, "joining %s to room", email)
	}
	return usr, nil
}
