package room

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core"
)

// JoinCodeLen is the length of a room join code (alphanumeric, stored uppercase).
const JoinCodeLen = 6

// RubricItem is one scored prompt of a room's rubric.
type RubricItem struct {
	ID       string `json:"id" validate:"required"`
	Question string `json:"question" validate:"required"`
	MaxScore int    `json:"max_score" validate:"required,min=1"`
}

// Rubric is the ordered list of prompts evaluated for every group.
// It is replaced wholesale on update; there is no per-item diffing.
type Rubric []RubricItem

// Item returns the rubric item with the given id.
func (r Rubric) Item(id string) (RubricItem, bool) {
	for _, it := range r {
		if it.ID == id {
			return it, true
		}
	}
	return RubricItem{}, false
}

// MaxTotal is the highest total score a single evaluation can award.
func (r Rubric) MaxTotal() int {
	var total int
	for _, it := range r {
		total += it.MaxScore
	}
	return total
}

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	JoinCode    string    `json:"join_code"`
	TeacherID   string    `json:"teacher_id"`
	IsOpen      bool      `json:"is_open"`
	AutoCloseAt null.Time `json:"auto_close_at,omitempty"`
	Rubric      Rubric    `json:"rubric"`
	JoinedIDs   []string  `json:"joined_ids"` // students who joined via code
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// AcceptsSubmissions reports whether the room still accepts joins and evaluations.
func (rm Room) AcceptsSubmissions(now time.Time) bool {
	if !rm.IsOpen {
		return false
	}
	if rm.AutoCloseAt.Valid && now.After(rm.AutoCloseAt.Time) {
		return false
	}
	return true
}

func (rm Room) HasJoined(userID string) bool {
	for _, id := range rm.JoinedIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type Group struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	LeaderID  string    `json:"leader_id"`
	MemberIDs []string  `json:"member_ids"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Has reports whether userID is this group's leader or one of its members.
func (g Group) Has(userID string) bool {
	if g.LeaderID == userID {
		return true
	}
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AllIDs returns the leader id followed by the member ids.
func (g Group) AllIDs() []string {
	ids := make([]string, 0, len(g.MemberIDs)+1)
	ids = append(ids, g.LeaderID)
	ids = append(ids, g.MemberIDs...)
	return ids
}

// NewRoom contains information needed to open a new Room.
type NewRoom struct {
	Name        string    `json:"name" validate:"required"`
	TeacherID   string    `json:"-"`
	Rubric      Rubric    `json:"rubric" validate:"required,min=1,dive"`
	AutoCloseAt null.Time `json:"auto_close_at"`
}

func (nr *NewRoom) Validate() error {
	nr.Name = core.CleanString(nr.Name)
	for i := range nr.Rubric {
		nr.Rubric[i].ID = core.CleanString(nr.Rubric[i].ID)
		nr.Rubric[i].Question = core.CleanString(nr.Rubric[i].Question)
	}
	if err := core.Validate.Struct(nr); err != nil {
		return err
	}
	return validateRubricIDs(nr.Rubric)
}

// UpdateRoom defines what information may be provided to modify an existing
// Room. A provided Rubric replaces the stored one wholesale.
type UpdateRoom struct {
	Name        string    `json:"name"`
	IsOpen      *bool     `json:"is_open"`
	AutoCloseAt null.Time `json:"auto_close_at"`
	Rubric      Rubric    `json:"rubric" validate:"omitempty,min=1,dive"`
}

func (ur *UpdateRoom) Validate() error {
	ur.Name = core.CleanString(ur.Name)
	for i := range ur.Rubric {
		ur.Rubric[i].ID = core.CleanString(ur.Rubric[i].ID)
		ur.Rubric[i].Question = core.CleanString(ur.Rubric[i].Question)
	}
	if err := core.Validate.Struct(ur); err != nil {
		return err
	}
	if ur.Rubric != nil {
		return validateRubricIDs(ur.Rubric)
	}
	return nil
}

// NewGroup contains information needed to form a new Group. The creating
// student self-appoints as leader; the admin seeding path may set any leader.
type NewGroup struct {
	RoomID    string   `json:"room_id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	LeaderID  string   `json:"-"`
	MemberIDs []string `json:"member_ids"`
}

func (ng *NewGroup) Validate(ctx context.Context, svc Service) error {
	ng.Name = core.CleanString(ng.Name)
	if err := core.Validate.Struct(ng); err != nil {
		return err
	}
	return svc.CheckGroupName(ctx, ng.RoomID, ng.Name)
}
