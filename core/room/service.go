package room

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("room not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrJoinCodeExists  = errors.New("a room with this join code already exists")
	ErrGroupNameExists = errors.New("a group with this name already exists in this room")
	ErrRoomClosed      = errors.New("room is closed")

	errNotLeader       = "only the group leader may manage members"
	errNotInPopulation = "user is not part of this room"
	errAlreadyGrouped  = "user already belongs to a group in this room"
	errStudentsOnly    = "only students can join a room"

	joinCodeMaxAttempts = 10
)

type (
	GetFilter struct {
		ID       string
		JoinCode string
	}

	Repository interface {
		CheckGroupNameUniqueness(ctx context.Context, roomID, name string, excludedGroups []Group, exec ...core.DBExecutor) error
		CreateRoom(ctx context.Context, rm Room, exec ...core.DBExecutor) (Room, error)
		GetRoom(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Room, error)
		QueryRoomsByTeacher(ctx context.Context, teacherID string, exec ...core.DBExecutor) ([]Room, error)
		QueryRoomsJoined(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]Room, error)
		UpdateRoom(ctx context.Context, rm Room, exec ...core.DBExecutor) (Room, error)
		// AddRoomJoin appends userID to the room's join records as a single
		// atomic document-level update; adding an already-joined user is a no-op.
		AddRoomJoin(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) error
		// DeleteRoomsByID cascades to the rooms' groups, ledger entries and results.
		DeleteRoomsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)

		CreateGroup(ctx context.Context, g Group, exec ...core.DBExecutor) (Group, error)
		GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (Group, error)
		// QueryGroupsByRoom returns groups in creation order.
		QueryGroupsByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]Group, error)
		// GetGroupByMember returns the group in roomID having userID as leader or member.
		GetGroupByMember(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (Group, error)
		// AddGroupMember appends userID to the group's member list as a single
		// atomic document-level update; adding an existing member is a no-op.
		AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error
		// RemoveGroupMember drops userID from the group's member list as a
		// single atomic document-level update; removing a non-member is a no-op.
		RemoveGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error
		// DeleteGroupsByID cascades to the groups' ledger entries and results.
		DeleteGroupsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		CreateRoom(ctx context.Context, nr NewRoom) (Room, error)
		GetRoom(ctx context.Context, id string) (Room, error)
		GetRoomByCode(ctx context.Context, code string) (Room, error)
		QueryOwned(ctx context.Context, teacherID string) ([]Room, error)
		QueryJoined(ctx context.Context, studentID string) ([]Room, error)
		UpdateRoom(ctx context.Context, id string, ur UpdateRoom) (Room, error)
		DeleteRoom(ctx context.Context, id string) error
		Join(ctx context.Context, code string, usr user.User) (Room, error)

		CheckGroupName(ctx context.Context, roomID, name string, exclGroups ...Group) error
		CreateGroup(ctx context.Context, ng NewGroup) (Group, error)
		GetGroup(ctx context.Context, id string) (Group, error)
		GroupsByRoom(ctx context.Context, roomID string) ([]Group, error)
		GroupOf(ctx context.Context, roomID, userID string) (Group, error)
		AddMember(ctx context.Context, groupID, actorID, memberID string) (Group, error)
		RemoveMember(ctx context.Context, groupID, actorID, memberID string) (Group, error)
		DeleteGroup(ctx context.Context, id string) error

		Population(ctx context.Context, roomID string) ([]user.User, error)
		Available(ctx context.Context, roomID, excludeUserID string) ([]user.User, error)
	}

	service struct {
		repo   Repository
		usrSvc user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service) *service {
	return &service{repo: repo, usrSvc: usrSvc}
}

// Rooms

func (svc *service) CreateRoom(ctx context.Context, nr NewRoom) (Room, error) {
	now := time.Now().UTC()
	rm := Room{
		Name:        nr.Name,
		TeacherID:   nr.TeacherID,
		IsOpen:      true,
		AutoCloseAt: nr.AutoCloseAt,
		Rubric:      nr.Rubric,
		JoinedIDs:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// the storage unique constraint is the backstop for code collisions
	for attempt := 0; ; attempt++ {
		rm.JoinCode = generateJoinCode()
		created, err := svc.repo.CreateRoom(ctx, rm)
		if err == nil {
			return created, nil
		}
		if errors.Cause(err) != ErrJoinCodeExists || attempt >= joinCodeMaxAttempts {
			return Room{}, err
		}
	}
}

func (svc *service) GetRoom(ctx context.Context, id string) (Room, error) {
	return svc.repo.GetRoom(ctx, GetFilter{ID: id})
}

func (svc *service) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	return svc.repo.GetRoom(ctx, GetFilter{JoinCode: CleanJoinCode(code)})
}

func (svc *service) QueryOwned(ctx context.Context, teacherID string) ([]Room, error) {
	return svc.repo.QueryRoomsByTeacher(ctx, teacherID)
}

func (svc *service) QueryJoined(ctx context.Context, studentID string) ([]Room, error) {
	return svc.repo.QueryRoomsJoined(ctx, studentID)
}

func (svc *service) UpdateRoom(ctx context.Context, id string, ur UpdateRoom) (Room, error) {
	rm, err := svc.repo.GetRoom(ctx, GetFilter{ID: id})
	if err != nil {
		return Room{}, err
	}
	if ur.Name != "" {
		rm.Name = ur.Name
	}
	if ur.IsOpen != nil {
		rm.IsOpen = *ur.IsOpen
	}
	if ur.AutoCloseAt.Valid {
		rm.AutoCloseAt = ur.AutoCloseAt
	}
	if ur.Rubric != nil {
		rm.Rubric = ur.Rubric // replaced wholesale
	}
	rm.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRoom(ctx, rm)
}

func (svc *service) DeleteRoom(ctx context.Context, id string) error {
	cnt, err := svc.repo.DeleteRoomsByID(ctx, []string{id})
	if err != nil {
		return err
	}
	if cnt == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) Join(ctx context.Context, code string, usr user.User) (Room, error) {
	if !usr.IsStudent() {
		return Room{}, core.NewMembershipError(errStudentsOnly)
	}
	rm, err := svc.GetRoomByCode(ctx, code)
	if err != nil {
		return Room{}, err
	}
	if rm.HasJoined(usr.ID) { // idempotent
		return rm, nil
	}
	if !rm.AcceptsSubmissions(time.Now().UTC()) {
		return Room{}, core.NewValidationError(ErrRoomClosed)
	}
	if err := svc.repo.AddRoomJoin(ctx, rm.ID, usr.ID); err != nil {
		return Room{}, err
	}
	return svc.GetRoom(ctx, rm.ID)
}

// Groups

func (svc *service) CheckGroupName(ctx context.Context, roomID, name string, exclGroups ...Group) error {
	if err := svc.repo.CheckGroupNameUniqueness(ctx, roomID, name, exclGroups); err != nil {
		if errors.Cause(err) == ErrGroupNameExists {
			return core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) CreateGroup(ctx context.Context, ng NewGroup) (Group, error) {
	rm, err := svc.repo.GetRoom(ctx, GetFilter{ID: ng.RoomID})
	if err != nil {
		return Group{}, err
	}
	groups, err := svc.repo.QueryGroupsByRoom(ctx, rm.ID)
	if err != nil {
		return Group{}, err
	}

	// a student belongs to at most one group per room, leader included
	grouped := GroupedIDs(groups)
	if _, ok := grouped[ng.LeaderID]; ok {
		return Group{}, core.NewValidationError(nil, core.FieldError{Field: "leader_id", Error: errAlreadyGrouped})
	}
	population := toSet(PopulationIDs(rm, groups))
	for _, id := range ng.MemberIDs {
		if id == ng.LeaderID {
			continue
		}
		if _, ok := population[id]; !ok {
			return Group{}, core.NewMembershipError(errNotInPopulation)
		}
		if _, ok := grouped[id]; ok {
			return Group{}, core.NewValidationError(nil, core.FieldError{Field: "member_ids", Error: errAlreadyGrouped})
		}
	}

	now := time.Now().UTC()
	g := Group{
		RoomID:    rm.ID,
		Name:      ng.Name,
		LeaderID:  ng.LeaderID,
		MemberIDs: dedup(ng.MemberIDs, ng.LeaderID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateGroup(ctx, g)
}

func (svc *service) GetGroup(ctx context.Context, id string) (Group, error) {
	return svc.repo.GetGroup(ctx, id)
}

func (svc *service) GroupsByRoom(ctx context.Context, roomID string) ([]Group, error) {
	return svc.repo.QueryGroupsByRoom(ctx, roomID)
}

func (svc *service) GroupOf(ctx context.Context, roomID, userID string) (Group, error) {
	return svc.repo.GetGroupByMember(ctx, roomID, userID)
}

func (svc *service) AddMember(ctx context.Context, groupID, actorID, memberID string) (Group, error) {
	g, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if g.LeaderID != actorID {
		return Group{}, core.NewMembershipError(errNotLeader)
	}
	if g.Has(memberID) {
		return g, nil // idempotent
	}

	rm, err := svc.repo.GetRoom(ctx, GetFilter{ID: g.RoomID})
	if err != nil {
		return Group{}, err
	}
	groups, err := svc.repo.QueryGroupsByRoom(ctx, rm.ID)
	if err != nil {
		return Group{}, err
	}
	if _, ok := toSet(PopulationIDs(rm, groups))[memberID]; !ok {
		return Group{}, core.NewMembershipError(errNotInPopulation)
	}
	if _, ok := GroupedIDs(groups)[memberID]; ok {
		return Group{}, core.NewValidationError(nil, core.FieldError{Field: "member_id", Error: errAlreadyGrouped})
	}

	if err := svc.repo.AddGroupMember(ctx, g.ID, memberID); err != nil {
		return Group{}, err
	}
	return svc.repo.GetGroup(ctx, g.ID)
}

func (svc *service) RemoveMember(ctx context.Context, groupID, actorID, memberID string) (Group, error) {
	g, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	if g.LeaderID != actorID {
		return Group{}, core.NewMembershipError(errNotLeader)
	}
	if memberID == g.LeaderID {
		return Group{}, core.NewValidationError(nil, core.FieldError{Field: "member_id", Error: "the leader cannot be removed from their group"})
	}

	if !g.Has(memberID) {
		return g, nil // idempotent
	}

	if err := svc.repo.RemoveGroupMember(ctx, g.ID, memberID); err != nil {
		return Group{}, err
	}
	return svc.repo.GetGroup(ctx, g.ID)
}

func (svc *service) DeleteGroup(ctx context.Context, id string) error {
	cnt, err := svc.repo.DeleteGroupsByID(ctx, []string{id})
	if err != nil {
		return err
	}
	if cnt == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// Reconciled views

// Population resolves the room's effective population (see reconciler.go)
// against the user collection in one batched lookup, keeping students only.
func (svc *service) Population(ctx context.Context, roomID string) ([]user.User, error) {
	rm, groups, err := svc.snapshots(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return svc.resolveStudents(ctx, PopulationIDs(rm, groups))
}

// Available returns the population members not yet in any group, minus
// excludeUserID.
func (svc *service) Available(ctx context.Context, roomID, excludeUserID string) ([]user.User, error) {
	rm, groups, err := svc.snapshots(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return svc.resolveStudents(ctx, AvailableIDs(rm, groups, excludeUserID))
}

func (svc *service) snapshots(ctx context.Context, roomID string) (Room, []Group, error) {
	rm, err := svc.repo.GetRoom(ctx, GetFilter{ID: roomID})
	if err != nil {
		return Room{}, nil, err
	}
	groups, err := svc.repo.QueryGroupsByRoom(ctx, rm.ID)
	if err != nil {
		return Room{}, nil, err
	}
	return rm, groups, nil
}

func (svc *service) resolveStudents(ctx context.Context, ids []string) ([]user.User, error) {
	users, err := svc.usrSvc.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	students := make([]user.User, 0, len(users))
	for _, usr := range users {
		if usr.IsStudent() {
			students = append(students, usr)
		}
	}
	return students, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func dedup(ids []string, excluded string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == excluded {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
