package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
)

type roomRepository struct {
	db *DB
}

var _ room.Repository = (*roomRepository)(nil)

func NewRoomRepository(db *DB) *roomRepository {
	return &roomRepository{db: db}
}

// Rooms

func (repo *roomRepository) CreateRoom(_ context.Context, rm room.Room, _ ...core.DBExecutor) (room.Room, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.rooms {
		if other.JoinCode == rm.JoinCode {
			return room.Room{}, room.ErrJoinCodeExists
		}
	}
	if rm.ID == "" {
		rm.ID = uuid.New().String()
	}
	rm.JoinedIDs = cloneIDs(rm.JoinedIDs)
	repo.db.rooms[rm.ID] = &rm
	return rm, nil
}

func (repo *roomRepository) GetRoom(_ context.Context, filter room.GetFilter, _ ...core.DBExecutor) (room.Room, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.getRoom(filter)
}

func (repo *roomRepository) getRoom(filter room.GetFilter) (room.Room, error) {
	if filter.ID != "" {
		if rm, ok := repo.db.rooms[filter.ID]; ok {
			return copyRoom(*rm), nil
		}
		return room.Room{}, room.ErrNotFound
	}
	if filter.JoinCode != "" {
		for _, rm := range repo.db.rooms {
			if rm.JoinCode == filter.JoinCode {
				return copyRoom(*rm), nil
			}
		}
	}
	return room.Room{}, room.ErrNotFound
}

func (repo *roomRepository) QueryRoomsByTeacher(_ context.Context, teacherID string, _ ...core.DBExecutor) ([]room.Room, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rooms := make([]room.Room, 0)
	for _, rm := range repo.db.rooms {
		if rm.TeacherID == teacherID {
			rooms = append(rooms, copyRoom(*rm))
		}
	}
	sortRooms(rooms)
	return rooms, nil
}

func (repo *roomRepository) QueryRoomsJoined(_ context.Context, studentID string, _ ...core.DBExecutor) ([]room.Room, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rooms := make([]room.Room, 0)
	for _, rm := range repo.db.rooms {
		if rm.HasJoined(studentID) || repo.inAnyGroup(rm.ID, studentID) {
			rooms = append(rooms, copyRoom(*rm))
		}
	}
	sortRooms(rooms)
	return rooms, nil
}

func (repo *roomRepository) inAnyGroup(roomID, userID string) bool {
	for _, g := range repo.db.groups {
		if g.RoomID == roomID && g.Has(userID) {
			return true
		}
	}
	return false
}

func (repo *roomRepository) UpdateRoom(_ context.Context, rm room.Room, _ ...core.DBExecutor) (room.Room, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.rooms[rm.ID]
	if !ok {
		return room.Room{}, room.ErrNotFound
	}
	rm.JoinCode = orig.JoinCode // immutable
	rm.TeacherID = orig.TeacherID
	rm.JoinedIDs = cloneIDs(orig.JoinedIDs)
	rm.CreatedAt = orig.CreatedAt
	repo.db.rooms[rm.ID] = &rm
	return copyRoom(rm), nil
}

func (repo *roomRepository) AddRoomJoin(_ context.Context, roomID, userID string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rm, ok := repo.db.rooms[roomID]
	if !ok {
		return room.ErrNotFound
	}
	if !rm.HasJoined(userID) {
		rm.JoinedIDs = append(rm.JoinedIDs, userID)
		rm.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (repo *roomRepository) DeleteRoomsByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var cnt int
	for _, id := range ids {
		if _, ok := repo.db.rooms[id]; !ok {
			continue
		}
		delete(repo.db.rooms, id)
		cnt++

		// cascade: groups, then what hangs off them
		var groupIDs []string
		for _, g := range repo.db.groups {
			if g.RoomID == id {
				groupIDs = append(groupIDs, g.ID)
			}
		}
		repo.deleteGroups(groupIDs)
		repo.deleteEntriesByRoom(id)
	}
	return cnt, nil
}

// Groups

func (repo *roomRepository) CheckGroupNameUniqueness(_ context.Context, roomID, name string, excludedGroups []room.Group, _ ...core.DBExecutor) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	excluded := make(map[string]struct{}, len(excludedGroups))
	for _, g := range excludedGroups {
		excluded[g.ID] = struct{}{}
	}
	for _, g := range repo.db.groups {
		if _, ok := excluded[g.ID]; ok {
			continue
		}
		if g.RoomID == roomID && g.Name == name {
			return room.ErrGroupNameExists
		}
	}
	return nil
}

func (repo *roomRepository) CreateGroup(_ context.Context, g room.Group, _ ...core.DBExecutor) (room.Group, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.groups {
		if other.RoomID == g.RoomID && other.Name == g.Name {
			return room.Group{}, room.ErrGroupNameExists
		}
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	g.MemberIDs = cloneIDs(g.MemberIDs)
	repo.db.groups = append(repo.db.groups, &g)
	return copyGroup(g), nil
}

func (repo *roomRepository) GetGroup(_ context.Context, id string, _ ...core.DBExecutor) (room.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, g := range repo.db.groups {
		if g.ID == id {
			return copyGroup(*g), nil
		}
	}
	return room.Group{}, room.ErrGroupNotFound
}

func (repo *roomRepository) QueryGroupsByRoom(_ context.Context, roomID string, _ ...core.DBExecutor) ([]room.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	groups := make([]room.Group, 0)
	for _, g := range repo.db.groups { // creation order
		if g.RoomID == roomID {
			groups = append(groups, copyGroup(*g))
		}
	}
	return groups, nil
}

func (repo *roomRepository) GetGroupByMember(_ context.Context, roomID, userID string, _ ...core.DBExecutor) (room.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, g := range repo.db.groups {
		if g.RoomID == roomID && g.Has(userID) {
			return copyGroup(*g), nil
		}
	}
	return room.Group{}, room.ErrGroupNotFound
}

func (repo *roomRepository) AddGroupMember(_ context.Context, groupID, userID string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// mutate the stored group in place so concurrent adds never clobber each other
	for _, g := range repo.db.groups {
		if g.ID == groupID {
			if !g.Has(userID) {
				g.MemberIDs = append(g.MemberIDs, userID)
				g.UpdatedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return room.ErrGroupNotFound
}

func (repo *roomRepository) RemoveGroupMember(_ context.Context, groupID, userID string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, g := range repo.db.groups {
		if g.ID == groupID {
			for i, id := range g.MemberIDs {
				if id == userID {
					g.MemberIDs = append(g.MemberIDs[:i], g.MemberIDs[i+1:]...)
					g.UpdatedAt = time.Now().UTC()
					break
				}
			}
			return nil
		}
	}
	return room.ErrGroupNotFound
}

func (repo *roomRepository) DeleteGroupsByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	return repo.deleteGroups(ids), nil
}

// deleteGroups cascades to ledger entries and results; callers hold the lock.
func (repo *roomRepository) deleteGroups(ids []string) int {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	var cnt int
	groups := repo.db.groups[:0]
	for _, g := range repo.db.groups {
		if _, ok := idSet[g.ID]; ok {
			cnt++
			continue
		}
		groups = append(groups, g)
	}
	repo.db.groups = groups

	entries := repo.db.entries[:0]
	for _, e := range repo.db.entries {
		if _, ok := idSet[e.TargetGroupID]; !ok {
			entries = append(entries, e)
		}
	}
	repo.db.entries = entries

	results := repo.db.results[:0]
	for _, res := range repo.db.results {
		if _, ok := idSet[res.TargetGroupID]; !ok {
			results = append(results, res)
		}
	}
	repo.db.results = results
	return cnt
}

func (repo *roomRepository) deleteEntriesByRoom(roomID string) {
	entries := repo.db.entries[:0]
	for _, e := range repo.db.entries {
		if e.RoomID != roomID {
			entries = append(entries, e)
		}
	}
	repo.db.entries = entries
}

func copyRoom(rm room.Room) room.Room {
	rm.JoinedIDs = cloneIDs(rm.JoinedIDs)
	return rm
}

func copyGroup(g room.Group) room.Group {
	g.MemberIDs = cloneIDs(g.MemberIDs)
	return g
}

func sortRooms(rooms []room.Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
}
