package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
)

const (
	roomColumns  = `id, name, join_code, teacher_id, is_open, auto_close_at, rubric, joined_ids, created_at, updated_at`
	groupColumns = `id, room_id, name, leader_id, member_ids, created_at, updated_at`
)

type roomRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	JoinCode    string         `db:"join_code"`
	TeacherID   string         `db:"teacher_id"`
	IsOpen      bool           `db:"is_open"`
	AutoCloseAt null.Time      `db:"auto_close_at"`
	Rubric      rubricJSON     `db:"rubric"`
	JoinedIDs   pq.StringArray `db:"joined_ids"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (row roomRow) toRoom() room.Room {
	return room.Room{
		ID:          row.ID,
		Name:        row.Name,
		JoinCode:    row.JoinCode,
		TeacherID:   row.TeacherID,
		IsOpen:      row.IsOpen,
		AutoCloseAt: row.AutoCloseAt,
		Rubric:      room.Rubric(row.Rubric),
		JoinedIDs:   row.JoinedIDs,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

type groupRow struct {
	ID        string         `db:"id"`
	RoomID    string         `db:"room_id"`
	Name      string         `db:"name"`
	LeaderID  string         `db:"leader_id"`
	MemberIDs pq.StringArray `db:"member_ids"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (row groupRow) toGroup() room.Group {
	return room.Group{
		ID:        row.ID,
		RoomID:    row.RoomID,
		Name:      row.Name,
		LeaderID:  row.LeaderID,
		MemberIDs: row.MemberIDs,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

type roomRepository struct {
	db core.DB
}

var _ room.Repository = (*roomRepository)(nil)

func NewRoomRepository(db core.DB) *roomRepository {
	return &roomRepository{db: db}
}

// Rooms

func (repo roomRepository) CreateRoom(ctx context.Context, rm room.Room, exec ...core.DBExecutor) (room.Room, error) {
	ex := getExec(repo.db, exec)
	if rm.ID == "" {
		rm.ID = uuid.New().String()
	}

	query := ex.Rebind(`INSERT INTO room (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := ex.ExecContext(ctx, query,
		rm.ID, rm.Name, rm.JoinCode, rm.TeacherID, rm.IsOpen, rm.AutoCloseAt,
		rubricJSON(rm.Rubric), pq.StringArray(rm.JoinedIDs), rm.CreatedAt, rm.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "room_join_code_key") {
			return room.Room{}, room.ErrJoinCodeExists
		}
		return room.Room{}, errors.Wrap(err, "creating room")
	}
	return rm, nil
}

func (repo roomRepository) GetRoom(ctx context.Context, filter room.GetFilter, exec ...core.DBExecutor) (room.Room, error) {
	ex := getExec(repo.db, exec)

	query := `SELECT ` + roomColumns + ` FROM room WHERE `
	var arg string
	switch {
	case filter.ID != "":
		query += `id = ?`
		arg = filter.ID
	case filter.JoinCode != "":
		query += `join_code = ?`
		arg = filter.JoinCode
	default:
		return room.Room{}, room.ErrNotFound
	}

	var row roomRow
	if err := ex.GetContext(ctx, &row, ex.Rebind(query), arg); err != nil {
		return room.Room{}, trapNoRowsErr(err, room.ErrNotFound)
	}
	return row.toRoom(), nil
}

func (repo roomRepository) QueryRoomsByTeacher(ctx context.Context, teacherID string, exec ...core.DBExecutor) ([]room.Room, error) {
	ex := getExec(repo.db, exec)

	var rows []roomRow
	query := ex.Rebind(`SELECT ` + roomColumns + ` FROM room WHERE teacher_id = ? ORDER BY created_at DESC`)
	if err := ex.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, errors.Wrap(err, "querying rooms")
	}
	return toRooms(rows), nil
}

// QueryRoomsJoined unions all three membership sources: the join records and
// any group the student leads or belongs to.
func (repo roomRepository) QueryRoomsJoined(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]room.Room, error) {
	ex := getExec(repo.db, exec)

	var rows []roomRow
	query := ex.Rebind(`
		SELECT ` + roomColumns + ` FROM room
		WHERE ? = ANY (joined_ids)
		   OR EXISTS (
			SELECT 1 FROM "group" g
			WHERE g.room_id = room.id AND (g.leader_id = ? OR ? = ANY (g.member_ids))
		   )
		ORDER BY created_at DESC`)
	if err := ex.SelectContext(ctx, &rows, query, studentID, studentID, studentID); err != nil {
		return nil, errors.Wrap(err, "querying rooms")
	}
	return toRooms(rows), nil
}

func (repo roomRepository) UpdateRoom(ctx context.Context, rm room.Room, exec ...core.DBExecutor) (room.Room, error) {
	ex := getExec(repo.db, exec)

	query := ex.Rebind(`
		UPDATE room
		SET name = ?, is_open = ?, auto_close_at = ?, rubric = ?, updated_at = ?
		WHERE id = ?`)
	res, err := ex.ExecContext(ctx, query, rm.Name, rm.IsOpen, rm.AutoCloseAt, rubricJSON(rm.Rubric), rm.UpdatedAt, rm.ID)
	if err != nil {
		return room.Room{}, errors.Wrap(err, "updating room")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return room.Room{}, room.ErrNotFound
	}
	return rm, nil
}

func (repo roomRepository) AddRoomJoin(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) error {
	ex := getExec(repo.db, exec)

	// single-statement append keeps concurrent joins from clobbering each other
	query := ex.Rebind(`
		UPDATE room
		SET joined_ids = array_append(joined_ids, ?), updated_at = now()
		WHERE id = ? AND NOT (? = ANY (joined_ids))`)
	if _, err := ex.ExecContext(ctx, query, userID, roomID, userID); err != nil {
		return errors.Wrap(err, "joining room")
	}
	return nil
}

func (repo roomRepository) DeleteRoomsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ex := getExec(repo.db, exec)

	query, args, err := sqlx.In(`DELETE FROM room WHERE id IN (?)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting rooms")
	}
	res, err := ex.ExecContext(ctx, ex.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting rooms")
	}
	cnt, _ := res.RowsAffected()
	return int(cnt), nil
}

// Groups

func (repo roomRepository) CheckGroupNameUniqueness(ctx context.Context, roomID, name string, excludedGroups []room.Group, exec ...core.DBExecutor) error {
	ex := getExec(repo.db, exec)

	query := `SELECT EXISTS (SELECT 1 FROM "group" WHERE room_id = ? AND name = ?`
	args := []interface{}{roomID, name}
	if len(excludedGroups) > 0 {
		ids := make([]string, 0, len(excludedGroups))
		for _, g := range excludedGroups {
			ids = append(ids, g.ID)
		}
		query += ` AND id NOT IN (?)`
		args = append(args, ids)
	}
	query += `)`
	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return errors.Wrap(err, "checking group name")
	}

	var exists bool
	if err := ex.GetContext(ctx, &exists, ex.Rebind(query), inArgs...); err != nil {
		return errors.Wrap(err, "checking group name")
	}
	if exists {
		return room.ErrGroupNameExists
	}
	return nil
}

func (repo roomRepository) CreateGroup(ctx context.Context, g room.Group, exec ...core.DBExecutor) (room.Group, error) {
	ex := getExec(repo.db, exec)
	if g.ID == "" {
		g.ID = uuid.New().String()
	}

	query := ex.Rebind(`INSERT INTO "group" (` + groupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := ex.ExecContext(ctx, query,
		g.ID, g.RoomID, g.Name, g.LeaderID, pq.StringArray(g.MemberIDs), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "group_room_name_key") {
			return room.Group{}, room.ErrGroupNameExists
		}
		return room.Group{}, errors.Wrap(err, "creating group")
	}
	return g, nil
}

func (repo roomRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (room.Group, error) {
	ex := getExec(repo.db, exec)

	var row groupRow
	query := ex.Rebind(`SELECT ` + groupColumns + ` FROM "group" WHERE id = ?`)
	if err := ex.GetContext(ctx, &row, query, id); err != nil {
		return room.Group{}, trapNoRowsErr(err, room.ErrGroupNotFound)
	}
	return row.toGroup(), nil
}

func (repo roomRepository) QueryGroupsByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]room.Group, error) {
	ex := getExec(repo.db, exec)

	var rows []groupRow
	query := ex.Rebind(`SELECT ` + groupColumns + ` FROM "group" WHERE room_id = ? ORDER BY created_at, id`)
	if err := ex.SelectContext(ctx, &rows, query, roomID); err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	groups := make([]room.Group, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, row.toGroup())
	}
	return groups, nil
}

func (repo roomRepository) GetGroupByMember(ctx context.Context, roomID, userID string, exec ...core.DBExecutor) (room.Group, error) {
	ex := getExec(repo.db, exec)

	var row groupRow
	query := ex.Rebind(`SELECT ` + groupColumns + ` FROM "group" WHERE room_id = ? AND (leader_id = ? OR ? = ANY (member_ids))`)
	if err := ex.GetContext(ctx, &row, query, roomID, userID, userID); err != nil {
		return room.Group{}, trapNoRowsErr(err, room.ErrGroupNotFound)
	}
	return row.toGroup(), nil
}

func (repo roomRepository) AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	ex := getExec(repo.db, exec)

	// single-statement append keeps concurrent adds from clobbering each other
	query := ex.Rebind(`
		UPDATE "group"
		SET member_ids = array_append(member_ids, ?), updated_at = now()
		WHERE id = ? AND NOT (? = ANY (member_ids))`)
	if _, err := ex.ExecContext(ctx, query, userID, groupID, userID); err != nil {
		return errors.Wrap(err, "adding group member")
	}
	return nil
}

func (repo roomRepository) RemoveGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	ex := getExec(repo.db, exec)

	query := ex.Rebind(`
		UPDATE "group"
		SET member_ids = array_remove(member_ids, ?), updated_at = now()
		WHERE id = ? AND ? = ANY (member_ids)`)
	if _, err := ex.ExecContext(ctx, query, userID, groupID, userID); err != nil {
		return errors.Wrap(err, "removing group member")
	}
	return nil
}

func (repo roomRepository) DeleteGroupsByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ex := getExec(repo.db, exec)

	query, args, err := sqlx.In(`DELETE FROM "group" WHERE id IN (?)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting groups")
	}
	res, err := ex.ExecContext(ctx, ex.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting groups")
	}
	cnt, _ := res.RowsAffected()
	return int(cnt), nil
}

func toRooms(rows []roomRow) []room.Room {
	rooms := make([]room.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toRoom())
	}
	return rooms
}
