// Package sqlxrepos implements the core repositories on PostgreSQL via sqlx.
package sqlxrepos

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
)

// getExec returns the executor to run a query on: the caller-provided one
// (usually a transaction) if any, the repository's DB otherwise.
func getExec(db core.DB, exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 {
		return exec[0]
	}
	return db
}

// pq unique_violation
const uniqueViolationCode = "23505"

func isUniqueViolation(err error, constraint string) bool {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code == uniqueViolationCode && (constraint == "" || pqErr.Constraint == constraint)
	}
	return false
}

// trapNoRowsErr converts sql.ErrNoRows to the domain's not-found sentinel.
func trapNoRowsErr(err, notFound error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return err
}

func orderClause(ordering []core.DBOrdering, dflt string) string {
	if len(ordering) == 0 {
		return " ORDER BY " + dflt
	}
	clause := " ORDER BY "
	for i, ord := range ordering {
		if i > 0 {
			clause += ", "
		}
		clause += ord.String()
	}
	return clause
}

// rubricJSON maps room.Rubric to a JSONB column.
type rubricJSON room.Rubric

var (
	_ driver.Valuer = (rubricJSON)(nil)
	_ sql.Scanner   = (*rubricJSON)(nil)
)

func (r rubricJSON) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return json.Marshal(r)
}

func (r *rubricJSON) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		return json.Unmarshal(src, r)
	case string:
		return json.Unmarshal([]byte(src), r)
	case nil:
		*r = nil
		return nil
	}
	return errors.Errorf("unsupported rubric type %T", src)
}

// scoresJSON maps a scores map to a JSONB column.
type scoresJSON map[string]int

var (
	_ driver.Valuer = (scoresJSON)(nil)
	_ sql.Scanner   = (*scoresJSON)(nil)
)

func (s scoresJSON) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	return json.Marshal(s)
}

func (s *scoresJSON) Scan(src interface{}) error {
	switch src := src.(type) {
	case []byte:
		return json.Unmarshal(src, s)
	case string:
		return json.Unmarshal([]byte(src), s)
	case nil:
		*s = nil
		return nil
	}
	return errors.Errorf("unsupported scores type %T", src)
}
