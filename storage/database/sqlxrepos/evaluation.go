package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/evaluation"
)

type entryRow struct {
	RoomID        string    `db:"room_id"`
	EvaluatorID   string    `db:"evaluator_id"`
	TargetGroupID string    `db:"target_group_id"`
	CreatedAt     time.Time `db:"created_at"`
}

type resultRow struct {
	ID            string      `db:"id"`
	TargetGroupID string      `db:"target_group_id"`
	Scores        scoresJSON  `db:"scores"`
	Comment       null.String `db:"comment"`
	CreatedAt     time.Time   `db:"created_at"`
}

func (row resultRow) toResult() evaluation.Result {
	return evaluation.Result{
		ID:            row.ID,
		TargetGroupID: row.TargetGroupID,
		Scores:        row.Scores,
		Comment:       row.Comment,
		CreatedAt:     row.CreatedAt,
	}
}

type evaluationRepository struct {
	db core.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil)

func NewEvaluationRepository(db core.DB) *evaluationRepository {
	return &evaluationRepository{db: db}
}

// CreateEvaluation writes the ledger entry and then the result in one
// transaction. The ledger insert no-ops on conflict with its composite primary
// key; 0 rows affected means another submission by the same evaluator for the
// same target already went through, and the whole write is abandoned.
func (repo evaluationRepository) CreateEvaluation(ctx context.Context, entry evaluation.LedgerEntry, res evaluation.Result, exec ...core.DBExecutor) (evaluation.Result, error) {
	if len(exec) > 0 {
		return repo.createEvaluation(ctx, exec[0], entry, res)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return evaluation.Result{}, errors.Wrap(err, "beginning transaction")
	}
	res, err = repo.createEvaluation(ctx, tx, entry, res)
	if err != nil {
		_ = tx.Rollback()
		return evaluation.Result{}, err
	}
	if err = tx.Commit(); err != nil {
		return evaluation.Result{}, errors.Wrap(err, "committing evaluation")
	}
	return res, nil
}

func (repo evaluationRepository) createEvaluation(ctx context.Context, ex core.DBExecutor, entry evaluation.LedgerEntry, res evaluation.Result) (evaluation.Result, error) {
	query := ex.Rebind(`
		INSERT INTO evaluation_ledger (room_id, evaluator_id, target_group_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT ON CONSTRAINT evaluation_ledger_pkey DO NOTHING`)
	r, err := ex.ExecContext(ctx, query, entry.RoomID, entry.EvaluatorID, entry.TargetGroupID, entry.CreatedAt)
	if err != nil {
		return evaluation.Result{}, errors.Wrap(err, "recording evaluation")
	}
	if cnt, err := r.RowsAffected(); err == nil && cnt == 0 {
		return evaluation.Result{}, evaluation.ErrEvaluationExists
	}

	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	query = ex.Rebind(`
		INSERT INTO evaluation_result (id, target_group_id, scores, comment, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	_, err = ex.ExecContext(ctx, query, res.ID, res.TargetGroupID, scoresJSON(res.Scores), res.Comment, res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			// the ledger said this write was first; a result conflict here
			// means the two stores disagree
			return evaluation.Result{}, core.NewConsistencyError(err)
		}
		return evaluation.Result{}, errors.Wrap(err, "recording result")
	}
	return res, nil
}

func (repo evaluationRepository) QueryEntriesByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]evaluation.LedgerEntry, error) {
	ex := getExec(repo.db, exec)

	var rows []entryRow
	query := ex.Rebind(`
		SELECT room_id, evaluator_id, target_group_id, created_at
		FROM evaluation_ledger WHERE room_id = ? ORDER BY created_at`)
	if err := ex.SelectContext(ctx, &rows, query, roomID); err != nil {
		return nil, errors.Wrap(err, "querying ledger")
	}
	return toEntries(rows), nil
}

func (repo evaluationRepository) QueryEntriesByEvaluator(ctx context.Context, roomID, evaluatorID string, exec ...core.DBExecutor) ([]evaluation.LedgerEntry, error) {
	ex := getExec(repo.db, exec)

	var rows []entryRow
	query := ex.Rebind(`
		SELECT room_id, evaluator_id, target_group_id, created_at
		FROM evaluation_ledger WHERE room_id = ? AND evaluator_id = ? ORDER BY created_at`)
	if err := ex.SelectContext(ctx, &rows, query, roomID, evaluatorID); err != nil {
		return nil, errors.Wrap(err, "querying ledger")
	}
	return toEntries(rows), nil
}

func (repo evaluationRepository) QueryResultsByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]evaluation.Result, error) {
	ex := getExec(repo.db, exec)

	var rows []resultRow
	query := ex.Rebind(`
		SELECT r.id, r.target_group_id, r.scores, r.comment, r.created_at
		FROM evaluation_result r
		JOIN "group" g ON g.id = r.target_group_id
		WHERE g.room_id = ? ORDER BY r.created_at, r.id`)
	if err := ex.SelectContext(ctx, &rows, query, roomID); err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	results := make([]evaluation.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toResult())
	}
	return results, nil
}

func toEntries(rows []entryRow) []evaluation.LedgerEntry {
	entries := make([]evaluation.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, evaluation.LedgerEntry(row))
	}
	return entries
}
