package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/evaluation"
)

type evaluationRepository struct {
	db *DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil)

func NewEvaluationRepository(db *DB) *evaluationRepository {
	return &evaluationRepository{db: db}
}

// CreateEvaluation holds the write lock across the duplicate check and both
// appends, so concurrent submissions serialize the same way the SQL unique
// constraint serializes them.
func (repo *evaluationRepository) CreateEvaluation(_ context.Context, entry evaluation.LedgerEntry, res evaluation.Result, _ ...core.DBExecutor) (evaluation.Result, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, e := range repo.db.entries {
		if e.RoomID == entry.RoomID && e.EvaluatorID == entry.EvaluatorID && e.TargetGroupID == entry.TargetGroupID {
			return evaluation.Result{}, evaluation.ErrEvaluationExists
		}
	}

	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res = copyResult(res)

	repo.db.entries = append(repo.db.entries, entry)
	repo.db.results = append(repo.db.results, res)
	return copyResult(res), nil
}

func (repo *evaluationRepository) QueryEntriesByRoom(_ context.Context, roomID string, _ ...core.DBExecutor) ([]evaluation.LedgerEntry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	entries := make([]evaluation.LedgerEntry, 0)
	for _, e := range repo.db.entries {
		if e.RoomID == roomID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (repo *evaluationRepository) QueryEntriesByEvaluator(_ context.Context, roomID, evaluatorID string, _ ...core.DBExecutor) ([]evaluation.LedgerEntry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	entries := make([]evaluation.LedgerEntry, 0)
	for _, e := range repo.db.entries {
		if e.RoomID == roomID && e.EvaluatorID == evaluatorID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (repo *evaluationRepository) QueryResultsByRoom(_ context.Context, roomID string, _ ...core.DBExecutor) ([]evaluation.Result, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	targets := make(map[string]struct{})
	for _, g := range repo.db.groups {
		if g.RoomID == roomID {
			targets[g.ID] = struct{}{}
		}
	}
	results := make([]evaluation.Result, 0)
	for _, res := range repo.db.results { // submission order
		if _, ok := targets[res.TargetGroupID]; ok {
			results = append(results, copyResult(res))
		}
	}
	return results, nil
}

func copyResult(res evaluation.Result) evaluation.Result {
	scores := make(map[string]int, len(res.Scores))
	for k, v := range res.Scores {
		scores[k] = v
	}
	res.Scores = scores
	return res
}
