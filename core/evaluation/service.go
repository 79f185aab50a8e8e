package evaluation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
)

var (
	// ErrEvaluationExists is the expected "already evaluated" signal, not a
	// system failure.
	ErrEvaluationExists = errors.New("this group has already been evaluated")
	ErrOwnGroup         = errors.New("a group cannot be evaluated by its own members")

	errNotInPopulation = "evaluator is not part of this room"
)

type (
	Repository interface {
		// CreateEvaluation atomically appends the ledger entry and the
		// anonymized result in one transaction. The ledger insert runs first
		// and is the serialization point: when an entry already exists for
		// (room, evaluator, target), including a concurrent duplicate losing
		// the race against the storage unique constraint, it returns
		// ErrEvaluationExists and no result is written.
		CreateEvaluation(ctx context.Context, entry LedgerEntry, res Result, exec ...core.DBExecutor) (Result, error)
		QueryEntriesByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]LedgerEntry, error)
		QueryEntriesByEvaluator(ctx context.Context, roomID, evaluatorID string, exec ...core.DBExecutor) ([]LedgerEntry, error)
		// QueryResultsByRoom returns results in submission order.
		QueryResultsByRoom(ctx context.Context, roomID string, exec ...core.DBExecutor) ([]Result, error)
	}

	Service interface {
		Submit(ctx context.Context, ne NewEvaluation) (Result, error)
		Targets(ctx context.Context, roomID, evaluatorID string) (TargetList, error)
		Summarize(ctx context.Context, roomID string) (Summary, error)
	}

	service struct {
		repo    Repository
		roomSvc room.Service
		logger  core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, roomSvc room.Service, logger core.Logger) *service {
	return &service{repo: repo, roomSvc: roomSvc, logger: logger}
}

// Submit records one student's evaluation of a target group: the ledger entry
// under the (room, evaluator, target) unique constraint first, then the
// anonymized result, both in one transaction (see Repository.CreateEvaluation).
func (svc *service) Submit(ctx context.Context, ne NewEvaluation) (Result, error) {
	rm, err := svc.roomSvc.GetRoom(ctx, ne.RoomID)
	if err != nil {
		return Result{}, err
	}
	target, err := svc.roomSvc.GetGroup(ctx, ne.TargetGroupID)
	if err != nil {
		return Result{}, err
	}
	if target.RoomID != rm.ID {
		return Result{}, room.ErrGroupNotFound
	}
	if !rm.AcceptsSubmissions(time.Now().UTC()) {
		return Result{}, core.NewValidationError(room.ErrRoomClosed)
	}

	groups, err := svc.roomSvc.GroupsByRoom(ctx, rm.ID)
	if err != nil {
		return Result{}, err
	}
	if !inPopulation(rm, groups, ne.EvaluatorID) {
		return Result{}, core.NewMembershipError(errNotInPopulation)
	}
	if target.Has(ne.EvaluatorID) {
		return Result{}, core.NewValidationError(ErrOwnGroup)
	}

	if err := ne.Validate(rm.Rubric); err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	entry := LedgerEntry{
		RoomID:        rm.ID,
		EvaluatorID:   ne.EvaluatorID,
		TargetGroupID: target.ID,
		CreatedAt:     now,
	}
	res := Result{
		TargetGroupID: target.ID,
		Scores:        ne.Scores,
		Comment:       null.NewString(ne.Comment, ne.Comment != ""),
		CreatedAt:     now,
	}
	res, err = svc.repo.CreateEvaluation(ctx, entry, res)
	if err != nil && core.IsConsistencyError(err) {
		// a race was not serialized at the storage layer; never swallow it
		svc.logger.Error("evaluation consistency violation", err)
	}
	return res, err
}

// Targets returns the evaluator's own group and every other group in the room
// with its already-evaluated flag, derived from the ledger.
func (svc *service) Targets(ctx context.Context, roomID, evaluatorID string) (TargetList, error) {
	rm, err := svc.roomSvc.GetRoom(ctx, roomID)
	if err != nil {
		return TargetList{}, err
	}
	groups, err := svc.roomSvc.GroupsByRoom(ctx, rm.ID)
	if err != nil {
		return TargetList{}, err
	}

	var own *room.Group
	for i := range groups {
		if groups[i].Has(evaluatorID) {
			own = &groups[i]
			break
		}
	}

	entries, err := svc.repo.QueryEntriesByEvaluator(ctx, rm.ID, evaluatorID)
	if err != nil {
		return TargetList{}, err
	}
	evaluated := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		evaluated[e.TargetGroupID] = struct{}{}
	}

	list := TargetList{Group: own, Targets: []Target{}}
	for _, g := range groups {
		if own != nil && g.ID == own.ID {
			continue // a group never appears in its own target list
		}
		_, done := evaluated[g.ID]
		list.Targets = append(list.Targets, Target{GroupID: g.ID, Name: g.Name, IsEvaluated: done})
		list.Total++
		if done {
			list.Done++
		}
	}
	return list, nil
}

// Summarize joins the room's results and ledger into per-group statistics and
// a ranked report; recomputed on every read.
func (svc *service) Summarize(ctx context.Context, roomID string) (Summary, error) {
	rm, err := svc.roomSvc.GetRoom(ctx, roomID)
	if err != nil {
		return Summary{}, err
	}
	groups, err := svc.roomSvc.GroupsByRoom(ctx, rm.ID)
	if err != nil {
		return Summary{}, err
	}
	entries, err := svc.repo.QueryEntriesByRoom(ctx, rm.ID)
	if err != nil {
		return Summary{}, err
	}
	results, err := svc.repo.QueryResultsByRoom(ctx, rm.ID)
	if err != nil {
		return Summary{}, err
	}
	population, err := svc.roomSvc.Population(ctx, rm.ID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rm, groups, entries, results, len(population)), nil
}

func inPopulation(rm room.Room, groups []room.Group, userID string) bool {
	for _, id := range room.PopulationIDs(rm, groups) {
		if id == userID {
			return true
		}
	}
	return false
}
