package evaluation

import (
	"fmt"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/room"
)

// LedgerEntry records *that* an evaluator scored a group, decoupled from the
// scores themselves. Append-only; (room, evaluator, target) is unique and its
// existence is the sole duplicate-submission guard. Entries are only ever
// removed by group/room cascade deletion.
type LedgerEntry struct {
	RoomID        string    `json:"room_id"`
	EvaluatorID   string    `json:"evaluator_id"`
	TargetGroupID string    `json:"target_group_id"`
	CreatedAt     time.Time `json:"created_at"` // UTC
}

// Result is the anonymized scored content of one evaluation. It deliberately
// carries no evaluator reference: the link between an evaluator's identity and
// their scores is severed permanently at the write boundary.
type Result struct {
	ID            string         `json:"id"`
	TargetGroupID string         `json:"target_group_id"`
	Scores        map[string]int `json:"scores"` // rubric item id -> score
	Comment       null.String    `json:"comment,omitempty"`
	CreatedAt     time.Time      `json:"created_at"` // UTC
}

// NewEvaluation contains one student's submission against a target group.
// EvaluatorID is taken from the request context, never from the payload, and
// is only ever written to the ledger.
type NewEvaluation struct {
	RoomID        string         `json:"room_id" validate:"required"`
	TargetGroupID string         `json:"target_group_id" validate:"required"`
	EvaluatorID   string         `json:"-"`
	Scores        map[string]int `json:"scores" validate:"required"`
	Comment       string         `json:"comment"`
}

// Validate checks the submission against the room's rubric: a score for every
// item (no partial submissions) and every score within [0, maxScore].
// Out-of-range scores are rejected, never clamped, so aggregates stay honest.
func (ne *NewEvaluation) Validate(rubric room.Rubric) error {
	ne.Comment = core.CleanString(ne.Comment)
	if err := core.Validate.Struct(ne); err != nil {
		return err
	}

	var fldErrs []core.FieldError
	for _, it := range rubric {
		score, ok := ne.Scores[it.ID]
		if !ok {
			fldErrs = append(fldErrs, core.FieldError{Field: it.ID, Error: "missing score"})
			continue
		}
		if score < 0 || score > it.MaxScore {
			fldErrs = append(fldErrs, core.FieldError{
				Field: it.ID,
				Error: fmt.Sprintf("score must be between 0 and %d", it.MaxScore),
			})
		}
	}
	for id := range ne.Scores {
		if _, ok := rubric.Item(id); !ok {
			fldErrs = append(fldErrs, core.FieldError{Field: id, Error: "unknown rubric item"})
		}
	}
	if len(fldErrs) > 0 {
		sort.Slice(fldErrs, func(i, j int) bool { return fldErrs[i].Field < fldErrs[j].Field })
		return core.NewValidationError(nil, fldErrs...)
	}
	return nil
}

// Target is one group the evaluator may (or already did) evaluate.
type Target struct {
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	IsEvaluated bool   `json:"is_evaluated"`
}

// TargetList is a student's evaluation work list for a room.
type TargetList struct {
	Group   *room.Group `json:"group"` // the student's own group; nil when ungrouped
	Targets []Target    `json:"targets"`
	Done    int         `json:"done"`
	Total   int         `json:"total"`
}
