package evaluation

import (
	"math"
	"sort"

	"github.com/trezcool/tathmini/core/room"
)

type (
	// ItemStat is the aggregate of one rubric item for one group. Count is
	// the number of results contributing to the item; 0 flags an item with no
	// data (Average stays 0, nothing is divided).
	ItemStat struct {
		Average float64 `json:"average"`
		Min     int     `json:"min"`
		Max     int     `json:"max"`
		Count   int     `json:"count"`
	}

	GroupSummary struct {
		GroupID string `json:"group_id"`
		Name    string `json:"name"`
		// EvaluationCount is the number of distinct evaluators recorded in
		// the ledger for this group. The ledger is authoritative: raw result
		// counts are never used.
		EvaluationCount   int                 `json:"evaluation_count"`
		Items             map[string]ItemStat `json:"items"` // keyed by rubric item id
		TotalAverageScore float64             `json:"total_average_score"`
		Comments          []string            `json:"comments"`
	}

	Summary struct {
		RoomID        string         `json:"room_id"`
		TotalStudents int            `json:"total_students"`
		Groups        []GroupSummary `json:"groups"` // ranked
	}
)

// Summarize computes per-group statistics over the given snapshots and ranks
// groups by descending total average score; ties keep group creation order.
// Averages are rounded to 2 decimals at output, intermediate sums keep full
// precision.
func Summarize(rm room.Room, groups []room.Group, entries []LedgerEntry, results []Result, totalStudents int) Summary {
	resultsByGroup := make(map[string][]Result, len(groups))
	for _, res := range results {
		resultsByGroup[res.TargetGroupID] = append(resultsByGroup[res.TargetGroupID], res)
	}

	evaluatorsByGroup := make(map[string]map[string]struct{}, len(groups))
	for _, e := range entries {
		set, ok := evaluatorsByGroup[e.TargetGroupID]
		if !ok {
			set = make(map[string]struct{})
			evaluatorsByGroup[e.TargetGroupID] = set
		}
		set[e.EvaluatorID] = struct{}{}
	}

	summaries := make([]GroupSummary, 0, len(groups))
	for _, g := range groups { // creation order
		summaries = append(summaries, summarizeGroup(g, rm.Rubric, resultsByGroup[g.ID], len(evaluatorsByGroup[g.ID])))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].TotalAverageScore > summaries[j].TotalAverageScore
	})

	return Summary{
		RoomID:        rm.ID,
		TotalStudents: totalStudents,
		Groups:        summaries,
	}
}

func summarizeGroup(g room.Group, rubric room.Rubric, results []Result, evalCount int) GroupSummary {
	sums := make(map[string]int, len(rubric))
	items := make(map[string]ItemStat, len(rubric))
	for _, it := range rubric {
		items[it.ID] = ItemStat{}
	}

	var comments []string
	for _, res := range results {
		for _, it := range rubric {
			score, ok := res.Scores[it.ID]
			if !ok {
				continue
			}
			stat := items[it.ID]
			if stat.Count == 0 || score < stat.Min {
				stat.Min = score
			}
			if stat.Count == 0 || score > stat.Max {
				stat.Max = score
			}
			stat.Count++
			items[it.ID] = stat
			sums[it.ID] += score
		}
		if res.Comment.Valid && res.Comment.String != "" {
			comments = append(comments, res.Comment.String) // submission order, no dedup
		}
	}

	var total float64
	for id, stat := range items {
		if stat.Count > 0 {
			avg := float64(sums[id]) / float64(stat.Count)
			total += avg
			stat.Average = round2(avg)
			items[id] = stat
		}
	}

	if comments == nil {
		comments = []string{}
	}
	return GroupSummary{
		GroupID:           g.ID,
		Name:              g.Name,
		EvaluationCount:   evalCount,
		Items:             items,
		TotalAverageScore: round2(total),
		Comments:          comments,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
