package room

// Membership reconciliation.
//
// Three independent write paths can place a student in a room: joining by
// code, being appointed group leader, and being added to a group's member
// list. Any of them can race or diverge (a peer adds a student to a group
// before that student ever joins), so no single source can be trusted as the
// room population. These functions compute the population as the union of all
// three signals over current snapshots; the result is never persisted.

// PopulationIDs returns the deduplicated union of the room's join records and
// every group's leader and members, in first-seen order: join order first,
// then group creation order.
func PopulationIDs(rm Room, groups []Group) []string {
	seen := make(map[string]struct{}, len(rm.JoinedIDs))
	ids := make([]string, 0, len(rm.JoinedIDs))

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, id := range rm.JoinedIDs {
		add(id)
	}
	for _, g := range groups {
		add(g.LeaderID)
		for _, id := range g.MemberIDs {
			add(id)
		}
	}
	return ids
}

// GroupedIDs returns the set of users already in any of the given groups,
// leader or member.
func GroupedIDs(groups []Group) map[string]struct{} {
	grouped := make(map[string]struct{})
	for _, g := range groups {
		if g.LeaderID != "" {
			grouped[g.LeaderID] = struct{}{}
		}
		for _, id := range g.MemberIDs {
			grouped[id] = struct{}{}
		}
	}
	return grouped
}

// AvailableIDs returns the population minus everyone already in any group and
// minus excludeID, preserving PopulationIDs order.
func AvailableIDs(rm Room, groups []Group, excludeID string) []string {
	grouped := GroupedIDs(groups)

	var ids []string
	for _, id := range PopulationIDs(rm, groups) {
		if id == excludeID {
			continue
		}
		if _, ok := grouped[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
