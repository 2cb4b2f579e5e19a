package syncer

import (
	"sort"

	"github.com/spyglass-dev/spyglass/internal/models"
)

// DiffSnapshots computes the upsert/remove delta that turns prev into next.
// It is a pure function of the two snapshots: groups present only in prev are
// removals, groups that are new or structurally unequal are upserts. Both
// result lists are sorted by project path ascending so the wire order is
// deterministic regardless of input order.
func DiffSnapshots(prev, next models.Snapshot) *models.ProjectDiff {
	prevByPath := make(map[string]models.ProjectGroup, len(prev))
	for _, group := range prev {
		prevByPath[group.ProjectPath] = group
	}
	nextByPath := make(map[string]models.ProjectGroup, len(next))
	for _, group := range next {
		nextByPath[group.ProjectPath] = group
	}

	diff := &models.ProjectDiff{
		UpsertProjects:     []models.ProjectGroup{},
		RemoveProjectPaths: []string{},
	}

	for _, group := range next {
		old, exists := prevByPath[group.ProjectPath]
		if !exists || !old.Equal(group) {
			diff.UpsertProjects = append(diff.UpsertProjects, group)
		}
	}
	sort.Slice(diff.UpsertProjects, func(i, j int) bool {
		return diff.UpsertProjects[i].ProjectPath < diff.UpsertProjects[j].ProjectPath
	})

	for _, group := range prev {
		if _, exists := nextByPath[group.ProjectPath]; !exists {
			diff.RemoveProjectPaths = append(diff.RemoveProjectPaths, group.ProjectPath)
		}
	}
	sort.Strings(diff.RemoveProjectPaths)

	return diff
}
