package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-dev/spyglass/internal/models"
)

func testGroup(path string, sessionIDs ...string) models.ProjectGroup {
	g := models.ProjectGroup{ProjectPath: path}
	for _, id := range sessionIDs {
		g.Sessions = append(g.Sessions, models.Session{
			Provider:    "claude",
			SessionID:   id,
			ProjectPath: path,
			UpdatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		})
	}
	return g
}

// applyDiff replays a diff onto a snapshot the way a client would.
func applyDiff(snapshot models.Snapshot, diff *models.ProjectDiff) models.Snapshot {
	byPath := make(map[string]models.ProjectGroup)
	for _, g := range snapshot {
		byPath[g.ProjectPath] = g
	}
	for _, g := range diff.UpsertProjects {
		byPath[g.ProjectPath] = g
	}
	for _, p := range diff.RemoveProjectPaths {
		delete(byPath, p)
	}
	var out models.Snapshot
	for _, g := range byPath {
		out = append(out, g)
	}
	return out
}

func snapshotByPath(s models.Snapshot) map[string]models.ProjectGroup {
	m := make(map[string]models.ProjectGroup, len(s))
	for _, g := range s {
		m[g.ProjectPath] = g
	}
	return m
}

func TestDiffSnapshots(t *testing.T) {
	t.Run("identical snapshots produce an empty diff", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/a", "s1"), testGroup("/b", "s2")}
		next := models.Snapshot{testGroup("/a", "s1"), testGroup("/b", "s2")}
		diff := DiffSnapshots(prev, next)
		assert.True(t, diff.Empty())
	})

	t.Run("nil previous makes everything an upsert", func(t *testing.T) {
		next := models.Snapshot{testGroup("/a", "s1"), testGroup("/b", "s2")}
		diff := DiffSnapshots(nil, next)
		assert.Len(t, diff.UpsertProjects, 2)
		assert.Empty(t, diff.RemoveProjectPaths)
	})

	t.Run("added removed and changed groups", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/keep", "s1"), testGroup("/gone", "s2"), testGroup("/change", "s3")}
		changed := testGroup("/change", "s3")
		changed.Sessions[0].Title = "renamed"
		next := models.Snapshot{testGroup("/keep", "s1"), changed, testGroup("/new", "s4")}

		diff := DiffSnapshots(prev, next)
		require.Len(t, diff.UpsertProjects, 2)
		assert.Equal(t, "/change", diff.UpsertProjects[0].ProjectPath)
		assert.Equal(t, "/new", diff.UpsertProjects[1].ProjectPath)
		assert.Equal(t, []string{"/gone"}, diff.RemoveProjectPaths)
	})

	t.Run("applying the diff reproduces the next snapshot", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/a", "s1"), testGroup("/b", "s2"), testGroup("/c", "s3")}
		next := models.Snapshot{testGroup("/a", "s1", "s9"), testGroup("/c", "s3"), testGroup("/d", "s4")}

		got := applyDiff(prev, DiffSnapshots(prev, next))
		assert.Equal(t, snapshotByPath(next), snapshotByPath(got))
	})

	t.Run("reordered sessions count as an update", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/a", "s1", "s2")}
		next := models.Snapshot{testGroup("/a", "s2", "s1")}
		diff := DiffSnapshots(prev, next)
		require.Len(t, diff.UpsertProjects, 1)
		assert.Empty(t, diff.RemoveProjectPaths)
	})

	t.Run("output is sorted by project path", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/z", "s1"), testGroup("/m", "s2")}
		next := models.Snapshot{testGroup("/c", "s3"), testGroup("/b", "s4"), testGroup("/a", "s5")}

		diff := DiffSnapshots(prev, next)
		require.Len(t, diff.UpsertProjects, 3)
		assert.Equal(t, "/a", diff.UpsertProjects[0].ProjectPath)
		assert.Equal(t, "/b", diff.UpsertProjects[1].ProjectPath)
		assert.Equal(t, "/c", diff.UpsertProjects[2].ProjectPath)
		assert.Equal(t, []string{"/m", "/z"}, diff.RemoveProjectPaths)
	})

	t.Run("diffing is idempotent", func(t *testing.T) {
		prev := models.Snapshot{testGroup("/a", "s1")}
		next := models.Snapshot{testGroup("/a", "s1"), testGroup("/b", "s2")}
		first := DiffSnapshots(prev, next)
		second := DiffSnapshots(next, next)
		assert.False(t, first.Empty())
		assert.True(t, second.Empty())
	})
}
