package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionEqual(t *testing.T) {
	base := Session{
		Provider:     "claude",
		SessionID:    "abc",
		ProjectPath:  "/home/user/proj",
		Title:        "fix the bug",
		MessageCount: 12,
		CreatedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("identical sessions are equal", func(t *testing.T) {
		assert.True(t, base.Equal(base))
	})

	t.Run("same instant in another location is equal", func(t *testing.T) {
		other := base
		other.UpdatedAt = base.UpdatedAt.In(time.FixedZone("CET", 3600))
		assert.True(t, base.Equal(other))
	})

	t.Run("any field change breaks equality", func(t *testing.T) {
		other := base
		other.Title = "something else"
		assert.False(t, base.Equal(other))

		other = base
		other.MessageCount++
		assert.False(t, base.Equal(other))

		other = base
		other.Archived = true
		assert.False(t, base.Equal(other))
	})
}

func TestProjectGroupEqual(t *testing.T) {
	s1 := Session{Provider: "claude", SessionID: "s1"}
	s2 := Session{Provider: "claude", SessionID: "s2"}

	t.Run("same sessions in the same order are equal", func(t *testing.T) {
		a := ProjectGroup{ProjectPath: "/p", Sessions: []Session{s1, s2}}
		b := ProjectGroup{ProjectPath: "/p", Sessions: []Session{s1, s2}}
		assert.True(t, a.Equal(b))
	})

	t.Run("reordered sessions are not equal", func(t *testing.T) {
		a := ProjectGroup{ProjectPath: "/p", Sessions: []Session{s1, s2}}
		b := ProjectGroup{ProjectPath: "/p", Sessions: []Session{s2, s1}}
		assert.False(t, a.Equal(b))
	})

	t.Run("color change is an update", func(t *testing.T) {
		a := ProjectGroup{ProjectPath: "/p", Color: "red"}
		b := ProjectGroup{ProjectPath: "/p", Color: "blue"}
		assert.False(t, a.Equal(b))
	})

	t.Run("nil and empty session lists are equal", func(t *testing.T) {
		a := ProjectGroup{ProjectPath: "/p"}
		b := ProjectGroup{ProjectPath: "/p", Sessions: []Session{}}
		assert.True(t, a.Equal(b))
	})
}

func TestProjectDiffEmpty(t *testing.T) {
	assert.True(t, (&ProjectDiff{}).Empty())
	assert.False(t, (&ProjectDiff{UpsertProjects: []ProjectGroup{{ProjectPath: "/p"}}}).Empty())
	assert.False(t, (&ProjectDiff{RemoveProjectPaths: []string{"/p"}}).Empty())
}
