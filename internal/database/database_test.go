package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossdeck/pkg/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLibraryIndex(t *testing.T) {
	db := newTestDatabase(t)

	t.Run("UpsertAndGet", func(t *testing.T) {
		id, err := db.UpsertTrack(models.LibraryEntry{
			Path:       "/music/a.wav",
			Title:      "Alpha",
			DurationMS: 180000,
			SampleRate: 44100,
			Channels:   2,
		})
		require.NoError(t, err)
		assert.Greater(t, id, 0)

		e, err := db.GetTrackByPath("/music/a.wav")
		require.NoError(t, err)
		assert.Equal(t, "Alpha", e.Title)
		assert.Equal(t, int64(180000), e.DurationMS)
		assert.Equal(t, 44100, e.SampleRate)
		assert.False(t, e.AddedAt.IsZero())
	})

	t.Run("UpsertKeepsID", func(t *testing.T) {
		first, err := db.UpsertTrack(models.LibraryEntry{Path: "/music/b.flac", Title: "Beta"})
		require.NoError(t, err)
		second, err := db.UpsertTrack(models.LibraryEntry{Path: "/music/b.flac", Title: "Beta (remaster)"})
		require.NoError(t, err)
		assert.Equal(t, first, second)

		e, err := db.GetTrackByPath("/music/b.flac")
		require.NoError(t, err)
		assert.Equal(t, "Beta (remaster)", e.Title)
	})

	t.Run("ListOrderedByPath", func(t *testing.T) {
		all, err := db.GetAllTracks()
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "/music/a.wav", all[0].Path)
		assert.Equal(t, "/music/b.flac", all[1].Path)
	})

	t.Run("ExistsAndRemove", func(t *testing.T) {
		ok, err := db.TrackExists("/music/a.wav")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, db.RemoveTrackByPath("/music/a.wav"))
		ok, err = db.TrackExists("/music/a.wav")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = db.GetTrackByPath("/music/a.wav")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransitionLog(t *testing.T) {
	db := newTestDatabase(t)
	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	for i, id := range []string{"t1", "t2"} {
		require.NoError(t, db.RecordTransition(models.Transition{
			ID:         id,
			From:       models.ChannelA,
			To:         models.ChannelB,
			TrackTitle: "Song",
			StartedAt:  start.Add(time.Duration(i) * time.Second),
			Outcome:    models.OutcomeStarted,
		}))
	}
	require.NoError(t, db.FinishTransition("t1", models.OutcomeCompleted, start.Add(5*time.Second)))
	assert.ErrorIs(t, db.FinishTransition("missing", models.OutcomeStale, time.Now()), ErrNotFound)

	recent, err := db.RecentTransitions(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	assert.Equal(t, "t2", recent[0].ID)
	assert.Nil(t, recent[0].FinishedAt)
	assert.Equal(t, models.OutcomeStarted, recent[0].Outcome)

	assert.Equal(t, "t1", recent[1].ID)
	assert.Equal(t, models.ChannelA, recent[1].From)
	assert.Equal(t, models.ChannelB, recent[1].To)
	assert.Equal(t, models.OutcomeCompleted, recent[1].Outcome)
	require.NotNil(t, recent[1].FinishedAt)
	assert.True(t, recent[1].FinishedAt.Equal(start.Add(5*time.Second)))

	limited, err := db.RecentTransitions(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
