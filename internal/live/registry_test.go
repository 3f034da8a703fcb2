package live

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselive/backend/internal/models"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	sess := r.Create(uuid.New(), uuid.New(), "sk_abc", nil)

	got, err := r.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	got, err = r.GetByStreamKey("sk_abc")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = r.Get(uuid.New())
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = r.GetByStreamKey("sk_missing")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRegistryLiveSnapshot(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	now := time.Now()

	scheduled := r.Create(uuid.New(), uuid.New(), "sk_1", nil)
	live := r.Create(uuid.New(), uuid.New(), "sk_2", nil)
	live.applyStart(now, "")
	ended := r.Create(uuid.New(), uuid.New(), "sk_3", nil)
	ended.applyStart(now, "")
	ended.applyEnd(now)
	_ = scheduled

	snapshot := r.Live()
	require.Len(t, snapshot, 1)
	assert.Same(t, live, snapshot[0])
}

func TestRegistrySweepEvictsExpiredEndedSessions(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	now := time.Now()

	old := r.Create(uuid.New(), uuid.New(), "sk_old", nil)
	old.applyStart(now.Add(-3*time.Hour), "")
	old.applyEnd(now.Add(-2 * time.Hour))

	recent := r.Create(uuid.New(), uuid.New(), "sk_recent", nil)
	recent.applyStart(now.Add(-time.Hour), "")
	recent.applyEnd(now.Add(-30 * time.Minute))

	running := r.Create(uuid.New(), uuid.New(), "sk_running", nil)
	running.applyStart(now.Add(-5*time.Hour), "")

	evicted := r.Sweep(now)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, r.Len())

	// The evicted session is gone under both keys.
	_, err := r.Get(old.ID)
	assert.Error(t, err)
	_, err = r.GetByStreamKey("sk_old")
	assert.Error(t, err)

	// Ended-but-retained sessions stay queryable, however long a live one runs.
	_, err = r.Get(recent.ID)
	assert.NoError(t, err)
	_, err = r.Get(running.ID)
	assert.NoError(t, err)

	// The retained session expires once its hour is up.
	evicted = r.Sweep(now.Add(31 * time.Minute))
	assert.Equal(t, 1, evicted)

	// Ended analytics remain queryable until eviction.
	a, err := r.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StreamLive, a.State())
}
