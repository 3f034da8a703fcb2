package live

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselive/backend/internal/models"
)

func newBareSession(t *testing.T) (*Session, uuid.UUID, time.Time) {
	t.Helper()
	hostID := uuid.New()
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	return newSession(uuid.New(), hostID, "sk_test", nil, now), hostID, now
}

func TestSessionLifecycleTransitions(t *testing.T) {
	sess, hostID, now := newBareSession(t)

	require.Equal(t, models.StreamScheduled, sess.State())

	// Scheduled streams cannot end.
	err := sess.checkTransition(hostID, models.StreamEnded)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	require.NoError(t, sess.checkTransition(hostID, models.StreamLive))
	require.NoError(t, sess.applyStart(now, "rec_1"))
	require.Equal(t, models.StreamLive, sess.State())

	// Going live twice is illegal.
	err = sess.checkTransition(hostID, models.StreamLive)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	require.NoError(t, sess.checkTransition(hostID, models.StreamEnded))
	handle, err := sess.applyEnd(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "rec_1", handle)
	assert.Equal(t, models.StreamEnded, sess.State())

	// Ended is terminal.
	err = sess.checkTransition(hostID, models.StreamLive)
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestSessionTransitionHostOnly(t *testing.T) {
	sess, _, _ := newBareSession(t)

	err := sess.checkTransition(uuid.New(), models.StreamLive)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.Equal(t, models.StreamScheduled, sess.State())
}

func TestSessionViewerCounters(t *testing.T) {
	sess, _, now := newBareSession(t)

	for i := 0; i < 5; i++ {
		_, err := sess.AddViewer(uuid.New(), "", now)
		require.NoError(t, err)
	}
	a := sess.Analytics()
	assert.Equal(t, 5, a.CurrentViewers)
	assert.Equal(t, 5, a.PeakViewers)
	assert.Equal(t, 5, a.TotalViewers)

	leaver := uuid.New()
	_, err := sess.AddViewer(leaver, "", now)
	require.NoError(t, err)
	_, count, err := sess.RemoveViewer(leaver, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	a = sess.Analytics()
	// Peak and total never decrease with departures.
	assert.Equal(t, 6, a.PeakViewers)
	assert.Equal(t, 6, a.TotalViewers)
	assert.Equal(t, 5, a.CurrentViewers)
}

func TestSessionDuplicateViewerRejected(t *testing.T) {
	sess, _, now := newBareSession(t)
	userID := uuid.New()

	_, err := sess.AddViewer(userID, "", now)
	require.NoError(t, err)
	_, err = sess.AddViewer(userID, "", now)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 1, sess.Analytics().TotalViewers)
}

func TestSessionWatchTimeRunningAverage(t *testing.T) {
	sess, _, now := newBareSession(t)
	first, second := uuid.New(), uuid.New()

	_, err := sess.AddViewer(first, "", now)
	require.NoError(t, err)
	_, err = sess.AddViewer(second, "", now)
	require.NoError(t, err)

	// The incremental mean divides by the total viewers ever joined, so the
	// first 60s stint lands at 60/2 = 30 while the second viewer is still in.
	record, _, err := sess.RemoveViewer(first, now.Add(60*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(60), record.WatchTimeSeconds)
	assert.InDelta(t, 30.0, sess.Analytics().AvgWatchTime, 0.001)

	record, _, err = sess.RemoveViewer(second, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(30), record.WatchTimeSeconds)
	assert.InDelta(t, 30.0, sess.Analytics().AvgWatchTime, 0.001)
}

func TestSessionDrainViewersFoldsWatchTime(t *testing.T) {
	sess, _, now := newBareSession(t)

	_, err := sess.AddViewer(uuid.New(), "", now)
	require.NoError(t, err)
	_, err = sess.AddViewer(uuid.New(), "", now)
	require.NoError(t, err)

	records := sess.drainViewers(now.Add(60 * time.Second))
	require.Len(t, records, 2)

	a := sess.Analytics()
	assert.Equal(t, 0, a.CurrentViewers)
	// Two 60s stints folded with n=2 each: 60/2 = 30, then (30+60)/2 = 45.
	assert.InDelta(t, 45.0, a.AvgWatchTime, 0.001)
}

func TestSessionHostCannotBeRemoved(t *testing.T) {
	sess, hostID, _ := newBareSession(t)

	_, err := sess.RemoveParticipant(hostID)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.True(t, sess.IsParticipant(hostID))
}

func TestSessionParticipantJoinAfterEndRejected(t *testing.T) {
	sess, _, now := newBareSession(t)
	require.NoError(t, sess.applyStart(now, ""))
	_, err := sess.applyEnd(now.Add(time.Minute))
	require.NoError(t, err)

	err = sess.AddParticipant(&Participant{UserID: uuid.New(), Role: models.RoleCoStar})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSessionViewerJoinAfterEndRejected(t *testing.T) {
	sess, _, now := newBareSession(t)
	require.NoError(t, sess.applyStart(now, ""))
	_, err := sess.applyEnd(now.Add(time.Minute))
	require.NoError(t, err)

	_, err = sess.AddViewer(uuid.New(), "", now.Add(2*time.Minute))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, 0, sess.Analytics().TotalViewers)
}

func TestSessionApplyRechecksState(t *testing.T) {
	sess, _, now := newBareSession(t)

	// Two racing starts both pass validation; only one may flip the state.
	require.NoError(t, sess.applyStart(now, "rec_1"))
	err := sess.applyStart(now, "rec_2")
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))

	handle, err := sess.applyEnd(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "rec_1", handle)

	_, err = sess.applyEnd(now.Add(time.Minute))
	require.Error(t, err)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, models.StreamEnded, sess.State())
}

func TestSessionHighlightWindowClamping(t *testing.T) {
	sess, _, now := newBareSession(t)

	// Trigger 10s in: a 60s window would start at -20s, clamped to zero.
	h := sess.AddHighlight(models.HighlightManual, "early", 50, 10, 60*time.Second, now)
	assert.Equal(t, 0.0, h.StartTime)
	assert.Equal(t, 60.0, h.EndTime)
	assert.Equal(t, now, h.CreatedAt)

	// Mid-stream trigger centers the window.
	h = sess.AddHighlight(models.HighlightManual, "mid", 50, 300, 60*time.Second, now)
	assert.Equal(t, 270.0, h.StartTime)
	assert.Equal(t, 330.0, h.EndTime)
}

func TestSessionHighlightScoreClamped(t *testing.T) {
	sess, _, now := newBareSession(t)

	h := sess.AddHighlight(models.HighlightLargeGift, "big", 150, 100, 60*time.Second, now)
	assert.Equal(t, 100.0, h.Score)
	h = sess.AddHighlight(models.HighlightManual, "neg", -5, 100, 60*time.Second, now)
	assert.Equal(t, 0.0, h.Score)
}

func TestSessionChatBurstCountPrunesWindow(t *testing.T) {
	sess, _, now := newBareSession(t)

	for i := 0; i < 10; i++ {
		sess.AppendChat(&models.ChatMessage{
			ID:     uuid.New(),
			SentAt: now.Add(time.Duration(i) * 10 * time.Second),
		})
	}
	// At t+100s a 60s window keeps messages sent strictly after t+40s; the
	// message stamped exactly at the cutoff is pruned.
	count := sess.ChatBurstCount(now.Add(100*time.Second), 60*time.Second)
	assert.Equal(t, 5, count)

	// Much later the window is empty; counters are untouched.
	count = sess.ChatBurstCount(now.Add(time.Hour), 60*time.Second)
	assert.Equal(t, 0, count)
	assert.Equal(t, 10, sess.Analytics().TotalChatMessages)
}

func TestSessionPinMessage(t *testing.T) {
	sess, _, now := newBareSession(t)
	msg := &models.ChatMessage{ID: uuid.New(), Text: "hello", SentAt: now}
	sess.AppendChat(msg)

	pinned, err := sess.PinMessage(msg.ID)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	_, err = sess.PinMessage(uuid.New())
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSessionRetentionSampling(t *testing.T) {
	sess, _, now := newBareSession(t)
	require.NoError(t, sess.applyStart(now, ""))

	for i := 0; i < 4; i++ {
		_, err := sess.AddViewer(uuid.New(), "", now)
		require.NoError(t, err)
	}
	users := make([]uuid.UUID, 0)
	for id := range sess.viewers {
		users = append(users, id)
	}
	_, _, err := sess.RemoveViewer(users[0], now.Add(time.Minute))
	require.NoError(t, err)

	sess.sampleRetention(now.Add(2 * time.Minute))
	a := sess.Analytics()
	require.Len(t, a.RetentionCurve, 1)
	assert.Equal(t, 2, a.RetentionCurve[0].Minute)
	assert.InDelta(t, 75.0, a.RetentionCurve[0].Retention, 0.001)
}
