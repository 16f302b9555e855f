package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/screenvet/screenvet/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "screenvet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newSession(email, jobID string) *models.Session {
	return &models.Session{
		ScreeningID:    "scr-1",
		CandidateName:  "Jamie Doe",
		CandidateEmail: email,
		JobID:          jobID,
		JobTitle:       "Backend Engineer",
		RecruiterEmail: "recruiter@example.com",
		MaxTurns:       5,
	}
}

func TestAdmitCreatesPendingSession(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.False(t, result.Queued)
	require.NotNil(t, result.Session)
	require.NotZero(t, result.Session.ID)
	require.Equal(t, models.StatusPending, result.Session.Status)
	require.EqualValues(t, 1, result.Session.Version)

	loaded, err := sessions.GetByID(ctx, result.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "jamie@example.com", loaded.CandidateEmail)
	require.Equal(t, models.StatusPending, loaded.Status)
}

func TestAdmitSkipsDuplicateOpenSession(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	_, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, "active session exists", result.Reason)
}

func TestAdmitQueuesBeyondConcurrencyCap(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	for _, jobID := range []string{"job-1", "job-2", "job-3"} {
		result, err := sessions.Admit(ctx, newSession("jamie@example.com", jobID), 3, 0)
		require.NoError(t, err)
		require.False(t, result.Queued)
	}

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-4"), 3, 0)
	require.NoError(t, err)
	require.True(t, result.Queued)
	require.Equal(t, models.StatusQueued, result.Session.Status)

	// a different candidate is unaffected by the first one's slots
	other, err := sessions.Admit(ctx, newSession("alex@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	require.False(t, other.Queued)
}

func TestAdmitSkipsRecentlyFinalized(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	first, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 168*time.Hour)
	require.NoError(t, err)

	first.Session.Status = models.StatusQualified
	require.NoError(t, sessions.Update(ctx, first.Session))

	again, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 168*time.Hour)
	require.NoError(t, err)
	require.True(t, again.Skipped)
	require.Equal(t, "recently finalized", again.Reason)

	// without a rescreen window the pair may be vetted again
	rescreen, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	require.False(t, rescreen.Skipped)
}

func TestUpdateDetectsVersionConflict(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sess := result.Session

	stale, err := sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)

	sess.Status = models.StatusOutreachSent
	sess.CurrentTurn = 1
	require.NoError(t, sessions.Update(ctx, sess))
	require.EqualValues(t, 2, sess.Version)

	stale.Status = models.StatusDeclined
	err = sessions.Update(ctx, stale)
	require.ErrorIs(t, err, ErrVersionConflict)

	loaded, err := sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusOutreachSent, loaded.Status)
}

func TestUpdateRoundTripsPayload(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sess := result.Session

	now := time.Now().Truncate(time.Second)
	score := 72.0
	sess.Status = models.StatusInProgress
	sess.Questions = []string{"q0", "q1"}
	sess.Answers = map[int]string{1: "a1"}
	sess.CurrentTurn = 2
	sess.LastOutreachAt = &now
	sess.LastReplyAt = &now
	sess.OutcomeScore = &score
	sess.NoteCreated = true
	sess.LastMessageID = "<msg@screenvet>"
	require.NoError(t, sessions.Update(ctx, sess))

	loaded, err := sessions.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"q0", "q1"}, loaded.Questions)
	require.Equal(t, map[int]string{1: "a1"}, loaded.Answers)
	require.Equal(t, now.Unix(), loaded.LastOutreachAt.Unix())
	require.NotNil(t, loaded.OutcomeScore)
	require.Equal(t, 72.0, *loaded.OutcomeScore)
	require.True(t, loaded.NoteCreated)
	require.False(t, loaded.HandoffSent)
	require.Equal(t, "<msg@screenvet>", loaded.LastMessageID)
}

func TestGetByIDReturnsNilWhenAbsent(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)

	sess, err := sessions.GetByID(context.Background(), 9999)
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestFindByMessageID(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sess := result.Session

	sess.LastMessageID = "<abc@screenvet>"
	require.NoError(t, sessions.Update(ctx, sess))

	found, err := sessions.FindByMessageID(ctx, "<abc@screenvet>")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, sess.ID, found.ID)

	missing, err := sessions.FindByMessageID(ctx, "<nope@screenvet>")
	require.NoError(t, err)
	require.Nil(t, missing)

	blank, err := sessions.FindByMessageID(ctx, "  ")
	require.NoError(t, err)
	require.Nil(t, blank)
}

func TestFindActiveByEmail(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sess := result.Session

	// pending sessions are not awaiting a reply
	found, err := sessions.FindActiveByEmail(ctx, "jamie@example.com")
	require.NoError(t, err)
	require.Nil(t, found)

	sess.Status = models.StatusOutreachSent
	require.NoError(t, sessions.Update(ctx, sess))

	found, err = sessions.FindActiveByEmail(ctx, "jamie@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, sess.ID, found.ID)
}

func TestPromoteOldestQueued(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	for _, jobID := range []string{"job-1", "job-2", "job-3", "job-4", "job-5"} {
		_, err := sessions.Admit(ctx, newSession("jamie@example.com", jobID), 3, 0)
		require.NoError(t, err)
	}

	candidates, err := sessions.QueuedCandidates(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"jamie@example.com"}, candidates)

	// every slot taken, nothing to promote
	none, err := sessions.Promote(ctx, "jamie@example.com", 3)
	require.NoError(t, err)
	require.Nil(t, none)

	// free a slot; the oldest queued session wins it
	first, err := sessions.GetByID(ctx, 1)
	require.NoError(t, err)
	first.Status = models.StatusDeclined
	require.NoError(t, sessions.Update(ctx, first))

	promoted, err := sessions.Promote(ctx, "jamie@example.com", 3)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	require.Equal(t, "job-4", promoted.JobID)
	require.Equal(t, models.StatusPending, promoted.Status)

	// in-memory version matches the row so a follow-up Update succeeds
	require.NoError(t, sessions.Update(ctx, promoted))

	missing, err := sessions.Promote(ctx, "nobody@example.com", 3)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPromoteHonorsCapAgainstNewAdmissions(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	for _, jobID := range []string{"job-1", "job-2"} {
		_, err := sessions.Admit(ctx, newSession("jamie@example.com", jobID), 3, 0)
		require.NoError(t, err)
	}
	queued, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-3"), 2, 0)
	require.NoError(t, err)
	require.True(t, queued.Queued)

	// an admission lands between the queue listing and the promotion attempt
	fresh, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-4"), 3, 0)
	require.NoError(t, err)
	require.False(t, fresh.Queued)

	// the promotion recount sees the fresh pending row and holds the line
	none, err := sessions.Promote(ctx, "jamie@example.com", 3)
	require.NoError(t, err)
	require.Nil(t, none)

	still, err := sessions.GetByID(ctx, queued.Session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, still.Status)
}

func TestListByStatus(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	ctx := context.Background()

	first, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	_, err = sessions.Admit(ctx, newSession("alex@example.com", "job-2"), 3, 0)
	require.NoError(t, err)

	first.Session.Status = models.StatusOutreachSent
	require.NoError(t, sessions.Update(ctx, first.Session))

	awaiting, err := sessions.ListByStatus(ctx, models.StatusOutreachSent, models.StatusInProgress)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	require.Equal(t, first.Session.ID, awaiting[0].ID)

	none, err := sessions.ListByStatus(ctx)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestTurnAppendAndList(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	turns := NewTurnStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sessionID := result.Session.ID

	outbound := &models.Turn{
		SessionID:  sessionID,
		TurnNumber: 1,
		Direction:  models.DirectionOutbound,
		Subject:    "A few questions [SV-1]",
		Body:       "<p>hello</p>",
		Questions:  []string{"q0", "q1"},
		MessageID:  "<one@screenvet>",
	}
	require.NoError(t, turns.Append(ctx, outbound))
	require.NotZero(t, outbound.ID)

	inbound := &models.Turn{
		SessionID:  sessionID,
		TurnNumber: 2,
		Direction:  models.DirectionInbound,
		Body:       "answers",
		Intent:     models.IntentAnswer,
		Answers:    map[int]string{0: "a0"},
	}
	require.NoError(t, turns.Append(ctx, inbound))

	listed, err := turns.ListBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, 1, listed[0].TurnNumber)
	require.Equal(t, models.DirectionOutbound, listed[0].Direction)
	require.Equal(t, []string{"q0", "q1"}, listed[0].Questions)
	require.Equal(t, models.IntentAnswer, listed[1].Intent)
	require.Equal(t, map[int]string{0: "a0"}, listed[1].Answers)
}

func TestTurnAppendRejectsDuplicates(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionStore(db)
	turns := NewTurnStore(db)
	ctx := context.Background()

	result, err := sessions.Admit(ctx, newSession("jamie@example.com", "job-1"), 3, 0)
	require.NoError(t, err)
	sessionID := result.Session.ID

	first := &models.Turn{SessionID: sessionID, TurnNumber: 1, Direction: models.DirectionOutbound}
	require.NoError(t, turns.Append(ctx, first))

	duplicate := &models.Turn{SessionID: sessionID, TurnNumber: 1, Direction: models.DirectionInbound}
	require.Error(t, turns.Append(ctx, duplicate))
}

func TestTurnAppendRejectsInvalidNumber(t *testing.T) {
	db := newTestDB(t)
	turns := NewTurnStore(db)

	err := turns.Append(context.Background(), &models.Turn{SessionID: 1, TurnNumber: 0})
	require.Error(t, err)
}
