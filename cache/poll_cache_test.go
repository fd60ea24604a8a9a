package cache

import (
	"context"
	"testing"
	"time"

	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollCache_SetAndGet(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	pc := NewPollCache(client, time.Minute)
	ctx := context.Background()

	poll := models.NewPoll("Best editor?", []string{"vim", "emacs"}, nil, "owner-1")
	code := "ABC234"
	poll.ShortID = &code
	poll.Available = true
	poll.Responses = []models.Response{{PollID: poll.ID, UserID: "u1", Answer: 1}}

	require.NoError(t, pc.SetPoll(ctx, poll))
	assert.True(t, srv.Exists("poll:"+poll.ID))
	assert.True(t, srv.Exists("poll:short:ABC234"))

	ttl := srv.TTL("poll:" + poll.ID)
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+time.Minute/5)

	got, err := pc.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.Question, got.Question)
	assert.Equal(t, []string{"vim", "emacs"}, []string(got.Options))
	require.Len(t, got.Responses, 1)
	assert.Equal(t, poll.ID, got.Responses[0].PollID)
	assert.Equal(t, 1, got.Responses[0].Answer)

	id, err := pc.GetPollIDByShortID(ctx, "ABC234")
	require.NoError(t, err)
	assert.Equal(t, poll.ID, id)
}

func TestPollCache_Miss(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	pc := NewPollCache(client, 0)

	_, err := pc.GetPoll(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = pc.GetPollIDByShortID(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPollCache_Invalidate(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	pc := NewPollCache(client, time.Minute)
	ctx := context.Background()

	poll := models.NewPoll("Q?", []string{"a"}, nil, "owner-1")
	code := "XYZ789"
	poll.ShortID = &code
	require.NoError(t, pc.SetPoll(ctx, poll))

	require.NoError(t, pc.Invalidate(ctx, poll.ID, code, ""))
	assert.False(t, srv.Exists("poll:"+poll.ID))
	assert.False(t, srv.Exists("poll:short:XYZ789"))
}

func TestPollCache_NoClient(t *testing.T) {
	pc := NewPollCache(nil, time.Minute)
	_, err := pc.GetPoll(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRedisNotAvailable)
}

func TestPollCache_SetPollIfCurrent(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	pc := NewPollCache(client, time.Minute)
	ctx := context.Background()

	poll := models.NewPoll("Q?", []string{"a", "b"}, nil, "owner-1")

	gen, err := pc.Generation(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
	require.NoError(t, pc.SetPollIfCurrent(ctx, poll, gen))
	assert.True(t, srv.Exists("poll:"+poll.ID))
}

func TestPollCache_SetPollIfCurrent_DiscardsFillAfterInvalidate(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	pc := NewPollCache(client, time.Minute)
	ctx := context.Background()

	// A reader loads the closed poll, then a writer opens it and invalidates
	// before the reader stores what it loaded.
	stale := models.NewPoll("Q?", []string{"a", "b"}, nil, "owner-1")
	gen, err := pc.Generation(ctx, stale.ID)
	require.NoError(t, err)

	code := "ABC234"
	require.NoError(t, pc.Invalidate(ctx, stale.ID, code))
	assert.True(t, srv.Exists("poll:gen:"+stale.ID))
	assert.Greater(t, srv.TTL("poll:gen:"+stale.ID), time.Duration(0))

	err = pc.SetPollIfCurrent(ctx, stale, gen)
	assert.ErrorIs(t, err, ErrStaleEntry)
	assert.False(t, srv.Exists("poll:"+stale.ID))

	_, err = pc.GetPoll(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
