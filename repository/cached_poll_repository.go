package repository

import (
	"context"
	"errors"

	"github.com/VdotR/polling-system/cache"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/shortid"

	"github.com/rs/zerolog/log"
)

// CachedPollRepository serves reads from Redis and invalidates on every write.
// Cache failures are logged and never fail the request.
type CachedPollRepository struct {
	db    PollRepository
	cache *cache.PollCache
}

func NewCachedPollRepository(db PollRepository, pc *cache.PollCache) *CachedPollRepository {
	return &CachedPollRepository{db: db, cache: pc}
}

func (r *CachedPollRepository) Create(ctx context.Context, poll *models.Poll) error {
	if err := r.db.Create(ctx, poll); err != nil {
		return err
	}
	if err := r.cache.SetPoll(ctx, poll); err != nil {
		log.Warn().Err(err).Str("poll", poll.ID).Msg("could not cache poll")
	}
	return nil
}

func (r *CachedPollRepository) FindByID(ctx context.Context, id string) (*models.Poll, error) {
	poll, err := r.cache.GetPoll(ctx, id)
	if err == nil {
		return poll, nil
	}
	if !errors.Is(err, cache.ErrKeyNotFound) {
		log.Warn().Err(err).Str("poll", id).Msg("poll cache read failed")
	}

	gen, genErr := r.cache.Generation(ctx, id)
	poll, err = r.db.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.fill(ctx, poll, gen, genErr)
	return poll, nil
}

// Reload always reads the database. The result is not cached: a locked
// writer is about to change it.
func (r *CachedPollRepository) Reload(ctx context.Context, id string) (*models.Poll, error) {
	return r.db.Reload(ctx, id)
}

func (r *CachedPollRepository) FindByShortID(ctx context.Context, code string) (*models.Poll, error) {
	code = shortid.Normalize(code)
	id, err := r.cache.GetPollIDByShortID(ctx, code)
	if err == nil {
		poll, err := r.FindByID(ctx, id)
		// The mapping can outlive the code; trust it only if it still matches.
		if err == nil && poll.ShortID != nil && *poll.ShortID == code {
			return poll, nil
		}
		r.invalidate(ctx, id, code)
	} else if !errors.Is(err, cache.ErrKeyNotFound) {
		log.Warn().Err(err).Str("shortId", code).Msg("short id cache read failed")
	}

	poll, err := r.db.FindByShortID(ctx, code)
	if err != nil {
		return nil, err
	}
	// Fill through the id path so the write is generation checked.
	cached, err := r.FindByID(ctx, poll.ID)
	if err != nil || cached.ShortID == nil || *cached.ShortID != code {
		return poll, nil
	}
	return cached, nil
}

// fill stores a poll read from the database unless the entry was
// invalidated after gen was taken.
func (r *CachedPollRepository) fill(ctx context.Context, poll *models.Poll, gen int64, genErr error) {
	if genErr != nil {
		log.Warn().Err(genErr).Str("poll", poll.ID).Msg("poll cache generation read failed")
		return
	}
	err := r.cache.SetPollIfCurrent(ctx, poll, gen)
	switch {
	case errors.Is(err, cache.ErrStaleEntry):
		log.Debug().Str("poll", poll.ID).Msg("poll changed during read, not cached")
	case err != nil:
		log.Warn().Err(err).Str("poll", poll.ID).Msg("could not cache poll")
	}
}

func (r *CachedPollRepository) Resolve(ctx context.Context, identifier string) (*models.Poll, error) {
	return resolve(ctx, r, identifier)
}

func (r *CachedPollRepository) Save(ctx context.Context, poll *models.Poll) error {
	var previous string
	if poll.ShortID != nil {
		previous = *poll.ShortID
	}
	err := r.db.Save(ctx, poll)
	current := ""
	if poll.ShortID != nil {
		current = *poll.ShortID
	}
	r.invalidate(ctx, poll.ID, previous, current)
	return err
}

func (r *CachedPollRepository) Delete(ctx context.Context, id string) ([]string, error) {
	var code string
	if poll, err := r.cache.GetPoll(ctx, id); err == nil && poll.ShortID != nil {
		code = *poll.ShortID
	}
	voters, err := r.db.Delete(ctx, id)
	r.invalidate(ctx, id, code)
	return voters, err
}

func (r *CachedPollRepository) UpsertResponse(ctx context.Context, pollID, userID string, answer int) (bool, error) {
	existed, err := r.db.UpsertResponse(ctx, pollID, userID, answer)
	r.invalidate(ctx, pollID)
	return existed, err
}

func (r *CachedPollRepository) ClearResponses(ctx context.Context, pollID string) ([]string, error) {
	voters, err := r.db.ClearResponses(ctx, pollID)
	r.invalidate(ctx, pollID)
	return voters, err
}

func (r *CachedPollRepository) invalidate(ctx context.Context, id string, codes ...string) {
	if err := r.cache.Invalidate(ctx, id, codes...); err != nil {
		log.Warn().Err(err).Str("poll", id).Msg("could not invalidate poll cache")
	}
}
