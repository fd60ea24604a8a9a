package service

import (
	"context"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/metrics"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/mq"
	"github.com/VdotR/polling-system/repository"
	"github.com/VdotR/polling-system/websocket"

	"github.com/rs/zerolog/log"
)

// Locker serializes read-modify-write sequences on one poll.
type Locker interface {
	WithLock(ctx context.Context, name string, action func() error) error
}

// Publisher hands cascade events to the message queue.
type Publisher interface {
	Publish(ctx context.Context, event mq.CascadeEvent) error
}

// Notifier pushes poll changes to live feed clients.
type Notifier interface {
	Broadcast(pollID string, message websocket.Message)
	Close(pollID string, message websocket.Message)
}

type noLock struct{}

func (noLock) WithLock(_ context.Context, _ string, action func() error) error {
	return action()
}

type noNotifier struct{}

func (noNotifier) Broadcast(string, websocket.Message) {}
func (noNotifier) Close(string, websocket.Message)     {}

// CreatePollInput is a validated create request.
type CreatePollInput struct {
	Question      string
	Options       []string
	CorrectOption *int
}

// DeletedPoll identifies a poll removed by Delete.
type DeletedPoll struct {
	ID        string `json:"id"`
	CreatedBy string `json:"createdBy"`
}

// PollService implements the poll lifecycle and voting rules.
type PollService struct {
	polls  repository.PollRepository
	users  repository.UserRepository
	locks  Locker
	events Publisher
	hub    Notifier
}

// NewPollService wires the service. locks and hub may be nil.
func NewPollService(polls repository.PollRepository, users repository.UserRepository, locks Locker, events Publisher, hub Notifier) *PollService {
	if locks == nil {
		locks = noLock{}
	}
	if hub == nil {
		hub = noNotifier{}
	}
	return &PollService{polls: polls, users: users, locks: locks, events: events, hub: hub}
}

func lockName(pollID string) string {
	return "lock:poll:" + pollID
}

// Create stores a new, unavailable poll owned by ownerID and adds it to the
// owner's created set.
func (s *PollService) Create(ctx context.Context, ownerID string, input CreatePollInput) (*models.Poll, error) {
	poll := models.NewPoll(input.Question, input.Options, input.CorrectOption, ownerID)
	if err := poll.Validate(); err != nil {
		return nil, err
	}
	if err := s.polls.Create(ctx, poll); err != nil {
		return nil, err
	}
	metrics.PollsCreated.Inc()

	if err := s.users.AddCreatedPoll(ctx, ownerID, poll.ID); err != nil {
		// The poll is committed either way.
		log.Error().Err(err).Str("poll", poll.ID).Str("user", ownerID).Msg("could not record created poll")
	}

	log.Info().Str("poll", poll.ID).Str("user", ownerID).Msg("poll created")
	return poll, nil
}

// Get resolves identifier and applies the visibility rules for requesterID.
func (s *PollService) Get(ctx context.Context, identifier, requesterID string) (ViewablePoll, error) {
	poll, err := s.polls.Resolve(ctx, identifier)
	if err != nil {
		return ViewablePoll{}, err
	}
	return Redact(poll, requesterID), nil
}

// SetAvailability lets the owner open or close a poll. changed is false,
// and nothing is written, when the poll already has the requested state.
func (s *PollService) SetAvailability(ctx context.Context, identifier, requesterID string, available bool) (poll *models.Poll, changed bool, err error) {
	found, err := s.polls.Resolve(ctx, identifier)
	if err != nil {
		return nil, false, err
	}

	err = s.locks.WithLock(ctx, lockName(found.ID), func() error {
		current, err := s.polls.Reload(ctx, found.ID)
		if err != nil {
			return err
		}
		if current.CreatedBy != requesterID {
			return apperr.Forbidden("Forbidden")
		}
		poll = current
		if current.Available == available {
			return nil
		}

		current.Available = available
		if err := s.polls.Save(ctx, current); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, lockError(err)
	}

	if changed {
		s.hub.Broadcast(poll.ID, websocket.Message{Type: websocket.TypePollUpdated, PollID: poll.ID, Payload: poll})
		log.Info().Str("poll", poll.ID).Bool("available", available).Msg("poll availability changed")
	}
	return poll, changed, nil
}

// CastVote records answer as userID's response, replacing any earlier one,
// and adds the poll to the voter's answered set. The result is redacted for
// the voter.
func (s *PollService) CastVote(ctx context.Context, identifier, userID string, answer int) (ViewablePoll, error) {
	found, err := s.polls.Resolve(ctx, identifier)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return ViewablePoll{}, apperr.NotFound("Poll does not exist.")
		}
		return ViewablePoll{}, err
	}

	var poll *models.Poll
	err = s.locks.WithLock(ctx, lockName(found.ID), func() error {
		current, err := s.polls.Reload(ctx, found.ID)
		if err != nil {
			return err
		}
		if !current.Available {
			return apperr.Forbidden("Poll is not accepting responses.")
		}
		if err := current.ValidateAnswer(answer); err != nil {
			return err
		}

		// The response goes first so an answered reference always has one behind it.
		existed, err := s.polls.UpsertResponse(ctx, current.ID, userID, answer)
		if err != nil {
			return err
		}
		if err := s.users.AddAnsweredPoll(ctx, userID, current.ID); err != nil {
			return err
		}
		outcome := "new"
		if existed {
			outcome = "update"
		}
		metrics.Votes.WithLabelValues(outcome).Inc()

		poll, err = s.polls.Reload(ctx, current.ID)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return ViewablePoll{}, apperr.NotFound("Poll does not exist.")
		}
		return ViewablePoll{}, lockError(err)
	}

	s.hub.Broadcast(poll.ID, websocket.Message{Type: websocket.TypeVoteCast, PollID: poll.ID, Payload: poll})
	return Redact(poll, userID), nil
}

// Delete removes the owner's poll and queues the removal of every user
// reference to it.
func (s *PollService) Delete(ctx context.Context, identifier, requesterID string) (DeletedPoll, error) {
	poll, err := s.polls.Resolve(ctx, identifier)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return DeletedPoll{}, apperr.NotFound("Can't delete poll: Poll not found")
		}
		return DeletedPoll{}, err
	}
	if poll.CreatedBy != requesterID {
		return DeletedPoll{}, apperr.Forbidden("Can't delete poll: Forbidden")
	}

	var voters []string
	err = s.locks.WithLock(ctx, lockName(poll.ID), func() error {
		voters, err = s.polls.Delete(ctx, poll.ID)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return DeletedPoll{}, apperr.NotFound("Can't delete poll: Poll not found")
		}
		return DeletedPoll{}, lockError(err)
	}
	metrics.PollsDeleted.Inc()

	s.publish(ctx, mq.NewCascadeEvent(mq.EventPollDeleted, poll.ID, poll.CreatedBy, voters))
	s.hub.Close(poll.ID, websocket.Message{Type: websocket.TypePollDeleted, PollID: poll.ID})

	log.Info().Str("poll", poll.ID).Int("voters", len(voters)).Msg("poll deleted")
	return DeletedPoll{ID: poll.ID, CreatedBy: poll.CreatedBy}, nil
}

// ClearResponses empties the owner's poll and reports whether any response
// was removed.
func (s *PollService) ClearResponses(ctx context.Context, identifier, requesterID string) (bool, error) {
	poll, err := s.polls.Resolve(ctx, identifier)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, apperr.NotFound("Can't clear poll: Poll not found")
		}
		return false, err
	}
	if poll.CreatedBy != requesterID {
		return false, apperr.Forbidden("Can't clear poll: Forbidden.")
	}

	var voters []string
	err = s.locks.WithLock(ctx, lockName(poll.ID), func() error {
		voters, err = s.polls.ClearResponses(ctx, poll.ID)
		return err
	})
	if err != nil {
		return false, lockError(err)
	}

	// Published even when nothing was cleared so stale answered references
	// left behind by an earlier failure are swept up too.
	s.publish(ctx, mq.NewCascadeEvent(mq.EventPollCleared, poll.ID, poll.CreatedBy, voters))

	changed := len(voters) > 0
	if changed {
		poll.Responses = []models.Response{}
		s.hub.Broadcast(poll.ID, websocket.Message{Type: websocket.TypeResponsesCleared, PollID: poll.ID, Payload: poll})
	}
	return changed, nil
}

// HandleCascade applies a cascade event to the user directory. Removals are
// idempotent, so redelivery is safe.
func (s *PollService) HandleCascade(ctx context.Context, event mq.CascadeEvent) error {
	switch event.Type {
	case mq.EventPollDeleted:
		created, err := s.users.RemoveCreatedPoll(ctx, event.PollID)
		if err != nil {
			return err
		}
		answered, err := s.users.RemoveAnsweredPoll(ctx, event.PollID)
		if err != nil {
			return err
		}
		log.Debug().Str("poll", event.PollID).Int64("created", created).Int64("answered", answered).Msg("poll references removed")
	case mq.EventPollCleared:
		answered, err := s.users.RemoveAnsweredPoll(ctx, event.PollID)
		if err != nil {
			return err
		}
		log.Debug().Str("poll", event.PollID).Int64("answered", answered).Msg("answered references removed")
	default:
		log.Warn().Str("type", string(event.Type)).Str("message_id", event.MessageID).Msg("unknown cascade event ignored")
	}
	return nil
}

// publish logs failures; by then the poll write has committed.
func (s *PollService) publish(ctx context.Context, event mq.CascadeEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("event", string(event.Type)).
			Str("poll", event.PollID).
			Str("message_id", event.MessageID).
			Msg("could not publish cascade event")
	}
}

func lockError(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal("poll lock", err)
}
