package repository

import (
	"context"
	"errors"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/shortid"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// saveAttempts bounds retries when a freshly drawn short id loses a race
// against a concurrent save and hits the unique index.
const saveAttempts = 3

// PollRepository is the persistence contract for polls and their responses.
type PollRepository interface {
	Create(ctx context.Context, poll *models.Poll) error
	FindByID(ctx context.Context, id string) (*models.Poll, error)
	FindByShortID(ctx context.Context, code string) (*models.Poll, error)
	// Reload reads the poll from the database, bypassing any cache. Use it
	// for the read half of a locked read-modify-write.
	Reload(ctx context.Context, id string) (*models.Poll, error)
	// Resolve looks a poll up by primary key, or by short id when the
	// identifier is exactly six characters.
	Resolve(ctx context.Context, identifier string) (*models.Poll, error)
	// Save writes the poll's own columns. Responses are managed separately.
	Save(ctx context.Context, poll *models.Poll) error
	// Delete removes the poll and its responses and returns the voters.
	Delete(ctx context.Context, id string) ([]string, error)
	// UpsertResponse records answer as userID's only response and reports
	// whether the user had answered before.
	UpsertResponse(ctx context.Context, pollID, userID string, answer int) (bool, error)
	// ClearResponses removes every response and returns the affected voters.
	// An empty result means nothing changed.
	ClearResponses(ctx context.Context, pollID string) ([]string, error)
}

// ParseIdentifier validates identifier and reports whether it is a short id.
// The returned value is normalized: upper-cased for short ids.
func ParseIdentifier(identifier string) (value string, isShort bool, err error) {
	if shortid.Looks(identifier) {
		return shortid.Normalize(identifier), true, nil
	}
	if _, err := uuid.Parse(identifier); err != nil {
		return "", false, apperr.BadRequest("Invalid ID format.")
	}
	return identifier, false, nil
}

func resolve(ctx context.Context, repo PollRepository, identifier string) (*models.Poll, error) {
	value, isShort, err := ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	if isShort {
		return repo.FindByShortID(ctx, value)
	}
	return repo.FindByID(ctx, value)
}

// GormPollRepository stores polls through GORM.
type GormPollRepository struct {
	db *gorm.DB
}

func NewGormPollRepository(db *gorm.DB) *GormPollRepository {
	return &GormPollRepository{db: db}
}

func (r *GormPollRepository) Create(ctx context.Context, poll *models.Poll) error {
	return r.withShortIDRetry(poll, func() error {
		return r.db.WithContext(ctx).Omit(clause.Associations).Create(poll).Error
	})
}

func (r *GormPollRepository) FindByID(ctx context.Context, id string) (*models.Poll, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormPollRepository) FindByShortID(ctx context.Context, code string) (*models.Poll, error) {
	return r.first(ctx, "short_id = ?", shortid.Normalize(code))
}

func (r *GormPollRepository) Reload(ctx context.Context, id string) (*models.Poll, error) {
	return r.FindByID(ctx, id)
}

func (r *GormPollRepository) Resolve(ctx context.Context, identifier string) (*models.Poll, error) {
	return resolve(ctx, r, identifier)
}

func (r *GormPollRepository) first(ctx context.Context, query string, arg string) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where(query, arg).
		First(&poll).Error
	if err != nil {
		return nil, translateError(err, "Poll not found.")
	}
	if poll.Responses == nil {
		poll.Responses = []models.Response{}
	}
	return &poll, nil
}

func (r *GormPollRepository) Save(ctx context.Context, poll *models.Poll) error {
	return r.withShortIDRetry(poll, func() error {
		return r.db.WithContext(ctx).Omit(clause.Associations).Save(poll).Error
	})
}

// withShortIDRetry reruns write when the short id it drew was taken between
// the hook's existence check and the commit.
func (r *GormPollRepository) withShortIDRetry(poll *models.Poll, write func() error) error {
	hadCode := poll.ShortID != nil
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = write()
		if err == nil {
			return nil
		}
		if hadCode || !errors.Is(err, gorm.ErrDuplicatedKey) || poll.ShortID == nil {
			break
		}
		poll.ShortID = nil
	}
	return translateError(err, "Poll not found.")
}

func (r *GormPollRepository) Delete(ctx context.Context, id string) ([]string, error) {
	var voters []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Response{}).Where("poll_id = ?", id).Pluck("user_id", &voters).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", id).Delete(&models.Response{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Poll{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err, "Poll not found.")
	}
	return voters, nil
}

func (r *GormPollRepository) UpsertResponse(ctx context.Context, pollID, userID string, answer int) (bool, error) {
	var existed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Response{}).
			Where("poll_id = ? AND user_id = ?", pollID, userID).
			Count(&n).Error; err != nil {
			return err
		}
		existed = n > 0

		resp := models.Response{PollID: pollID, UserID: userID, Answer: answer}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"answer", "updated_at"}),
		}).Create(&resp).Error
	})
	if err != nil {
		return false, translateError(err, "Poll not found.")
	}
	return existed, nil
}

func (r *GormPollRepository) ClearResponses(ctx context.Context, pollID string) ([]string, error) {
	var voters []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Response{}).Where("poll_id = ?", pollID).Pluck("user_id", &voters).Error; err != nil {
			return err
		}
		if len(voters) == 0 {
			return nil
		}
		return tx.Where("poll_id = ?", pollID).Delete(&models.Response{}).Error
	})
	if err != nil {
		return nil, translateError(err, "Poll not found.")
	}
	return voters, nil
}

// translateError maps GORM errors onto apperr kinds. Errors that already
// carry a kind, such as hook validation failures, pass through.
func translateError(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.DuplicateKey("shortId", err)
	case errors.Is(err, models.ErrShortIDExhausted):
		return apperr.Internal("assign short id", err)
	default:
		return apperr.Internal("poll store", err)
	}
}
