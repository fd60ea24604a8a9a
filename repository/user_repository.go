package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository is the user directory: accounts plus their created and
// answered poll sets.
type UserRepository interface {
	Create(ctx context.Context, user *models.User, password string) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*models.User, error)
	Delete(ctx context.Context, id string) error

	AddCreatedPoll(ctx context.Context, userID, pollID string) error
	AddAnsweredPoll(ctx context.Context, userID, pollID string) error
	// RemoveCreatedPoll and RemoveAnsweredPoll drop pollID from every user's
	// set and return how many users were affected.
	RemoveCreatedPoll(ctx context.Context, pollID string) (int64, error)
	RemoveAnsweredPoll(ctx context.Context, pollID string) (int64, error)
}

type GormUserRepository struct {
	db         *gorm.DB
	bcryptCost int
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db, bcryptCost: bcrypt.DefaultCost}
}

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func (r *GormUserRepository) WithBcryptCost(cost int) *GormUserRepository {
	r.bcryptCost = cost
	return r
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User, password string) error {
	if password == "" {
		return apperr.Validation("password is required")
	}

	user.Email = strings.TrimSpace(user.Email)
	user.Username = strings.TrimSpace(user.Username)

	db := r.db.WithContext(ctx)
	if taken, err := r.exists(db, "username = ?", user.Username); err != nil {
		return apperr.Internal("check username", err)
	} else if taken {
		return apperr.DuplicateKey("Username", nil)
	}
	if taken, err := r.exists(db, "email = ?", user.Email); err != nil {
		return apperr.Internal("check email", err)
	} else if taken {
		return apperr.DuplicateKey("Email", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.bcryptCost)
	if err != nil {
		return apperr.Internal("hash password", err)
	}
	user.Password = string(hash)

	if err := db.Create(user).Error; err != nil {
		if _, ok := apperr.As(err); ok {
			return err
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.DuplicateKey("User", err)
		}
		return apperr.Internal("create user", err)
	}
	user.CreatedPollIDs = []string{}
	user.AnsweredPollIDs = []string{}
	return nil
}

func (r *GormUserRepository) exists(db *gorm.DB, query string, arg string) (bool, error) {
	var n int64
	err := db.Model(&models.User{}).Where(query, arg).Count(&n).Error
	return n > 0, err
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(ctx, "id = ?", id)
}

// FindByIdentifier matches either the username or the email address.
func (r *GormUserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	return r.find(ctx, "username = ? OR email = ?", identifier, identifier)
}

func (r *GormUserRepository) find(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	db := r.db.WithContext(ctx)

	var user models.User
	if err := db.Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User not found.")
		}
		return nil, apperr.Internal("find user", err)
	}

	var err error
	if user.CreatedPollIDs, err = r.refs(db, user.ID, models.RefCreated); err != nil {
		return nil, apperr.Internal("load created polls", err)
	}
	if user.AnsweredPollIDs, err = r.refs(db, user.ID, models.RefAnswered); err != nil {
		return nil, apperr.Internal("load answered polls", err)
	}
	return &user, nil
}

func (r *GormUserRepository) refs(db *gorm.DB, userID string, kind models.RefKind) ([]string, error) {
	ids := []string{}
	err := db.Model(&models.UserPollRef{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("created_at ASC").
		Pluck("poll_id", &ids).Error
	return ids, err
}

func (r *GormUserRepository) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	user, err := r.FindByIdentifier(ctx, identifier)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.BadRequest("Invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, apperr.BadRequest("Invalid credentials")
	}
	return user, nil
}

func (r *GormUserRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.UserPollRef{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("User not found.")
	}
	if err != nil {
		return apperr.Internal("delete user", err)
	}
	return nil
}

func (r *GormUserRepository) AddCreatedPoll(ctx context.Context, userID, pollID string) error {
	return r.addRef(ctx, userID, pollID, models.RefCreated)
}

func (r *GormUserRepository) AddAnsweredPoll(ctx context.Context, userID, pollID string) error {
	return r.addRef(ctx, userID, pollID, models.RefAnswered)
}

// addRef inserts into the set; an existing element is left untouched.
func (r *GormUserRepository) addRef(ctx context.Context, userID, pollID string, kind models.RefKind) error {
	ref := models.UserPollRef{UserID: userID, PollID: pollID, Kind: kind}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ref).Error
	if err != nil {
		return apperr.Internal("add "+string(kind)+" poll", err)
	}
	return nil
}

func (r *GormUserRepository) RemoveCreatedPoll(ctx context.Context, pollID string) (int64, error) {
	return r.removeRefs(ctx, pollID, models.RefCreated)
}

func (r *GormUserRepository) RemoveAnsweredPoll(ctx context.Context, pollID string) (int64, error) {
	return r.removeRefs(ctx, pollID, models.RefAnswered)
}

func (r *GormUserRepository) removeRefs(ctx context.Context, pollID string, kind models.RefKind) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("poll_id = ? AND kind = ?", pollID, kind).
		Delete(&models.UserPollRef{})
	if res.Error != nil {
		return 0, apperr.Internal("remove "+string(kind)+" poll", res.Error)
	}
	return res.RowsAffected, nil
}
