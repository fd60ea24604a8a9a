package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a registered account. The poll reference sets are loaded from
// user_poll_refs and are not columns.
type User struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email           string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email" validate:"required,email"`
	Username        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username" validate:"required,min=2,max=64"`
	Password        string    `gorm:"not null" json:"-"`
	CreatedPollIDs  []string  `gorm:"-" json:"createdPollId"`
	AnsweredPollIDs []string  `gorm:"-" json:"answeredPollId"`
	DateCreated     time.Time `gorm:"autoCreateTime" json:"dateCreated"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return validationError(structErrors(u))
}

type RefKind string

const (
	RefCreated  RefKind = "created"
	RefAnswered RefKind = "answered"
)

// UserPollRef is one element of a user's created or answered poll set.
type UserPollRef struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	PollID    string    `gorm:"primaryKey;type:varchar(36);index"`
	Kind      RefKind   `gorm:"primaryKey;type:varchar(16)"`
	CreatedAt time.Time
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{&User{}, &Poll{}, &Response{}, &UserPollRef{}}
}
