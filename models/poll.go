package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/VdotR/polling-system/metrics"
	"github.com/VdotR/polling-system/shortid"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NoCorrectOption marks a poll without a right answer.
const NoCorrectOption = -1

// maxShortIDAttempts bounds the collision retry loop. With 32^6 codes a
// healthy generator needs one attempt almost always.
const maxShortIDAttempts = 100

// GenerateShortID is the generator used by the save hook. Tests replace it.
var GenerateShortID shortid.Generator = shortid.Generate

var ErrShortIDExhausted = errors.New("could not find an unused short id")

// Poll is a question with a fixed, ordered list of options owned by one user.
// ShortID is set exactly while Available is true.
type Poll struct {
	ID            string                      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ShortID       *string                     `gorm:"uniqueIndex;type:varchar(6)" json:"shortId,omitempty"`
	Question      string                      `gorm:"type:text;not null" json:"question" validate:"required"`
	Options       datatypes.JSONSlice[string] `gorm:"not null" json:"options" validate:"min=1"`
	CorrectOption int                         `gorm:"not null" json:"correctOption"`
	Available     bool                        `gorm:"not null" json:"available"`
	CreatedBy     string                      `gorm:"type:varchar(36);not null;index" json:"createdBy" validate:"required"`
	Responses     []Response                  `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"responses"`
	DateCreated   time.Time                   `gorm:"autoCreateTime" json:"dateCreated"`
	UpdatedAt     time.Time                   `json:"-"`
}

// Response is one user's answer to a poll. The composite key makes it a
// mapping from user to answer: a second vote can only overwrite.
type Response struct {
	PollID    string    `gorm:"primaryKey;type:varchar(36)" json:"-"`
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"user"`
	Answer    int       `gorm:"not null" json:"answer"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPoll builds an unavailable poll. A nil correctOption means none.
func NewPoll(question string, options []string, correctOption *int, createdBy string) *Poll {
	correct := NoCorrectOption
	if correctOption != nil {
		correct = *correctOption
	}
	return &Poll{
		ID:            uuid.NewString(),
		Question:      question,
		Options:       datatypes.JSONSlice[string](options),
		CorrectOption: correct,
		CreatedBy:     createdBy,
		Responses:     []Response{},
	}
}

// ResponseFor returns the response recorded for userID, if any.
func (p *Poll) ResponseFor(userID string) (*Response, bool) {
	for i := range p.Responses {
		if p.Responses[i].UserID == userID {
			return &p.Responses[i], true
		}
	}
	return nil, false
}

// Validate checks field level rules and returns an apperr validation error.
func (p *Poll) Validate() error {
	fields := structErrors(p)
	if p.CorrectOption != NoCorrectOption && (p.CorrectOption < 0 || p.CorrectOption >= len(p.Options)) {
		fields = append(fields, fmt.Sprintf("correctOption must be -1 or an index into the %d options", len(p.Options)))
	}
	return validationError(fields)
}

// ValidateAnswer checks that answer indexes one of the poll's options.
func (p *Poll) ValidateAnswer(answer int) error {
	if answer < 0 || answer >= len(p.Options) {
		return validationError([]string{fmt.Sprintf("answer must be an index into the %d options", len(p.Options))})
	}
	return nil
}

func (p *Poll) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps ShortID in step with Available.
func (p *Poll) BeforeSave(tx *gorm.DB) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.Available {
		p.ShortID = nil
		return nil
	}
	if p.ShortID != nil {
		return nil
	}

	code, err := unusedShortID(tx.Session(&gorm.Session{NewDB: true}))
	if err != nil {
		return err
	}
	p.ShortID = &code
	return nil
}

func unusedShortID(db *gorm.DB) (string, error) {
	for attempt := 0; attempt < maxShortIDAttempts; attempt++ {
		code, err := GenerateShortID()
		if err != nil {
			return "", err
		}
		var n int64
		if err := db.Model(&Poll{}).Where("short_id = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
		metrics.ShortIDCollisions.Inc()
	}
	return "", ErrShortIDExhausted
}
