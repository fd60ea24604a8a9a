package service

import (
	"time"

	"github.com/VdotR/polling-system/models"
)

// ViewablePoll is a poll as one requester may see it. CorrectOption is nil,
// and omitted from JSON, for everyone but the owner.
type ViewablePoll struct {
	ID            string            `json:"id"`
	ShortID       *string           `json:"shortId,omitempty"`
	Question      string            `json:"question"`
	Options       []string          `json:"options"`
	CorrectOption *int              `json:"correctOption,omitempty"`
	Available     bool              `json:"available"`
	CreatedBy     string            `json:"createdBy"`
	Responses     []models.Response `json:"responses"`
	DateCreated   time.Time         `json:"dateCreated"`
}

// Redact applies the visibility rules for requesterID. The owner sees
// everything; anyone else sees no correct option and only their own response.
func Redact(poll *models.Poll, requesterID string) ViewablePoll {
	view := ViewablePoll{
		ID:          poll.ID,
		ShortID:     poll.ShortID,
		Question:    poll.Question,
		Options:     append([]string{}, poll.Options...),
		Available:   poll.Available,
		CreatedBy:   poll.CreatedBy,
		DateCreated: poll.DateCreated,
	}

	if requesterID == poll.CreatedBy {
		correct := poll.CorrectOption
		view.CorrectOption = &correct
		view.Responses = append([]models.Response{}, poll.Responses...)
		return view
	}

	view.Responses = []models.Response{}
	if own, ok := poll.ResponseFor(requesterID); ok {
		view.Responses = append(view.Responses, *own)
	}
	return view
}
