package handlers

import (
	"fmt"
	"math"
	"net/http"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/service"
	"github.com/VdotR/polling-system/session"
	"github.com/VdotR/polling-system/websocket"

	"github.com/gin-gonic/gin"
)

// CreatePollInput is the body of POST /api/poll.
type CreatePollInput struct {
	Question      string   `json:"question" binding:"required"`
	Options       []string `json:"options" binding:"required,min=1,dive,required"`
	CorrectOption *int     `json:"correctOption"`
}

// VoteInput keeps answer untyped so a non-integer can be told apart from a
// missing field.
type VoteInput struct {
	Answer interface{} `json:"answer"`
}

type AvailabilityInput struct {
	Available interface{} `json:"available"`
}

// PollHandler serves /api/poll.
type PollHandler struct {
	polls *service.PollService
	live  *websocket.Handler
}

func NewPollHandler(polls *service.PollService, live *websocket.Handler) *PollHandler {
	return &PollHandler{polls: polls, live: live}
}

// CreatePoll handles POST /api/poll.
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, bindError(err))
		return
	}

	poll, err := h.polls.Create(c.Request.Context(), session.UserID(c), service.CreatePollInput{
		Question:      input.Question,
		Options:       input.Options,
		CorrectOption: input.CorrectOption,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// GetPoll handles GET /api/poll/:id. The id may be a six character short id.
func (h *PollHandler) GetPoll(c *gin.Context) {
	view, err := h.polls.Get(c.Request.Context(), c.Param("id"), session.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SetAvailability handles PATCH /api/poll/:id/available.
func (h *PollHandler) SetAvailability(c *gin.Context) {
	var input AvailabilityInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, bindError(err))
		return
	}
	available, ok := input.Available.(bool)
	if !ok {
		respondError(c, apperr.BadRequest("'available' must be true or false."))
		return
	}

	poll, changed, err := h.polls.SetAvailability(c.Request.Context(), c.Param("id"), session.UserID(c), available)
	if err != nil {
		respondError(c, err)
		return
	}
	if !changed {
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("No changes made, poll availability is already set to %t", available)})
		return
	}
	c.JSON(http.StatusOK, poll)
}

// CastVote handles PATCH /api/poll/:id/vote.
func (h *PollHandler) CastVote(c *gin.Context) {
	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, bindError(err))
		return
	}
	answer, ok := integerAnswer(input.Answer)
	if !ok {
		respondError(c, apperr.BadRequest("Answer must be an integer."))
		return
	}

	view, err := h.polls.CastVote(c.Request.Context(), c.Param("id"), session.UserID(c), answer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// integerAnswer accepts JSON numbers without a fractional part.
func integerAnswer(v interface{}) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// DeletePoll handles DELETE /api/poll/:id.
func (h *PollHandler) DeletePoll(c *gin.Context) {
	deleted, err := h.polls.Delete(c.Request.Context(), c.Param("id"), session.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll and references deleted successfully.", "poll": deleted})
}

// ClearResponses handles PATCH /api/poll/:id/clear.
func (h *PollHandler) ClearResponses(c *gin.Context) {
	changed, err := h.polls.ClearResponses(c.Request.Context(), c.Param("id"), session.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !changed {
		c.JSON(http.StatusOK, gin.H{"message": "No updates made to the poll. The poll may be originally empty"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Poll responses cleared successfully"})
}

// LiveFeed handles GET /api/poll/:id/live, a websocket for the poll owner.
func (h *PollHandler) LiveFeed(c *gin.Context) {
	userID := session.UserID(c)
	view, err := h.polls.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if view.CreatedBy != userID {
		respondError(c, apperr.Forbidden("Only the poll owner can follow its live feed."))
		return
	}
	h.live.Serve(c, view.ID, websocket.Message{Type: websocket.TypeSnapshot, PollID: view.ID, Payload: view})
}
