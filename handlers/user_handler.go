package handlers

import (
	"net/http"

	"github.com/VdotR/polling-system/apperr"
	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/repository"
	"github.com/VdotR/polling-system/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type SignupInput struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=2,max=64"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginInput struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// UserHandler serves /api/user.
type UserHandler struct {
	users    repository.UserRepository
	sessions session.Store
	cookie   config.SessionConfig
}

func NewUserHandler(users repository.UserRepository, sessions session.Store, cookie config.SessionConfig) *UserHandler {
	return &UserHandler{users: users, sessions: sessions, cookie: cookie}
}

// Signup handles POST /api/user/signup.
func (h *UserHandler) Signup(c *gin.Context) {
	var input SignupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, bindError(err))
		return
	}

	user := &models.User{Email: input.Email, Username: input.Username}
	if err := h.users.Create(c.Request.Context(), user, input.Password); err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("user", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"message": "User registration successful.", "user": user})
}

// Login handles POST /api/user/login. The token is returned both as an
// HttpOnly cookie and in the body for bearer clients.
func (h *UserHandler) Login(c *gin.Context) {
	var input LoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, bindError(err))
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), input.Identifier, input.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.sessions.Create(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, apperr.Internal("create session", err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.CookieName, token, int(h.cookie.TTL.Seconds()), "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful", "token": token, "userId": user.ID})
}

// Logout handles GET /api/user/logout.
func (h *UserHandler) Logout(c *gin.Context) {
	if token := session.Token(c, h.cookie.CookieName); token != "" {
		if err := h.sessions.Destroy(c.Request.Context(), token); err != nil {
			log.Error().Err(err).Msg("could not destroy session")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Could not log out."})
			return
		}
	}
	h.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully."})
}

// Lookup handles GET /api/user/lookup/:identifier, matching a username or email.
func (h *UserHandler) Lookup(c *gin.Context) {
	user, err := h.users.FindByIdentifier(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetUser handles GET /api/user/:id.
func (h *UserHandler) GetUser(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, apperr.BadRequest("Invalid ID format."))
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser handles DELETE /api/user/:id. Users may only delete themselves,
// which also ends the current session.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(c, apperr.BadRequest("Invalid ID format."))
		return
	}
	if id != session.UserID(c) {
		respondError(c, apperr.Forbidden("Forbidden"))
		return
	}

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	if err := h.sessions.Destroy(c.Request.Context(), session.CurrentToken(c)); err != nil {
		log.Warn().Err(err).Str("user", id).Msg("could not destroy session of deleted user")
	}
	h.clearCookie(c)

	log.Info().Str("user", id).Msg("user deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Deleted user."})
}

func (h *UserHandler) clearCookie(c *gin.Context) {
	c.SetCookie(h.cookie.CookieName, "", -1, "/", "", h.cookie.Secure, true)
}
