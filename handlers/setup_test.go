package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VdotR/polling-system/config"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/mq"
	"github.com/VdotR/polling-system/repository"
	"github.com/VdotR/polling-system/service"
	"github.com/VdotR/polling-system/session"
	"github.com/VdotR/polling-system/testutil"
	"github.com/VdotR/polling-system/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testCookie = "sid"

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	users    *repository.GormUserRepository
	sessions *session.MemoryStore
	hub      *websocket.Hub
}

// SetupTestEnvironment wires the handlers over an in-memory database, an
// in-process queue and an in-memory session store.
func SetupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	users := repository.NewGormUserRepository(db).WithBcryptCost(bcrypt.MinCost)
	polls := repository.NewGormPollRepository(db)
	sessions := session.NewMemoryStore(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := websocket.NewHub()
	go hub.Run(ctx)

	events := mq.NewMemoryAdapter(1)
	svc := service.NewPollService(polls, users, nil, events, hub)
	require.NoError(t, events.RegisterHandler(svc.HandleCascade))

	pollHandler := NewPollHandler(svc, websocket.NewHandler(hub, nil))
	userHandler := NewUserHandler(users, sessions, config.SessionConfig{CookieName: testCookie, TTL: time.Hour})
	health := NewHealthHandler(db, nil, events)

	requireSession := session.RequireSession(sessions, testCookie)

	router := gin.New()
	api := router.Group("/api")
	{
		api.GET("/health", health.HealthCheck)
		api.GET("/status", health.SystemStatus)

		u := api.Group("/user")
		u.POST("/signup", userHandler.Signup)
		u.POST("/login", userHandler.Login)
		u.GET("/logout", userHandler.Logout)
		u.GET("/lookup/:identifier", userHandler.Lookup)
		u.GET("/:id", userHandler.GetUser)
		u.DELETE("/:id", requireSession, userHandler.DeleteUser)

		p := api.Group("/poll", requireSession)
		p.POST("", pollHandler.CreatePoll)
		p.GET("/:id", pollHandler.GetPoll)
		p.GET("/:id/live", pollHandler.LiveFeed)
		p.PATCH("/:id/available", pollHandler.SetAvailability)
		p.PATCH("/:id/vote", pollHandler.CastVote)
		p.PATCH("/:id/clear", pollHandler.ClearResponses)
		p.DELETE("/:id", pollHandler.DeletePoll)
	}

	return &testEnv{router: router, db: db, users: users, sessions: sessions, hub: hub}
}

// login registers name and returns its id and a live session token.
func (e *testEnv) login(t *testing.T, name string) (string, string) {
	t.Helper()
	user := &models.User{Email: name + "@example.com", Username: name}
	require.NoError(t, e.users.Create(context.Background(), user, "password"))
	token, err := e.sessions.Create(context.Background(), user.ID)
	require.NoError(t, err)
	return user.ID, token
}

// do sends body as JSON, or verbatim when it is a string, with token as a
// bearer credential when non-empty.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
