package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createPoll creates a three-option poll owned by token's user and returns its id.
func createPoll(t *testing.T, env *testEnv, token string) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/poll", gin.H{
		"question":      "Best editor?",
		"options":       []string{"vim", "emacs", "nano"},
		"correctOption": 0,
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func openPoll(t *testing.T, env *testEnv, id, token string) string {
	t.Helper()
	w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/available", gin.H{"available": true}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["shortId"].(string)
}

func TestCreatePoll(t *testing.T) {
	env := SetupTestEnvironment(t)
	ownerID, token := env.login(t, "owner")

	w := env.do(t, http.MethodPost, "/api/poll", gin.H{
		"question": "Unit Test Poll?",
		"options":  []string{"Yes", "No"},
	}, token)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Unit Test Poll?", body["question"])
	assert.Equal(t, []interface{}{"Yes", "No"}, body["options"])
	assert.Equal(t, ownerID, body["createdBy"])
	assert.Equal(t, false, body["available"])
	assert.NotContains(t, body, "shortId")
	assert.Empty(t, body["responses"])

	w = env.do(t, http.MethodGet, "/api/user/"+ownerID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{body["id"]}, decode(t, w)["createdPollId"])
}

func TestCreatePoll_InvalidInput(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, token := env.login(t, "owner")

	tests := []struct {
		name        string
		body        interface{}
		expectedErr string
	}{
		{
			name:        "Missing question",
			body:        gin.H{"options": []string{"A", "B"}},
			expectedErr: "question is required",
		},
		{
			name:        "Missing options",
			body:        gin.H{"question": "Q?"},
			expectedErr: "options is required",
		},
		{
			name:        "Empty options",
			body:        gin.H{"question": "Q?", "options": []string{}},
			expectedErr: "options must contain at least 1 item(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/poll", tt.body, token)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["errors"], tt.expectedErr)
		})
	}

	t.Run("Wrong type", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/poll", `{"question":"Q?","options":"A"}`, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "options has the wrong type.", decode(t, w)["message"])
	})
}

func TestPollRoutes_RequireSession(t *testing.T) {
	env := SetupTestEnvironment(t)

	w := env.do(t, http.MethodPost, "/api/poll", gin.H{"question": "Q?", "options": []string{"A"}}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not logged in.", decode(t, w)["message"])

	w = env.do(t, http.MethodGet, "/api/poll/ABCDEF", nil, "stale-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Session expired or invalid.", decode(t, w)["message"])
}

func TestGetPoll_Redaction(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	aliceID, aliceToken := env.login(t, "alice")
	_, bobToken := env.login(t, "bob")

	id := createPoll(t, env, ownerToken)
	openPoll(t, env, id, ownerToken)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 1}, aliceToken).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 2}, bobToken).Code)

	owner := decode(t, env.do(t, http.MethodGet, "/api/poll/"+id, nil, ownerToken))
	assert.Equal(t, float64(0), owner["correctOption"])
	assert.Len(t, owner["responses"], 2)

	alice := decode(t, env.do(t, http.MethodGet, "/api/poll/"+id, nil, aliceToken))
	assert.NotContains(t, alice, "correctOption")
	responses := alice["responses"].([]interface{})
	require.Len(t, responses, 1)
	assert.Equal(t, aliceID, responses[0].(map[string]interface{})["user"])
}

func TestGetPoll_Lookup(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, token := env.login(t, "owner")
	id := createPoll(t, env, token)
	code := openPoll(t, env, id, token)

	w := env.do(t, http.MethodGet, "/api/poll/"+strings.ToLower(code), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	w = env.do(t, http.MethodGet, "/api/poll/not-an-id", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid ID format.", decode(t, w)["message"])

	w = env.do(t, http.MethodGet, "/api/poll/8b0c4a9e-2f5d-4c1e-9a3b-6d7e8f901234", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Poll not found.", decode(t, w)["message"])
}

func TestSetAvailability(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	_, otherToken := env.login(t, "other")
	id := createPoll(t, env, ownerToken)

	code := openPoll(t, env, id, ownerToken)
	assert.Len(t, code, 6)

	w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/available", gin.H{"available": true}, ownerToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No changes made, poll availability is already set to true", decode(t, w)["message"])

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/available", gin.H{"available": false}, otherToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/available", gin.H{"available": "no"}, ownerToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "'available' must be true or false.", decode(t, w)["message"])

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/available", gin.H{"available": false}, ownerToken)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["available"])
	assert.NotContains(t, body, "shortId")

	w = env.do(t, http.MethodPatch, "/api/poll/8b0c4a9e-2f5d-4c1e-9a3b-6d7e8f901234/available", gin.H{"available": true}, ownerToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCastVote(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	voterID, voterToken := env.login(t, "voter")
	id := createPoll(t, env, ownerToken)

	w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 1}, voterToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Poll is not accepting responses.", decode(t, w)["message"])

	code := openPoll(t, env, id, ownerToken)

	w = env.do(t, http.MethodPatch, "/api/poll/"+code+"/vote", gin.H{"answer": 1}, voterToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.NotContains(t, body, "correctOption")
	responses := body["responses"].([]interface{})
	require.Len(t, responses, 1)
	assert.Equal(t, float64(1), responses[0].(map[string]interface{})["answer"])

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 2}, voterToken)
	require.Equal(t, http.StatusOK, w.Code)
	responses = decode(t, w)["responses"].([]interface{})
	require.Len(t, responses, 1)
	assert.Equal(t, float64(2), responses[0].(map[string]interface{})["answer"])

	owner := decode(t, env.do(t, http.MethodGet, "/api/poll/"+id, nil, ownerToken))
	assert.Len(t, owner["responses"], 1)

	user := decode(t, env.do(t, http.MethodGet, "/api/user/"+voterID, nil, ""))
	assert.Equal(t, []interface{}{id}, user["answeredPollId"])
}

func TestCastVote_InvalidAnswer(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	_, voterToken := env.login(t, "voter")
	id := createPoll(t, env, ownerToken)
	openPoll(t, env, id, ownerToken)

	for _, body := range []interface{}{
		gin.H{"answer": 1.5},
		gin.H{"answer": "1"},
		gin.H{},
	} {
		w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", body, voterToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Answer must be an integer.", decode(t, w)["message"])
	}

	w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 3}, voterToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["errors"])

	w = env.do(t, http.MethodPatch, "/api/poll/8b0c4a9e-2f5d-4c1e-9a3b-6d7e8f901234/vote", gin.H{"answer": 0}, voterToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Poll does not exist.", decode(t, w)["message"])
}

func TestClearResponses(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	voterID, voterToken := env.login(t, "voter")
	id := createPoll(t, env, ownerToken)

	w := env.do(t, http.MethodPatch, "/api/poll/"+id+"/clear", nil, ownerToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No updates made to the poll. The poll may be originally empty", decode(t, w)["message"])

	openPoll(t, env, id, ownerToken)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 0}, voterToken).Code)

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/clear", nil, voterToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Can't clear poll: Forbidden.", decode(t, w)["message"])

	w = env.do(t, http.MethodPatch, "/api/poll/"+id+"/clear", nil, ownerToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Poll responses cleared successfully", decode(t, w)["message"])

	owner := decode(t, env.do(t, http.MethodGet, "/api/poll/"+id, nil, ownerToken))
	assert.Empty(t, owner["responses"])
	user := decode(t, env.do(t, http.MethodGet, "/api/user/"+voterID, nil, ""))
	assert.Empty(t, user["answeredPollId"])
}

func TestDeletePoll(t *testing.T) {
	env := SetupTestEnvironment(t)
	ownerID, ownerToken := env.login(t, "owner")
	voterID, voterToken := env.login(t, "voter")
	id := createPoll(t, env, ownerToken)
	openPoll(t, env, id, ownerToken)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 0}, voterToken).Code)

	w := env.do(t, http.MethodDelete, "/api/poll/"+id, nil, voterToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Can't delete poll: Forbidden", decode(t, w)["message"])

	w = env.do(t, http.MethodDelete, "/api/poll/"+id, nil, ownerToken)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Poll and references deleted successfully.", body["message"])
	assert.Equal(t, map[string]interface{}{"id": id, "createdBy": ownerID}, body["poll"])

	w = env.do(t, http.MethodGet, "/api/poll/"+id, nil, ownerToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/poll/"+id, nil, ownerToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Can't delete poll: Poll not found", decode(t, w)["message"])

	owner := decode(t, env.do(t, http.MethodGet, "/api/user/"+ownerID, nil, ""))
	assert.Empty(t, owner["createdPollId"])
	voter := decode(t, env.do(t, http.MethodGet, "/api/user/"+voterID, nil, ""))
	assert.Empty(t, voter["answeredPollId"])
}

func TestLiveFeed(t *testing.T) {
	env := SetupTestEnvironment(t)
	_, ownerToken := env.login(t, "owner")
	_, voterToken := env.login(t, "voter")
	id := createPoll(t, env, ownerToken)
	openPoll(t, env, id, ownerToken)

	w := env.do(t, http.MethodGet, "/api/poll/"+id+"/live", nil, voterToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer " + ownerToken}}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/poll/" + id + "/live"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "SNAPSHOT", snapshot["type"])
	assert.Equal(t, id, snapshot["pollId"])

	require.Eventually(t, func() bool { return env.hub.ClientCount(id) == 1 }, time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPatch, "/api/poll/"+id+"/vote", gin.H{"answer": 2}, voterToken).Code)

	var update map[string]interface{}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "VOTE_CAST", update["type"])
}
