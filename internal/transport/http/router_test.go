package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postLogin(t *testing.T, server *httptest.Server, body string) (*http.Response, errorBody) {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/login", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out errorBody
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestLoginErrors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"bad code", `{"name":"Alice","code":"ZZZZZZ"}`, http.StatusNotFound, "Invalid Group Code"},
		{"missing name", `{"name":"  ","code":"AB12CD"}`, http.StatusBadRequest, "Name is required"},
		{"malformed", `{"name":`, http.StatusBadRequest, "malformed message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := postLogin(t, server, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, out.Success)
			assert.Equal(t, tt.message, out.Message)
		})
	}
}

func TestLoginSetsCookieAndLogoutClearsIt(t *testing.T) {
	server := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"name": "Alice", "code": testCode})
	resp, err := http.Post(server.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Value)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/logout", nil)
	req.AddCookie(session)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScores(t *testing.T) {
	server := newTestServer(t)
	login(t, server, "Alice")

	resp, err := http.Get(server.URL + "/api/groups/1/scores")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board struct {
		GroupID int64 `json:"group_id"`
		Scores  []struct {
			Name  string `json:"name"`
			Score int    `json:"score"`
		} `json:"scores"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
	assert.EqualValues(t, 1, board.GroupID)
	require.Len(t, board.Scores, 1)
	assert.Equal(t, "Alice", board.Scores[0].Name)

	missing, err := http.Get(server.URL + "/api/groups/42/scores")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAdminCodes(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/admin/codes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/admin/codes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"group_name":"Group 1","code":"AB12CD"}]`, string(raw))

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/admin/codes/1/qr", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	png, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
