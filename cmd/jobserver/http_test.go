package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/auth"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type httpTestEnv struct {
	server   *httptest.Server
	operator string
	viewer   string
}

func newHTTPTestEnv(t *testing.T, script string) *httpTestEnv {
	t.Helper()

	tokens, err := auth.NewTokens(testJWTSecret)
	require.NoError(t, err)

	manager := newTestManager(t, script)

	srv := httptest.NewServer(newHTTPHandler(manager, tokens, slog.New(slog.DiscardHandler)))
	t.Cleanup(srv.Close)

	operator, err := tokens.Issue("alice", auth.RoleOperator, time.Hour)
	require.NoError(t, err)

	viewer, err := tokens.Issue("bob", auth.RoleViewer, time.Hour)
	require.NoError(t, err)

	return &httpTestEnv{server: srv, operator: operator, viewer: viewer}
}

func (e *httpTestEnv) do(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, e.server.URL+path, r)
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

func TestHTTPAPI(t *testing.T) {
	env := newHTTPTestEnv(t, jobsScript)

	t.Run("health", func(t *testing.T) {
		code, body := env.do(t, http.MethodGet, "/health", "", "")
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(t, `{"status":"healthy","message":"ok"}`, string(body))
	})

	t.Run("task lifecycle", func(t *testing.T) {
		code, body := env.do(t, http.MethodPost, "/tasks", env.operator, `{"companies":["Google","Meta"]}`)
		require.Equal(t, http.StatusAccepted, code, string(body))

		var started startResponse
		require.NoError(t, sonic.Unmarshal(body, &started))
		require.Equal(t, "started", started.Status)
		require.NotEmpty(t, started.TaskID)

		var status api.TaskStatus
		require.Eventually(t, func() bool {
			code, body := env.do(t, http.MethodGet, "/tasks/"+started.TaskID, env.viewer, "")
			if code != http.StatusOK || sonic.Unmarshal(body, &status) != nil {
				return false
			}
			return status.Status != "running"
		}, 10*time.Second, 20*time.Millisecond)

		require.Equal(t, "completed", status.Status, status.Error)
		require.Len(t, status.Jobs, 2)
		require.Equal(t, "Meta", status.Jobs[1].Company)

		code, body = env.do(t, http.MethodDelete, "/tasks/"+started.TaskID, env.operator, "")
		require.Equal(t, http.StatusOK, code)
		require.JSONEq(
			t,
			`{"status":"cleaned","message":"Task `+started.TaskID+` cleaned"}`,
			string(body),
		)

		code, _ = env.do(t, http.MethodDelete, "/tasks/"+started.TaskID, env.operator, "")
		require.Equal(t, http.StatusNotFound, code)

		code, _ = env.do(t, http.MethodGet, "/tasks/"+started.TaskID, env.operator, "")
		require.Equal(t, http.StatusNotFound, code)
	})

	t.Run("bad requests", func(t *testing.T) {
		scenarios := map[string]string{
			"not json":      `{`,
			"neither":       `{}`,
			"both":          `{"cv_path":"/tmp/cv.pdf","companies":["Google"]}`,
			"missing cv":    `{"cv_path":"/definitely/not/here.pdf"}`,
			"blank company": `{"companies":["Google",""]}`,
		}

		for name, body := range scenarios {
			t.Run(name, func(t *testing.T) {
				code, resp := env.do(t, http.MethodPost, "/tasks", env.operator, body)
				require.Equal(t, http.StatusBadRequest, code, string(resp))
				require.Contains(t, string(resp), `"error"`)
			})
		}
	})

	t.Run("authentication", func(t *testing.T) {
		code, _ := env.do(t, http.MethodGet, "/tasks/nope", "", "")
		require.Equal(t, http.StatusUnauthorized, code)

		code, _ = env.do(t, http.MethodGet, "/tasks/nope", "not-a-token", "")
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("viewer cannot start or remove", func(t *testing.T) {
		code, _ := env.do(t, http.MethodPost, "/tasks", env.viewer, `{"companies":["Google"]}`)
		require.Equal(t, http.StatusForbidden, code)

		code, _ = env.do(t, http.MethodDelete, "/tasks/nope", env.viewer, "")
		require.Equal(t, http.StatusForbidden, code)
	})
}
