package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store  *memStore
	svc    *Service
	server http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := newMemStore()
	svc := newTestService(ms)
	return &testEnv{store: ms, svc: svc, server: NewHTTPServer(svc, "*").Handler()}
}

// login registers a member directly in the store and returns a bearer token.
func (e *testEnv) login(t *testing.T, id, name string) string {
	t.Helper()
	user := e.store.addUser(id, name)
	sess, err := e.svc.issueSession(context.Background(), user)
	require.NoError(t, err)
	return sess.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)

	payload := map[string]any{}
	if rr.Header().Get("Content-Type") == "application/json" && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), "body=%s", rr.Body.String())
	}
	return rr, payload
}

func requireStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rr.Code, "body=%s", rr.Body.String())
}

func requireFailure(t *testing.T, rr *httptest.ResponseRecorder, payload map[string]any, status int, code string) {
	t.Helper()
	requireStatus(t, rr, status)
	require.Equal(t, false, payload["success"])
	require.Equal(t, code, payload["code"])
	require.NotEmpty(t, payload["message"])
}

func object(t *testing.T, payload map[string]any, key string) map[string]any {
	t.Helper()
	value, ok := payload[key].(map[string]any)
	require.True(t, ok, "expected %q to be an object, got %#v", key, payload[key])
	return value
}

func list(t *testing.T, payload map[string]any, key string) []any {
	t.Helper()
	value, ok := payload[key].([]any)
	require.True(t, ok, "expected %q to be a list, got %#v", key, payload[key])
	return value
}
