package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/identity"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/internal/storage/memory"
)

var scope = storage.Scope{Namespace: "app", Identity: "u1"}

func setupServer(t *testing.T, cfg Config) (*Server, *httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	cfg.Store = store
	srv, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop()
		store.Close()
	})
	return srv, ts, store
}

func do(t *testing.T, method, url string, body interface{}, header http.Header) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func dialWatch(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(context.Background(), ts.URL+WatchPath(scope), &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/v1/artifacts/app/users/u1/diaries", CollectionPath(scope))
	assert.Equal(t, "/v1/artifacts/app/users/u1/diaries/watch", WatchPath(scope))
	assert.Equal(t, "/v1/artifacts/app/users/u1/diaries/abc", EntryPath(scope, "abc"))
}

func TestHealth(t *testing.T) {
	_, ts, _ := setupServer(t, Config{})

	resp := do(t, http.MethodGet, ts.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["clients"])
}

func TestCreateAndDelete(t *testing.T) {
	_, ts, store := setupServer(t, Config{})

	resp := do(t, http.MethodPost, ts.URL+CollectionPath(scope), storage.NewEntry{Title: "Recital", Text: "practice", DateKey: "2025-06-01"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreatedBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)

	creates, _ := store.Calls()
	assert.Equal(t, 1, creates)

	resp = do(t, http.MethodDelete, ts.URL+EntryPath(scope, created.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+EntryPath(scope, created.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, CodeNotFound, body.Code)
}

func TestCreateRejectsInvalidEntries(t *testing.T) {
	_, ts, store := setupServer(t, Config{})

	tests := []struct {
		name  string
		entry storage.NewEntry
	}{
		{"empty text", storage.NewEntry{Text: "  ", DateKey: "2025-06-01"}},
		{"bad date key", storage.NewEntry{Text: "hi", DateKey: "06/01/2025"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+CollectionPath(scope), tt.entry, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	creates, _ := store.Calls()
	assert.Zero(t, creates)
}

func TestStoreFailuresMapToStatus(t *testing.T) {
	_, ts, store := setupServer(t, Config{})

	store.FailNextCreate(storage.ErrUnavailable)
	resp := do(t, http.MethodPost, ts.URL+CollectionPath(scope), storage.NewEntry{Text: "hi", DateKey: "2025-06-01"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	store.FailNextDelete(storage.ErrUnauthorized)
	resp = do(t, http.MethodDelete, ts.URL+EntryPath(scope, "x"), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSecret(t *testing.T) {
	_, ts, _ := setupServer(t, Config{Secret: "s3cret"})
	entry := storage.NewEntry{Text: "hi", DateKey: "2025-06-01"}

	resp := do(t, http.MethodPost, ts.URL+CollectionPath(scope), entry, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+CollectionPath(scope), entry, http.Header{constants.ServerSecretHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+CollectionPath(scope), entry, http.Header{constants.ServerSecretHeader: {"s3cret"}})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, _, err := websocket.Dial(context.Background(), ts.URL+WatchPath(scope), nil)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	key := []byte("signing-key")
	_, ts, _ := setupServer(t, Config{SigningKey: key})
	entry := storage.NewEntry{Text: "hi", DateKey: "2025-06-01"}

	own, err := identity.Issue(key, scope.Identity, time.Hour)
	require.NoError(t, err)
	other, err := identity.Issue(key, "u2", time.Hour)
	require.NoError(t, err)
	forged, err := identity.Issue([]byte("other-key"), scope.Identity, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"forged", http.Header{"Authorization": {"Bearer " + forged}}, http.StatusUnauthorized},
		{"other subject", http.Header{"Authorization": {"Bearer " + other}}, http.StatusForbidden},
		{"valid", http.Header{"Authorization": {"Bearer " + own}}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, ts.URL+CollectionPath(scope), entry, tt.header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestInvalidScope(t *testing.T) {
	_, ts, _ := setupServer(t, Config{})
	resp := do(t, http.MethodPost, ts.URL+"/v1/artifacts/app/users/../diaries", storage.NewEntry{Text: "hi", DateKey: "2025-06-01"}, nil)
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestWatchStreamsSnapshots(t *testing.T) {
	srv, ts, store := setupServer(t, Config{})

	conn := dialWatch(t, ts, nil)
	first := readMessage(t, conn)
	assert.Equal(t, MessageTypeSnapshot, first.Type)
	assert.Empty(t, first.Entries)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, 1, srv.ClientCount())

	id, err := store.Create(context.Background(), scope, storage.NewEntry{Text: "practice", DateKey: "2025-06-01"})
	require.NoError(t, err)

	next := readMessage(t, conn)
	assert.Equal(t, MessageTypeSnapshot, next.Type)
	require.Len(t, next.Entries, 1)
	assert.Equal(t, id, next.Entries[0].ID)
	assert.Equal(t, "2025-06-01", next.Entries[0].DateKey)
}

func TestWatchDeliversErrorFrame(t *testing.T) {
	srv, ts, store := setupServer(t, Config{})

	conn := dialWatch(t, ts, nil)
	readMessage(t, conn)

	store.Drop(scope, storage.ErrUnauthorized)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, CodeUnauthorized, msg.Code)
	assert.ErrorIs(t, ErrorForCode(msg.Code, msg.Error), storage.ErrUnauthorized)

	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	srv, ts, _ := setupServer(t, Config{})

	conn := dialWatch(t, ts, nil)
	readMessage(t, conn)
	require.Equal(t, 1, srv.ClientCount())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()

	srv, err := New(Config{Addr: "127.0.0.1:0", Store: store})
	require.NoError(t, err)
	assert.Zero(t, srv.Port())

	require.NoError(t, srv.Start())
	assert.NotZero(t, srv.Port())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())
	_, err = http.Get("http://" + srv.Addr() + "/health")
	assert.Error(t, err)
}

func TestErrorForCode(t *testing.T) {
	assert.ErrorIs(t, ErrorForCode(CodeUnavailable, "x"), storage.ErrUnavailable)
	assert.ErrorIs(t, ErrorForCode(CodeNotFound, "x"), storage.ErrNotFound)
	assert.ErrorIs(t, ErrorForCode(CodeInvalid, "x"), storage.ErrInvalidScope)
	assert.EqualError(t, ErrorForCode(CodeInternal, "boom"), "boom")
}
