// Package server exposes a storage.Provider over HTTP and websockets so that
// several daybook processes can share one live diary collection.
//
// Each watch socket is one subscription: the server writes a snapshot frame
// for every change to the scope and an error frame if the subscription ends.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/identity"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
)

const maxBodyBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: constants.DefaultServerAddr)
	Addr string

	// Secret, when set, must be echoed in the X-Daybook-Secret header.
	Secret string

	// SigningKey, when set, requires a bearer token whose subject is the
	// identity in the request path.
	SigningKey []byte

	Store storage.Provider
}

// Server serves one store to remote clients.
type Server struct {
	addr       string
	secret     string
	signingKey []byte
	store      storage.Provider

	listener net.Listener
	server   *http.Server
	handler  http.Handler

	clients   map[*websocket.Conn]storage.Scope
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server for cfg.Store. The store must already be loaded.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server requires a store")
	}
	addr := cfg.Addr
	if addr == "" {
		addr = constants.DefaultServerAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:       addr,
		secret:     cfg.Secret,
		signingKey: cfg.SigningKey,
		store:      cfg.Store,
		clients:    make(map[*websocket.Conn]storage.Scope),
		ctx:        ctx,
		cancel:     cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/artifacts/{ns}/users/{uid}/diaries/watch", s.handleWatch)
	mux.HandleFunc("POST /v1/artifacts/{ns}/users/{uid}/diaries", s.handleCreate)
	mux.HandleFunc("DELETE /v1/artifacts/{ns}/users/{uid}/diaries/{id}", s.handleDelete)
	s.handler = mux

	return s, nil
}

// Handler returns the routing handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// No read/write timeouts: watch sockets are long-lived.
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Info("Server listening", "addr", ln.Addr().String(), "store", s.store.Describe())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
		}
	}()
	return nil
}

// Stop closes every watch socket and shuts the HTTP server down.
func (s *Server) Stop() error {
	logger.Info("Stopping server")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	logger.Info("Server stopped")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Port returns the listening port, or 0 before Start.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// ClientCount returns the number of open watch sockets.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.authorize(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = scope
	count := len(s.clients)
	s.clientsMu.Unlock()
	logger.Debug("Client connected", "scope", scope.Path(), "total", count)

	// The client never sends data frames; CloseRead reports when it goes away.
	ctx := conn.CloseRead(s.ctx)

	var once sync.Once
	done := make(chan struct{})
	finish := func() { once.Do(func() { close(done) }) }

	onSnapshot := func(entries []models.Entry) {
		if err := s.send(conn, Message{Type: MessageTypeSnapshot, Entries: entries}); err != nil {
			logger.Debug("Failed to send snapshot", "error", err)
			finish()
		}
	}
	onError := func(err error) {
		code, _ := codeFor(err)
		_ = s.send(conn, Message{Type: MessageTypeError, Error: err.Error(), Code: code})
		finish()
	}

	cancel, err := s.store.Subscribe(ctx, scope, onSnapshot, onError)
	if err != nil {
		onError(err)
	} else {
		select {
		case <-ctx.Done():
		case <-done:
		}
		cancel()
	}

	s.removeClient(conn)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var entry storage.NewEntry
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&entry); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, &validationError{fmt.Errorf("malformed request body: %w", err)})
		return
	}
	if err := storage.ValidateNewEntry(entry); err != nil {
		writeError(w, &validationError{err})
		return
	}

	id, err := s.store.Create(r.Context(), scope, entry)
	if err != nil {
		logger.Warn("Create failed", "scope", scope.Path(), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedBody{ID: id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.authorize(w, r)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), scope, r.PathValue("id")); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Delete failed", "scope", scope.Path(), "error", err)
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the request scope and checks the shared secret and,
// if configured, the bearer token. It writes the error response itself.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (storage.Scope, bool) {
	scope := storage.Scope{Namespace: r.PathValue("ns"), Identity: r.PathValue("uid")}
	if err := scope.Validate(); err != nil {
		writeError(w, err)
		return storage.Scope{}, false
	}

	if s.secret != "" {
		got := r.Header.Get(constants.ServerSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			writeError(w, fmt.Errorf("%w: missing or wrong server secret", storage.ErrUnauthorized))
			return storage.Scope{}, false
		}
	}

	if len(s.signingKey) > 0 {
		raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || raw == "" {
			writeError(w, fmt.Errorf("%w: bearer token required", storage.ErrUnauthorized))
			return storage.Scope{}, false
		}
		subject, err := identity.Verify(raw, s.signingKey)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", storage.ErrUnauthorized, err))
			return storage.Scope{}, false
		}
		if subject != scope.Identity {
			writeJSON(w, http.StatusForbidden, ErrorBody{Error: "token subject does not match identity", Code: CodeUnauthorized})
			return storage.Scope{}, false
		}
	}

	return scope, true
}

func (s *Server) send(conn *websocket.Conn, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, constants.ServerWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	scope, exists := s.clients[conn]
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		logger.Debug("Client disconnected", "scope", scope.Path(), "total", count)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code, status := codeFor(err)
	writeJSON(w, status, ErrorBody{Error: err.Error(), Code: code})
}
