// Package remote implements storage.Provider against a daybook server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/lockfile"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/server"
	"github.com/julianstephens/daybook/internal/storage"
)

// LocalEndpoint resolves the server advertised by the lockfile.
const LocalEndpoint = "local"

const (
	dialAttempts = 3
	dialBackoff  = 100 * time.Millisecond
	readLimit    = 8 << 20
)

// findLockfile is swapped in tests.
var findLockfile = lockfile.Find

type Option func(*Store)

// WithSecret sets the shared secret sent with every request.
func WithSecret(secret string) Option {
	return func(s *Store) { s.secret = secret }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(s *Store) { s.token = token }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

type Store struct {
	endpoint string
	secret   string
	token    string
	client   *http.Client

	mu     sync.Mutex
	base   *url.URL
	subs   map[uint64]context.CancelFunc
	nextID uint64
	closed bool
}

// New creates a client for endpoint, which is an http(s) or ws(s) URL or
// "local". Nothing is contacted until Init or Load.
func New(endpoint string, opts ...Option) *Store {
	s := &Store{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: 30 * time.Second},
		subs:     make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init is Load: the server owns the schema.
func (s *Store) Init(ctx context.Context) error {
	return s.Load(ctx)
}

// Load resolves the endpoint and checks that the server answers.
func (s *Store) Load(ctx context.Context) error {
	base, err := s.resolve()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	s.mu.Lock()
	s.base = base
	s.mu.Unlock()
	logger.Debug("Connected to server", "endpoint", s.Describe())
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]context.CancelFunc)
	s.closed = true
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	return nil
}

func (s *Store) Describe() string {
	return "remote:" + s.endpoint
}

func (s *Store) Subscribe(ctx context.Context, scope storage.Scope, onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.CancelFunc, error) {
	if onSnapshot == nil {
		return nil, errors.New("snapshot callback is required")
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	base, err := s.requireBase()
	if err != nil {
		return nil, err
	}

	target := base.JoinPath(server.WatchPath(scope)).String()
	conn, err := s.dial(ctx, target)
	if err != nil {
		return nil, err
	}

	subCtx, cancelSub := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancelSub()
		_ = conn.CloseNow()
		return nil, storage.ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = cancelSub
	s.mu.Unlock()

	go s.readLoop(subCtx, target, conn, onSnapshot, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			// Cancelling the read context closes the socket.
			cancelSub()
		})
	}, nil
}

func (s *Store) Create(ctx context.Context, scope storage.Scope, entry storage.NewEntry) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := storage.ValidateNewEntry(entry); err != nil {
		return "", err
	}
	base, err := s.requireBase()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	req, err := s.newRequest(ctx, http.MethodPost, base.JoinPath(server.CollectionPath(scope)).String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var created server.CreatedBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return created.ID, nil
}

func (s *Store) Delete(ctx context.Context, scope storage.Scope, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty id", storage.ErrNotFound)
	}
	base, err := s.requireBase()
	if err != nil {
		return err
	}

	req, err := s.newRequest(ctx, http.MethodDelete, base.JoinPath(server.EntryPath(scope, id)).String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// resolve turns the configured endpoint into an http(s) base URL.
func (s *Store) resolve() (*url.URL, error) {
	if s.endpoint == LocalEndpoint {
		info, err := findLockfile()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		if s.secret == "" {
			s.secret = info.Secret
		}
		return &url.URL{Scheme: "http", Host: info.Addr()}, nil
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server endpoint %q: %w", s.endpoint, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("invalid server endpoint %q: scheme must be http, https, ws or wss", s.endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server endpoint %q: missing host", s.endpoint)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

func (s *Store) requireBase() (*url.URL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	if s.base == nil {
		return nil, errors.New("remote store not loaded")
	}
	return s.base, nil
}

func (s *Store) header() http.Header {
	h := http.Header{}
	if s.secret != "" {
		h.Set(constants.ServerSecretHeader, s.secret)
	}
	if s.token != "" {
		h.Set("Authorization", "Bearer "+s.token)
	}
	return h
}

func (s *Store) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range s.header() {
		req.Header[k] = v
	}
	return req, nil
}

// dial opens the watch socket, retrying only when the server is unreachable.
func (s *Store) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(dialAttempts-1, retry.NewExponential(dialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
			HTTPClient: s.client,
			HTTPHeader: s.header(),
		})
		if err == nil {
			c.SetReadLimit(readLimit)
			conn = c
			return nil
		}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return statusError(resp)
		}
		return retry.RetryableError(fmt.Errorf("%w: %v", storage.ErrUnavailable, err))
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop delivers snapshots until ctx ends or the feed fails. A dropped
// socket is dialed again once; the server opens every socket with a full
// snapshot, so nothing is missed. A socket that drops again before that
// snapshot arrives ends the feed.
func (s *Store) readLoop(ctx context.Context, target string, conn *websocket.Conn, onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) {
	defer func() { _ = conn.CloseNow() }()

	fail := func(err error) {
		if ctx.Err() == nil && onError != nil {
			onError(err)
		}
	}

	resumed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lost := fmt.Errorf("%w: watch connection lost: %v", storage.ErrUnavailable, err)
			if resumed {
				fail(lost)
				return
			}
			logger.Info("Watch connection lost, reconnecting", "target", target, "error", err)
			next, dialErr := s.dial(ctx, target)
			if dialErr != nil {
				if ctx.Err() == nil {
					logger.Warn("Failed to reconnect watch", "target", target, "error", dialErr)
				}
				fail(lost)
				return
			}
			_ = conn.CloseNow()
			conn = next
			resumed = true
			continue
		}

		var msg server.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			fail(fmt.Errorf("malformed watch message: %w", err))
			return
		}

		switch msg.Type {
		case server.MessageTypeSnapshot:
			if ctx.Err() != nil {
				return
			}
			resumed = false
			entries := msg.Entries
			if entries == nil {
				entries = []models.Entry{}
			}
			onSnapshot(entries)
		case server.MessageTypeError:
			fail(server.ErrorForCode(msg.Code, msg.Error))
			return
		default:
			logger.Debug("Ignoring unknown watch message", "type", msg.Type)
		}
	}
}

// statusError maps an HTTP failure to the storage sentinel errors.
func statusError(resp *http.Response) error {
	var body server.ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", storage.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", storage.ErrConflict, msg)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("invalid request: %s", msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", storage.ErrUnavailable, msg)
	default:
		return fmt.Errorf("unexpected server response: %s", msg)
	}
}
