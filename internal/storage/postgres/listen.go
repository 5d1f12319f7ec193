package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/storage"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

func (s *Store) startListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(s.connStr, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("Change feed connection attempt failed", "error", err)
		case pq.ListenerEventDisconnected:
			logger.Warn("Change feed disconnected", "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("Change feed reconnected")
		}
	})
	if err := listener.Listen(constants.PostgresNotifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", constants.PostgresNotifyChannel, err)
	}

	s.listener = listener
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.listenLoop(listener, s.stop)
	return nil
}

func (s *Store) listenLoop(listener *pq.Listener, stop <-chan struct{}) {
	defer s.wg.Done()

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-stop:
			return

		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			// A nil notification follows a reconnect; anything may have changed.
			if n == nil {
				if err := s.broker.RefreshAll(ctx); err != nil {
					logger.Warn("Failed to refresh after reconnect", "error", err)
				}
			} else if scope, ok := parseNotification(n.Extra); ok {
				if err := s.broker.Refresh(ctx, scope); err != nil {
					logger.Warn("Failed to refresh scope", "scope", scope.Path(), "error", err)
				}
			} else {
				logger.Debug("Ignoring malformed notification", "payload", n.Extra)
			}
			cancel()

		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Debug("Change feed ping failed", "error", err)
				}
			}()
		}
	}
}

// parseNotification reads the "namespace/identity" payload sent by the trigger.
func parseNotification(payload string) (storage.Scope, bool) {
	ns, id, found := strings.Cut(payload, "/")
	if !found {
		return storage.Scope{}, false
	}
	scope := storage.Scope{Namespace: ns, Identity: id}
	return scope, scope.Validate() == nil
}
