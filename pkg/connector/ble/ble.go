// Package ble manages BLE sessions to sensors: resolving an address to a connectable device,
// establishing a session with bounded retries, and releasing it exactly once.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

const (
	DefaultConnectTimeout = 60 * time.Second
	MaxConnectAttempts    = 4
	RetryInterval         = 250 * time.Millisecond
)

// NormalizeAddress returns address in the upper-case form used for lookups and notifications.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// Manager resolves devices and opens sessions through an iface.Adapter.
type Manager struct {
	adapter       iface.Adapter
	logger        log.Logger
	maxAttempts   int
	retryInterval time.Duration
}

// NewManager returns a Manager. The adapter must already be initialized.
func NewManager(adapter iface.Adapter, logger log.Logger) *Manager {
	return &Manager{
		adapter:       adapter,
		logger:        log.OrDiscard(logger),
		maxAttempts:   MaxConnectAttempts,
		retryInterval: RetryInterval,
	}
}

// SetRetryPolicy overrides the number of connection attempts and the pause between them.
func (m *Manager) SetRetryPolicy(maxAttempts int, interval time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	m.maxAttempts = maxAttempts
	m.retryInterval = interval
}

// Resolve scans for address until it is seen or ctx expires. If connectable is set, devices that
// advertise as non-connectable are treated as not found.
func (m *Manager) Resolve(ctx context.Context, address string, connectable bool) (*iface.ScanResult, error) {
	address = NormalizeAddress(address)
	m.logger.Debug("Scanning for %s...", address)
	result, err := m.adapter.ScanDevice(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", protocol.ErrDeviceNotFound, address)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrDeviceNotFound, address)
	}
	if connectable && !result.Connectable {
		return nil, fmt.Errorf("%w: %s is not connectable", protocol.ErrDeviceNotFound, address)
	}
	return result, nil
}

// Connect opens a session to target, retrying transient failures until MaxConnectAttempts is
// reached or timeout elapses. A zero timeout leaves ctx's deadline in charge.
func (m *Manager) Connect(ctx context.Context, target *iface.ScanResult, timeout time.Duration) (*Session, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	address := NormalizeAddress(target.Address)
	if !target.Connectable {
		return nil, &protocol.ConnectionError{Address: address, Err: protocol.ErrNotConnectable}
	}

	var lastError error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &protocol.ConnectionError{Address: address, Attempts: attempt - 1, Err: timeoutCause(err, lastError)}
		}

		m.logger.Debug("Connecting to %s (attempt %d/%d)...", address, attempt, m.maxAttempts)
		inner, retry, err := m.adapter.TryToConnect(ctx, target)
		if err == nil {
			m.logger.Info("Connected to %s", address)
			return newSession(address, inner, m.logger), nil
		}

		m.logger.Warning("BLE connection attempt failed: %s", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &protocol.ConnectionError{Address: address, Attempts: attempt, Err: timeoutCause(ctxErr, err)}
		}
		if !retry || m.adapter.IsAdapterError(err) || attempt >= m.maxAttempts {
			return nil, &protocol.ConnectionError{Address: address, Attempts: attempt, Err: err}
		}
		lastError = err

		select {
		case <-ctx.Done():
			return nil, &protocol.ConnectionError{Address: address, Attempts: attempt, Err: timeoutCause(ctx.Err(), lastError)}
		case <-time.After(m.retryInterval):
		}
	}
}

func timeoutCause(ctxErr, lastError error) error {
	if lastError == nil || lastError == ctxErr {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %s)", ctxErr, lastError)
}

// Session wraps an iface.Session. Writes are serialized and the underlying link is disconnected
// exactly once.
type Session struct {
	address string
	inner   iface.Session
	logger  log.Logger

	writeLock sync.Mutex
	mu        sync.Mutex
	closed    bool
	once      sync.Once
}

func newSession(address string, inner iface.Session, logger log.Logger) *Session {
	return &Session{address: address, inner: inner, logger: logger}
}

func (s *Session) Address() string {
	return s.address
}

// WriteCharacteristic writes data to the characteristic identified by uuid. If ctx expires before
// the backend responds, the write is abandoned and ctx.Err() is returned.
func (s *Session) WriteCharacteristic(ctx context.Context, uuid string, data []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.Closed() {
		return protocol.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Debug("TX %s: %02x", uuid, data)
	done := make(chan error, 1)
	go func() {
		done <- s.inner.WriteCharacteristic(ctx, uuid, data)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close disconnects from the device. Only the first call reaches the backend; a disconnect
// failure is logged as a warning and otherwise ignored.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.inner.Disconnect(); err != nil {
			s.logger.Warning("ble: %s", &protocol.DisconnectError{Address: s.address, Err: err})
			return
		}
		s.logger.Debug("Disconnected from %s", s.address)
	})
}
