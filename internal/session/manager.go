// Package session owns the connection to the broker: lifecycle state,
// authentication, heartbeats, and automatic reconnection. All writes to the
// transport go through the manager; nothing else touches the wire.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/backoff"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/correlate"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/transport"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// Subscriptions is the session's hook into the subscription registry.
// Replay re-issues every active subscription after the session (re)enters
// Ready. SessionDown pauses dispatch; fatal means the reconnect budget is
// exhausted and an explicit Connect is required.
type Subscriptions interface {
	Replay(ctx context.Context) error
	SessionDown(fatal bool)
}

// PushHandler consumes decoded push frames (frames with no correlation id).
type PushHandler interface {
	HandlePush(f wire.Frame)
}

// Manager drives the session lifecycle.
type Manager struct {
	cfg    Config
	dial   transport.Dialer
	corr   *correlate.Correlator
	retry  *backoff.Controller
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	tr              transport.Transport
	subs            Subscriptions
	push            PushHandler
	watchers        []chan<- State
	changed         chan struct{} // Closed and replaced on every transition
	lastHeartbeatAt time.Time
	recovering      bool
	shutdown        bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a session manager. The backoff controller is shared
// state between the manager and its reconnect loop; construct one per
// session.
func NewManager(cfg Config, dial transport.Dialer, retry *backoff.Controller, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	sweep := cfg.RequestTimeout / 4
	if sweep > time.Second {
		sweep = time.Second
	}

	return &Manager{
		cfg:     cfg,
		dial:    dial,
		corr:    correlate.New(sweep, logger),
		retry:   retry,
		logger:  logger,
		state:   StateDisconnected,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetSubscriptions wires the subscription registry. Must be called before
// Connect.
func (m *Manager) SetSubscriptions(subs Subscriptions) {
	m.mu.Lock()
	m.subs = subs
	m.mu.Unlock()
}

// SetPushHandler wires the live feed dispatcher. Must be called before
// Connect.
func (m *Manager) SetPushHandler(h PushHandler) {
	m.mu.Lock()
	m.push = h
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether requests can be issued right now.
func (m *Manager) IsReady() bool {
	return m.State() == StateReady
}

// AccountID returns the configured trading account id.
func (m *Manager) AccountID() int64 {
	return m.cfg.AccountID
}

// LastHeartbeat returns when the server's last heartbeat arrived. Zero until
// the first one.
func (m *Manager) LastHeartbeat() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatAt
}

// Notify registers a channel for session state transitions. Sends are
// non-blocking; a slow receiver misses edges, not the final state.
func (m *Manager) Notify(ch chan<- State) {
	m.mu.Lock()
	m.watchers = append(m.watchers, ch)
	m.mu.Unlock()
}

// Connect establishes the session: dial, authenticate, replay
// subscriptions. Idempotent while a session is already live or being
// re-established; from Exhausted it starts over with a fresh attempt
// budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.state != StateDisconnected && m.state != StateExhausted {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateExhausted {
		m.retry.Reset()
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if err := m.establish(ctx); err != nil {
		m.mu.Lock()
		// Fall back to Disconnected only while this call still owns the
		// state; a recovery driver may have taken over mid-establish.
		if m.state == StateConnecting || m.state == StateAuthenticating {
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		return err
	}

	return nil
}

// Shutdown terminates the session. No further reconnection; pending
// requests fail with ErrConnectionLost.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	tr := m.tr
	m.tr = nil
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	close(m.done)
	if tr != nil {
		tr.Close()
	}
	m.corr.Close()
	m.wg.Wait()

	m.logger.Info("session shut down")
}

// WaitReady blocks until the session is Ready, the reconnect budget is
// exhausted, or the context ends.
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		state := m.state
		changed := m.changed
		shutdown := m.shutdown
		m.mu.Unlock()

		switch {
		case shutdown:
			return ErrShutdown
		case state == StateReady:
			return nil
		case state == StateExhausted:
			return ErrExhausted
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrShutdown
		case <-changed:
		}
	}
}

// Request issues one correlated request and blocks until the matching
// response, the request deadline, session loss, or ctx. Error frames come
// back as *ServerError.
func (m *Manager) Request(ctx context.Context, payloadType int32, payload any) (wire.Frame, error) {
	m.mu.Lock()
	tr := m.tr
	ready := m.state == StateReady
	m.mu.Unlock()

	if !ready || tr == nil {
		return wire.Frame{}, ErrNotReady
	}

	return m.requestOn(ctx, tr, payloadType, payload)
}

// requestOn issues a request on a specific transport without the Ready
// check. Used directly during authentication.
func (m *Manager) requestOn(ctx context.Context, tr transport.Transport, payloadType int32, payload any) (wire.Frame, error) {
	id, resCh := m.corr.Track(payloadType, m.cfg.RequestTimeout)

	data, err := wire.Marshal(payloadType, id, payload)
	if err != nil {
		m.corr.Fail(id, err)
		<-resCh
		return wire.Frame{}, err
	}

	if err := tr.Send(data); err != nil {
		m.corr.Fail(id, err)
		<-resCh
		return wire.Frame{}, err
	}

	select {
	case <-ctx.Done():
		m.corr.Fail(id, ctx.Err())
		return wire.Frame{}, ctx.Err()
	case res := <-resCh:
		if res.Err != nil {
			return wire.Frame{}, res.Err
		}
		if res.Frame.PayloadType == wire.PTErrorRes {
			var e wire.ErrorRes
			if err := res.Frame.Decode(&e); err != nil {
				return wire.Frame{}, err
			}
			return wire.Frame{}, &ServerError{Code: e.ErrorCode, Description: e.Description}
		}
		return res.Frame, nil
	}
}

// establish dials a fresh transport and runs the auth sequence. On success
// the manager enters Ready and replays subscriptions.
func (m *Manager) establish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	tr := m.dial()
	if err := tr.Connect(ctx); err != nil {
		return err
	}

	// The read loop must run before auth so responses can arrive.
	m.wg.Add(1)
	go m.readLoop(tr)

	m.mu.Lock()
	m.tr = tr
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	if err := m.authenticate(ctx, tr); err != nil {
		m.mu.Lock()
		m.tr = nil
		m.mu.Unlock()
		tr.Close()
		return err
	}

	m.mu.Lock()
	m.setStateLocked(StateReady)
	subs := m.subs
	m.mu.Unlock()

	m.retry.Reset()

	m.wg.Add(1)
	go m.heartbeatLoop(tr)

	m.logger.Info("session ready", "account_id", m.cfg.AccountID)

	if subs != nil {
		// Replay runs outside the dial deadline: a large subscription set
		// must not be cut off by ConnectTimeout. A rejected resubscribe
		// would leave a silently dead feed, so failure tears the session
		// down instead of being logged away.
		if err := subs.Replay(context.Background()); err != nil {
			m.logger.Error("subscription replay failed", "error", err)
			m.teardown(tr)
			return fmt.Errorf("subscription replay: %w", err)
		}
	}

	return nil
}

// teardown releases a transport whose session turned out unusable after
// reaching Ready. No-op when a recovery driver already owns the transport.
func (m *Manager) teardown(tr transport.Transport) {
	m.mu.Lock()
	if m.tr != tr {
		m.mu.Unlock()
		return
	}
	m.tr = nil
	m.setStateLocked(StateConnecting)
	subs := m.subs
	m.mu.Unlock()

	tr.Close()
	m.corr.FailAll(correlate.ErrConnectionLost)
	if subs != nil {
		subs.SessionDown(false)
	}
}

// authenticate runs the two-step auth sequence: application first, then
// account.
func (m *Manager) authenticate(ctx context.Context, tr transport.Transport) error {
	_, err := m.requestOn(ctx, tr, wire.PTApplicationAuthReq, wire.ApplicationAuthReq{
		ClientID:     m.cfg.ClientID,
		ClientSecret: m.cfg.ClientSecret,
	})
	if err != nil {
		return asAuthError(err)
	}

	_, err = m.requestOn(ctx, tr, wire.PTAccountAuthReq, wire.AccountAuthReq{
		AccountID:   m.cfg.AccountID,
		AccessToken: m.cfg.AccessToken,
	})
	if err != nil {
		return asAuthError(err)
	}

	return nil
}

// asAuthError converts server rejections during auth into *AuthError.
// Transport-level failures pass through unchanged.
func asAuthError(err error) error {
	if se, ok := err.(*ServerError); ok {
		return &AuthError{Code: se.Code, Description: se.Description}
	}
	return err
}

// readLoop consumes one transport's frames until the transport dies or the
// session shuts down. Exactly one read loop is live per connection.
func (m *Manager) readLoop(tr transport.Transport) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return

		case err := <-tr.Errors():
			m.logger.Warn("transport error", "error", err)

			m.mu.Lock()
			established := m.tr == tr && m.state == StateReady
			m.mu.Unlock()

			if !established {
				// The session is still being established on this
				// transport. Fail the in-flight auth so establish reports
				// the loss; spawning a recovery driver here would leave
				// two connection drivers racing for the one session.
				m.corr.FailAll(correlate.ErrConnectionLost)
				return
			}

			m.wg.Add(1)
			go m.recover(tr)
			return

		case msg, ok := <-tr.Messages():
			if !ok {
				return
			}
			m.handleFrame(msg.Data, tr)
		}
	}
}

// handleFrame routes one inbound frame: heartbeats are answered, correlated
// responses resolve their pending request, everything else is a push event.
// A malformed frame is dropped and logged; the session continues.
func (m *Manager) handleFrame(data []byte, tr transport.Transport) {
	f, err := wire.Parse(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	if f.PayloadType == wire.PTHeartbeatEvent {
		m.mu.Lock()
		m.lastHeartbeatAt = time.Now()
		m.mu.Unlock()

		if hb, err := wire.Marshal(wire.PTHeartbeatEvent, "", wire.HeartbeatEvent{}); err == nil {
			if err := tr.Send(hb); err != nil {
				m.logger.Debug("heartbeat reply failed", "error", err)
			}
		}
		return
	}

	if f.ClientMsgID != "" {
		m.corr.Resolve(f.ClientMsgID, f)
		return
	}

	m.mu.Lock()
	push := m.push
	m.mu.Unlock()

	if push != nil {
		push.HandlePush(f)
	}
}

// heartbeatLoop sends client heartbeats while the transport is alive.
func (m *Manager) heartbeatLoop(tr transport.Transport) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if !tr.IsConnected() {
				return
			}
			hb, err := wire.Marshal(wire.PTHeartbeatEvent, "", wire.HeartbeatEvent{})
			if err != nil {
				continue
			}
			if err := tr.Send(hb); err != nil {
				m.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// recover re-establishes a lost session under backoff control. Runs at most
// once per failed transport.
func (m *Manager) recover(failed transport.Transport) {
	defer m.wg.Done()

	m.mu.Lock()
	if m.shutdown || m.tr != failed || m.recovering {
		// Already shut down, a newer transport took over, or another
		// recovery driver is live. At most one may run.
		m.mu.Unlock()
		return
	}
	m.recovering = true
	m.tr = nil
	m.setStateLocked(StateReconnecting)
	subs := m.subs
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.recovering = false
		m.mu.Unlock()
	}()

	failed.Close()
	m.corr.FailAll(correlate.ErrConnectionLost)
	if subs != nil {
		subs.SessionDown(false)
	}

	for {
		delay, ok := m.retry.Next()
		if !ok {
			m.logger.Error("reconnect attempts exhausted", "attempts", m.retry.Attempts())
			m.mu.Lock()
			m.setStateLocked(StateExhausted)
			m.mu.Unlock()
			if subs != nil {
				subs.SessionDown(true)
			}
			return
		}

		m.logger.Info("reconnecting", "delay", delay, "attempt", m.retry.Attempts())

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()

		if err := m.establish(context.Background()); err != nil {
			m.logger.Warn("reconnect attempt failed", "error", err)
			m.mu.Lock()
			m.setStateLocked(StateReconnecting)
			m.mu.Unlock()
			continue
		}

		m.logger.Info("session recovered")
		return
	}
}

// setStateLocked transitions state and notifies watchers. Callers hold mu.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s

	close(m.changed)
	m.changed = make(chan struct{})

	for _, ch := range m.watchers {
		select {
		case ch <- s:
		default:
		}
	}
}
