package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rickgao/eventsub-receiver/internal/metrics"
	"github.com/rickgao/eventsub-receiver/internal/queue"
)

// Manager owns one EventSub WebSocket session: dialing, the welcome
// handshake, keepalive supervision, server-requested migration and
// reconnection with backoff.
type Manager interface {
	// Start launches the event loop and the notification worker.
	Start(ctx context.Context) error

	// Stop disconnects and waits for all goroutines to exit.
	Stop(ctx context.Context) error

	// Connect dials the primary URL. It is a no-op while a dial is in
	// flight or a transport is open, and returns the dial error otherwise.
	Connect(ctx context.Context) error

	// Disconnect closes the transport and suppresses any reconnect until
	// the next Connect. Idempotent.
	Disconnect(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// SessionID returns the id of the last welcomed session.
	SessionID() string

	// Stats returns a snapshot of the session.
	Stats() ManagerStats
}

// Handler receives notifications in arrival order on a single goroutine.
type Handler interface {
	ProcessEvent(ctx context.Context, subscriptionType string, n Notification) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, subscriptionType string, n Notification) error

// ProcessEvent calls f.
func (f HandlerFunc) ProcessEvent(ctx context.Context, subscriptionType string, n Notification) error {
	return f(ctx, subscriptionType, n)
}

// Option configures a manager.
type Option func(*manager)

// WithClock replaces the wall clock used for timers and liveness.
func WithClock(c Clock) Option {
	return func(m *manager) { m.clock = c }
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(m *manager) { m.newClient = f }
}

// WithBinder binds every welcomed session, typically to a conduit shard.
func WithBinder(b Binder) Option {
	return func(m *manager) { m.binder = b }
}

// Event loop inputs. Everything that touches session state is funneled
// through manager.events so it runs on the loop goroutine.
type (
	connectCmd    struct{ reply chan error }
	disconnectCmd struct{ reply chan struct{} }

	dialResult struct {
		gen             uint64
		client          Client
		err             error
		viaReconnectURL bool
		reply           chan error // nil for automatic reconnects
	}
	frameEvent struct {
		gen uint64
		msg TimestampedMessage
	}
	transportError struct {
		gen uint64
		err error
	}
	keepaliveDue struct{ gen uint64 }
	graceDue     struct{ gen uint64 }
	reconnectDue struct{ seq uint64 }
)

// activeTransport is the currently open socket. gen tags every event that
// originates from it so late events from a replaced socket are dropped.
type activeTransport struct {
	client          Client
	gen             uint64
	cancel          context.CancelFunc
	welcomed        bool
	viaReconnectURL bool
}

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	handler   Handler
	binder    Binder
	logger    *slog.Logger
	clock     Clock
	newClient ClientFactory
	backoff   *Backoff
	terminal  []int

	events chan any
	queue  *queue.FIFO[Notification]

	ctx        context.Context
	cancel     context.CancelFunc
	handlerCtx context.Context
	wg         sync.WaitGroup
	dispatchWG sync.WaitGroup
	started    atomic.Bool
	stopped    atomic.Bool

	// Loop-owned state.
	state          State
	session        Session
	transport      *activeTransport
	gen            uint64
	cancelDial     context.CancelFunc
	keepalive      *keepaliveMonitor
	graceTimer     Timer
	reconnectTimer Timer
	reconnectSeq   uint64
	attempts       int
	framesReceived int64
	parseErrors    int64
	notifications  int64
	droppedFrames  int64

	// Published after every event for lock-free readers.
	atomicState atomic.Int32
	snapMu      sync.RWMutex
	snapshot    ManagerStats
}

// NewManager creates a session manager. handler may be nil, in which case
// notifications are discarded after being counted.
func NewManager(cfg ManagerConfig, handler Handler, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = HandlerFunc(func(context.Context, string, Notification) error { return nil })
	}

	m := &manager{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		clock:     realClock{},
		newClient: NewClient,
		backoff:   NewBackoff(cfg),
		terminal:  slices.Clone(cfg.TerminalCloseCodes),
		events:    make(chan any, 64),
		queue:     queue.New[Notification](cfg.NotificationBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.keepalive = newKeepaliveMonitor(cfg, m.clock)
	m.snapshot = ManagerStats{State: StateDisconnected.String()}

	return m
}

// Start begins the event loop.
func (m *manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.handlerCtx = context.WithoutCancel(m.ctx)

	m.wg.Add(1)
	go m.run()

	m.dispatchWG.Add(1)
	go m.dispatch()

	m.logger.Info("session manager started",
		"url", m.cfg.WSURL,
		"conduit_id", m.cfg.ConduitID,
		"shard_id", m.cfg.ShardID,
	)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	m.logger.Info("stopping session manager")

	// A cancelled parent has already stopped the loop, which released the
	// transport on its way out.
	if m.ctx.Err() == nil {
		if err := m.Disconnect(ctx); err != nil && !errors.Is(err, ErrManagerStopped) {
			m.logger.Warn("disconnect during shutdown failed", "error", err)
		}
	}
	m.cancel()

	if !waitGroup(ctx, &m.wg) {
		m.logger.Warn("shutdown timeout, forcing close")
	}

	// Let the worker drain what was already accepted.
	m.queue.Close()
	if !waitGroup(ctx, &m.dispatchWG) {
		m.logger.Warn("notification drain timed out", "pending", m.queue.Len())
	}

	m.logger.Info("session manager stopped")
	return nil
}

// Connect requests a fresh dial and waits for its outcome.
func (m *manager) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, connectCmd{reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrManagerStopped
	}
}

// Disconnect closes the transport and cancels any pending reconnect.
func (m *manager) Disconnect(ctx context.Context) error {
	reply := make(chan struct{})
	if err := m.submit(ctx, disconnectCmd{reply: reply}); err != nil {
		return err
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrManagerStopped
	}
}

// State returns the lifecycle state.
func (m *manager) State() State {
	return State(m.atomicState.Load())
}

// SessionID returns the current session id.
func (m *manager) SessionID() string {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot.SessionID
}

// Stats returns the last published snapshot.
func (m *manager) Stats() ManagerStats {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// submit posts an external command to the loop.
func (m *manager) submit(ctx context.Context, ev any) error {
	if !m.started.Load() {
		return ErrManagerNotStarted
	}
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrManagerStopped
	}
}

// postTimer posts from a timer or worker goroutine.
func (m *manager) postTimer(ev any) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

// run is the event loop. It is the only goroutine that touches loop-owned state.
func (m *manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.cancelReconnect()
			m.releaseTransport()
			m.setState(StateDisconnected)
			m.publish()
			return

		case ev := <-m.events:
			m.handle(ev)
			m.publish()
		}
	}
}

func (m *manager) handle(ev any) {
	switch ev := ev.(type) {
	case connectCmd:
		m.handleConnect(ev)
	case disconnectCmd:
		m.handleDisconnect(ev)
	case dialResult:
		m.handleDialResult(ev)
	case frameEvent:
		m.handleFrame(ev)
	case transportError:
		m.handleTransportError(ev)
	case keepaliveDue:
		m.handleKeepaliveDue(ev)
	case graceDue:
		m.handleGraceDue(ev)
	case reconnectDue:
		m.handleReconnectDue(ev)
	default:
		m.logger.Error("unknown loop event", "type", fmt.Sprintf("%T", ev))
	}
}

func (m *manager) handleConnect(cmd connectCmd) {
	next, ok := transition(m.state, eventConnect)
	if !ok {
		m.logger.Debug("connect ignored", "state", m.state)
		cmd.reply <- nil
		return
	}

	m.releaseTransport()
	m.setState(next)
	m.startDial(m.cfg.WSURL, false, cmd.reply)
}

func (m *manager) handleDisconnect(cmd disconnectCmd) {
	// Exhausting the budget suppresses any reconnect queued behind us.
	m.attempts = m.backoff.MaxAttempts
	m.cancelReconnect()
	m.releaseTransport()

	next, _ := transition(m.state, eventDisconnect)
	m.setState(next)

	m.logger.Info("disconnected")
	close(cmd.reply)
}

// startDial opens a client off-loop and posts the outcome back.
func (m *manager) startDial(url string, viaReconnectURL bool, reply chan error) {
	m.gen++
	gen := m.gen

	cfg := m.cfg.Client
	cfg.URL = url
	client := m.newClient(cfg, m.logger)

	dialCtx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel

	m.logger.Info("dialing", "url", url, "via_reconnect_url", viaReconnectURL, "attempt", m.attempts)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := client.Connect(dialCtx)
		m.postTimer(dialResult{
			gen:             gen,
			client:          client,
			err:             err,
			viaReconnectURL: viaReconnectURL,
			reply:           reply,
		})
	}()
}

func (m *manager) handleDialResult(r dialResult) {
	if r.gen != m.gen {
		// Superseded by a newer dial or a disconnect.
		go r.client.Close()
		if r.reply != nil {
			r.reply <- ErrConnectAborted
		}
		return
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if r.err != nil {
		next, ok := transition(m.state, eventDialFailed)
		if ok {
			m.setState(next)
		}
		m.logger.Warn("dial failed",
			"url", r.client.URL(),
			"via_reconnect_url", r.viaReconnectURL,
			"error", r.err,
		)

		if r.reply != nil {
			r.reply <- fmt.Errorf("connect: %w", r.err)
			return
		}
		m.attempts++
		m.scheduleReconnect()
		return
	}

	next, ok := transition(m.state, eventDialSucceeded)
	if !ok {
		go r.client.Close()
		if r.reply != nil {
			r.reply <- ErrConnectAborted
		}
		return
	}

	m.setState(next)
	m.attempts = 0
	m.cancelReconnect()
	if !r.viaReconnectURL {
		// A fresh connection starts a new session.
		m.session = Session{KeepaliveTimeout: m.session.KeepaliveTimeout}
	}

	pumpCtx, cancel := context.WithCancel(m.ctx)
	m.transport = &activeTransport{
		client:          r.client,
		gen:             r.gen,
		cancel:          cancel,
		viaReconnectURL: r.viaReconnectURL,
	}

	m.wg.Add(1)
	go m.pump(pumpCtx, r.gen, r.client)

	m.logger.Info("websocket connected", "url", r.client.URL(), "via_reconnect_url", r.viaReconnectURL)

	if r.reply != nil {
		r.reply <- nil
	}
}

// pump forwards one client's frames and terminal error to the loop.
func (m *manager) pump(ctx context.Context, gen uint64, c Client) {
	defer m.wg.Done()

	send := func(ev any) bool {
		select {
		case m.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.Messages():
			if !send(frameEvent{gen: gen, msg: msg}) {
				return
			}

		case err := <-c.Errors():
			// Deliver frames read before the error first.
		drain:
			for {
				select {
				case msg := <-c.Messages():
					if !send(frameEvent{gen: gen, msg: msg}) {
						return
					}
				default:
					break drain
				}
			}
			send(transportError{gen: gen, err: err})
			return
		}
	}
}

func (m *manager) handleTransportError(ev transportError) {
	if m.transport == nil || ev.gen != m.transport.gen {
		return
	}
	code := CloseCode(ev.err)
	m.logger.Debug("transport read ended", "error", ev.err)
	m.handleClose(code)
}

// handleClose applies the close-code policy to the current transport.
func (m *manager) handleClose(code int) {
	next, ok := transition(m.state, eventTransportClose)
	if !ok {
		return
	}

	m.releaseTransport()
	m.setState(next)
	metrics.TransportCloses.WithLabelValues(strconv.Itoa(code)).Inc()

	m.logger.Info("websocket closed", "code", code, "reason", CloseReason(code))

	switch {
	case slices.Contains(m.terminal, code):
		m.logger.Error("terminal close code, not reconnecting", "code", code, "reason", CloseReason(code))

	case code == CloseConnectionUnused || code == CloseInvalidReconnectURL:
		m.session.ReconnectURL = ""
		m.scheduleReconnect()

	case code == CloseNormal:
		if m.session.hasReconnectURL() {
			m.scheduleReconnect()
			return
		}
		m.logger.Info("normal closure without reconnect url, staying disconnected")

	default:
		m.scheduleReconnect()
	}
}

func (m *manager) handleKeepaliveDue(ev keepaliveDue) {
	if m.transport == nil || ev.gen != m.transport.gen {
		return
	}

	before := m.session.MissedLiveness
	if m.keepalive.check(&m.session, m.clock.Now()) {
		metrics.KeepaliveMisses.Inc()
		m.logger.Warn("keepalive threshold reached, forcing close",
			"missed", m.session.MissedLiveness,
			"timeout", m.session.KeepaliveTimeout,
		)
		m.handleClose(CloseAbnormal)
		return
	}
	if m.session.MissedLiveness > before {
		metrics.KeepaliveMisses.Inc()
		m.logger.Warn("missed keepalive", "missed", m.session.MissedLiveness, "max", m.keepalive.maxMissed)
	}

	gen := ev.gen
	m.keepalive.schedule(seconds(m.session.KeepaliveTimeout), func() {
		m.postTimer(keepaliveDue{gen: gen})
	})
}

func (m *manager) handleGraceDue(ev graceDue) {
	if m.transport == nil || ev.gen != m.transport.gen {
		return
	}
	m.graceTimer = nil

	m.logger.Info("reconnect grace elapsed, closing transport")
	m.handleClose(CloseNormal)
}

// scheduleReconnect arms a single reconnect timer unless the attempt
// budget is spent.
func (m *manager) scheduleReconnect() {
	if m.backoff.Exhausted(m.attempts) {
		metrics.ReconnectGiveUps.Inc()
		m.logger.Error("max reconnection attempts reached, giving up", "attempts", m.attempts)
		return
	}
	if m.reconnectTimer != nil {
		m.logger.Debug("reconnect already scheduled")
		return
	}

	delay := m.backoff.Delay(m.attempts)
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.reconnectTimer = m.clock.AfterFunc(delay, func() {
		m.postTimer(reconnectDue{seq: seq})
	})

	metrics.ReconnectsScheduled.Inc()
	m.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", m.attempts+1,
		"max_attempts", m.backoff.MaxAttempts,
		"via_reconnect_url", m.session.hasReconnectURL(),
	)
}

func (m *manager) handleReconnectDue(ev reconnectDue) {
	if m.reconnectTimer == nil || ev.seq != m.reconnectSeq {
		return
	}
	m.reconnectTimer = nil

	if m.backoff.Exhausted(m.attempts) {
		return
	}

	if m.session.hasReconnectURL() {
		next, ok := transition(m.state, eventReconnectURL)
		if !ok {
			m.logger.Debug("reconnect skipped", "state", m.state)
			return
		}
		m.releaseTransport()
		m.setState(next)
		m.startDial(m.session.ReconnectURL, true, nil)
		return
	}

	next, ok := transition(m.state, eventConnect)
	if !ok {
		m.logger.Debug("reconnect skipped", "state", m.state)
		return
	}
	m.releaseTransport()
	m.setState(next)
	m.startDial(m.cfg.WSURL, false, nil)
}

// releaseTransport detaches and closes the current transport and any dial
// in flight. All events tagged with older generations become stale.
func (m *manager) releaseTransport() {
	m.keepalive.stop()
	m.stopGrace()

	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	m.gen++

	if t := m.transport; t != nil {
		m.transport = nil
		t.cancel()
		// Close may block on the write deadline; keep the loop responsive.
		go t.client.Close()
	}
}

func (m *manager) stopGrace() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

func (m *manager) cancelReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

func (m *manager) setState(next State) {
	if next == m.state {
		return
	}
	m.logger.Info("state transition", "from", m.state, "to", next)
	metrics.StateTransitions.WithLabelValues(m.state.String(), next.String()).Inc()
	metrics.ConnectionState.Set(float64(next))
	m.state = next
}

// updateTransport binds a welcomed session off-loop. Failures are logged
// by the binder and never touch the lifecycle.
func (m *manager) updateTransport(sessionID string) {
	if m.binder == nil || m.cfg.ConduitID == "" {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.binder.Bind(m.ctx, sessionID); err != nil {
			m.logger.Debug("session bind failed", "session_id", sessionID, "error", err)
		}
	}()
}

// dispatch hands notifications to the handler one at a time, in order.
func (m *manager) dispatch() {
	defer m.dispatchWG.Done()

	for {
		n, ok := m.queue.Receive()
		if !ok {
			return
		}
		m.deliver(n)
	}
}

func (m *manager) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerErrors.WithLabelValues(n.SubscriptionType).Inc()
			m.logger.Error("event handler panicked",
				"subscription_type", n.SubscriptionType,
				"message_id", n.Metadata.MessageID,
				"panic", r,
			)
		}
	}()

	if err := m.handler.ProcessEvent(m.handlerCtx, n.SubscriptionType, n); err != nil {
		metrics.HandlerErrors.WithLabelValues(n.SubscriptionType).Inc()
		m.logger.Error("event handler failed",
			"subscription_type", n.SubscriptionType,
			"message_id", n.Metadata.MessageID,
			"error", err,
		)
	}
}

func (m *manager) publish() {
	m.atomicState.Store(int32(m.state))

	m.snapMu.Lock()
	m.snapshot = ManagerStats{
		State:             m.state.String(),
		SessionID:         m.session.ID,
		HasReconnectURL:   m.session.hasReconnectURL(),
		ReconnectAttempts: m.attempts,
		MissedKeepalives:  m.session.MissedLiveness,
		KeepaliveTimeout:  m.session.KeepaliveTimeout,
		FramesReceived:    m.framesReceived,
		ParseErrors:       m.parseErrors,
		Notifications:     m.notifications,
		DroppedFrames:     m.droppedFrames,
	}
	m.snapMu.Unlock()
}

// waitGroup waits for wg or ctx, reporting whether wg finished.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
