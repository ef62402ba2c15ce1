package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/rajeshganji/voxflow/internal/audio"
	"github.com/rajeshganji/voxflow/internal/metrics"
	"github.com/rajeshganji/voxflow/internal/protocol"
)

// Handler receives the demultiplexed per-call events of the inbound
// stream. Media packets for one call are delivered in arrival order.
type Handler interface {
	OnStreamStart(ucid, did string)
	OnMediaPacket(ucid string, samples []int16, sampleRate int)
	OnStreamEnd(ucid string)
}

// Config tunes the websocket relay.
type Config struct {
	// Endpoint is the websocket path the gateway connects to.
	Endpoint string

	// GracePeriod keeps a call's connection binding alive after its stop
	// event so late playback audio can still be delivered.
	GracePeriod time.Duration

	// QueueSize bounds each call's work queue. Full queues drop packets
	// rather than stall the connection read loop.
	QueueSize int

	ReadLimit    int64
	WriteTimeout time.Duration
}

// DefaultConfig returns the baseline relay tuning.
func DefaultConfig() Config {
	return Config{
		Endpoint:     "/stream",
		GracePeriod:  10 * time.Second,
		QueueSize:    256,
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
	}
}

// Status is a monitoring snapshot of the relay.
type Status struct {
	Connections []ConnectionInfo `json:"connections"`
	BoundCalls  int              `json:"bound_calls"`
	UCIDs       []string         `json:"ucids"`
}

type itemKind int

const (
	itemStart itemKind = iota
	itemMedia
	itemStop
)

type workItem struct {
	kind       itemKind
	did        string
	samples    []int16
	sampleRate int
}

// callWorker processes one call's events in order on its own goroutine.
// pendingStarts counts starts queued behind a stop; a worker with pending
// starts survives the stop and carries the restarted call.
type callWorker struct {
	queue         chan workItem
	pendingStarts atomic.Int32
}

// rejectLogInterval limits how often a misbehaving client address is
// logged for hitting the wrong path.
const rejectLogInterval = 60 * time.Second

// Relay owns the gateway websocket connections. It demultiplexes the
// inbound JSON stream into per-call events for the handler and carries
// shaped playback audio back out.
type Relay struct {
	cfg      Config
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	handler Handler
	conns   map[string]*Connection
	workers map[string]*callWorker

	rejectMu   sync.Mutex
	lastReject map[string]time.Time
}

// New creates a relay. The handler is wired afterwards via SetHandler
// because the orchestrator needs the relay's send path first.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}

	return &Relay{
		cfg:        cfg,
		registry:   NewRegistry(cfg.GracePeriod, logger),
		metrics:    m,
		logger:     logger,
		conns:      make(map[string]*Connection),
		workers:    make(map[string]*callWorker),
		lastReject: make(map[string]time.Time),
	}
}

// SetHandler wires the event consumer. Must be called before the first
// connection is served.
func (r *Relay) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *Relay) getHandler() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// Registry exposes the call-to-connection bindings for tests and
// monitoring.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// ServeHTTP upgrades a gateway connection and runs its read loop until
// the peer disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != r.cfg.Endpoint {
		r.logRejection(req)
		http.NotFound(w, req)
		return
	}

	// Origin checks only make sense for browser clients; the gateway is
	// a server peer.
	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		r.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", req.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	r.serveConn(req.Context(), ws, req.RemoteAddr)
}

// serveConn registers a connection and pumps its inbound frames. Shared
// by the HTTP upgrade path and the outbound dialer.
func (r *Relay) serveConn(ctx context.Context, ws *websocket.Conn, remoteAddr string) {
	if r.cfg.ReadLimit > 0 {
		ws.SetReadLimit(r.cfg.ReadLimit)
	}

	conn := newConnection(ws, remoteAddr, r.cfg.WriteTimeout)
	r.addConn(conn)
	defer r.dropConn(conn)

	r.logger.Info("gateway connected",
		slog.String("conn_id", conn.ID),
		slog.String("remote_addr", remoteAddr),
	)

	for {
		data, err := conn.read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				r.logger.Info("gateway disconnected", slog.String("conn_id", conn.ID))
			} else {
				r.logger.Warn("gateway read failed",
					slog.String("conn_id", conn.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		r.metrics.RecordEventReceived()

		ev, err := protocol.ParseInbound(data)
		if err != nil {
			r.metrics.RecordParseError()
			r.logger.Warn("dropping unparseable event",
				slog.String("conn_id", conn.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.dispatch(conn, ev)
	}
}

// dispatch routes one parsed event. Every lifecycle event flows through
// the call's worker queue, so start, media and stop are applied strictly
// in arrival order and a slow pipeline never blocks the read loop.
func (r *Relay) dispatch(conn *Connection, ev protocol.InboundEvent) {
	switch e := ev.(type) {
	case *protocol.StartEvent:
		r.registry.Bind(e.UCID, conn)
		w := r.claimWorker(e.UCID)
		w.queue <- workItem{kind: itemStart, did: e.DID}

	case *protocol.MediaEvent:
		r.enqueue(e.UCID, workItem{
			kind:       itemMedia,
			samples:    e.Data.Samples,
			sampleRate: e.Data.SampleRate,
		})

	case *protocol.StopEvent:
		r.enqueue(e.UCID, workItem{kind: itemStop})
		r.registry.ScheduleUnbind(e.UCID)
	}
}

// claimWorker returns the call's worker, creating one when none is live.
// The pending-start count is raised under the same lock the worker retires
// under, so an existing worker cannot exit between this claim and the
// queued start being processed.
func (r *Relay) claimWorker(ucid string) *callWorker {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[ucid]
	if !ok {
		w = &callWorker{queue: make(chan workItem, r.cfg.QueueSize)}
		r.workers[ucid] = w
		go r.runWorker(ucid, w)
	}
	w.pendingStarts.Add(1)
	return w
}

func (r *Relay) runWorker(ucid string, w *callWorker) {
	for item := range w.queue {
		h := r.getHandler()
		switch item.kind {
		case itemStart:
			if h != nil {
				h.OnStreamStart(ucid, item.did)
			}
			w.pendingStarts.Add(-1)
		case itemMedia:
			if h != nil {
				h.OnMediaPacket(ucid, item.samples, item.sampleRate)
			}
		case itemStop:
			if h != nil {
				h.OnStreamEnd(ucid)
			}
			if r.retireWorker(ucid, w) {
				return
			}
		}
	}
}

// retireWorker removes a worker whose call has just ended. It refuses when
// a start is already queued behind the stop; the worker then keeps running
// as the restarted call's worker instead of losing the queued events.
func (r *Relay) retireWorker(ucid string, w *callWorker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w.pendingStarts.Load() > 0 {
		return false
	}
	if r.workers[ucid] == w {
		delete(r.workers, ucid)
	}
	return true
}

func (r *Relay) enqueue(ucid string, item workItem) {
	r.mu.RLock()
	w, ok := r.workers[ucid]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("event for call without worker", slog.String("ucid", ucid))
		return
	}

	// Stop must reach the worker even when the queue is full; only media
	// packets are droppable.
	if item.kind == itemStop {
		w.queue <- item
		return
	}

	select {
	case w.queue <- item:
	default:
		r.metrics.RecordEventDropped()
		r.logger.Warn("call queue full, dropping packet", slog.String("ucid", ucid))
	}
}

// SendAudio shapes a playback chunk and streams it to the gateway as
// fixed-size media packets. Returns false when the call is no longer
// bound to a live connection.
func (r *Relay) SendAudio(ucid string, samples []int16, sampleRate int) bool {
	conn := r.registry.Lookup(ucid)
	if conn == nil {
		r.logger.Debug("playback for unbound call", slog.String("ucid", ucid))
		return false
	}
	if len(samples) == 0 {
		return true
	}
	if sampleRate <= 0 {
		sampleRate = protocol.DefaultSampleRate
	}

	shaped := audio.RemoveDCOffset(samples)
	shaped = audio.Crossfade(shaped, r.registry.LastSample(ucid))
	packets := audio.Packetize(shaped, protocol.PacketSamples)

	ctx := context.Background()
	for i, pcm := range packets {
		pkt, err := protocol.NewMediaPacket(ucid, pcm, sampleRate)
		if err != nil {
			r.logger.Error("building media packet",
				slog.String("ucid", ucid),
				slog.String("error", err.Error()),
			)
			return false
		}
		data, err := json.Marshal(pkt)
		if err != nil {
			r.logger.Error("encoding media packet",
				slog.String("ucid", ucid),
				slog.String("error", err.Error()),
			)
			return false
		}
		if err := conn.write(ctx, data); err != nil {
			r.logger.Warn("playback write failed",
				slog.String("ucid", ucid),
				slog.Int("packet", i),
				slog.String("error", err.Error()),
			)
			return false
		}
	}

	r.registry.SetLastSample(ucid, shaped[len(shaped)-1])
	r.metrics.RecordPacketsSent(len(packets))

	r.logger.Debug("playback chunk sent",
		slog.String("ucid", ucid),
		slog.Int("samples", len(samples)),
		slog.Int("packets", len(packets)),
	)
	return true
}

// SendControl sends a best-effort control command to the gateway for a
// bound call.
func (r *Relay) SendControl(ucid, command string, params map[string]any) error {
	conn := r.registry.Lookup(ucid)
	if conn == nil {
		return fmt.Errorf("call %s not bound to a connection", ucid)
	}

	data, err := json.Marshal(protocol.ControlMessage{
		UCID:    ucid,
		Command: command,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}

	if err := conn.write(context.Background(), data); err != nil {
		return fmt.Errorf("writing control message: %w", err)
	}
	return nil
}

// Status returns a monitoring snapshot.
func (r *Relay) Status() Status {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		infos = append(infos, c.Info())
	}
	r.mu.RUnlock()

	return Status{
		Connections: infos,
		BoundCalls:  r.registry.Len(),
		UCIDs:       r.registry.UCIDs(),
	}
}

// ConnectionCount returns the number of live gateway connections.
func (r *Relay) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close terminates every gateway connection.
func (r *Relay) Close() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (r *Relay) addConn(conn *Connection) {
	r.mu.Lock()
	r.conns[conn.ID] = conn
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetActiveConnections(count)
}

// dropConn removes a connection and force-ends every call still bound to
// it. The gateway cannot deliver a stop event for calls that die with the
// socket.
func (r *Relay) dropConn(conn *Connection) {
	r.mu.Lock()
	delete(r.conns, conn.ID)
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.SetActiveConnections(count)

	dropped := r.registry.DropConnection(conn.ID)
	h := r.getHandler()
	for _, ucid := range dropped {
		r.enqueue(ucid, workItem{kind: itemStop})
		// The worker may already be gone if a stop event raced the
		// disconnect; end the call directly in that case.
		r.mu.RLock()
		_, hasWorker := r.workers[ucid]
		r.mu.RUnlock()
		if !hasWorker && h != nil {
			h.OnStreamEnd(ucid)
		}
	}

	if len(dropped) > 0 {
		r.logger.Warn("connection dropped with live calls",
			slog.String("conn_id", conn.ID),
			slog.Int("calls", len(dropped)),
		)
	}

	conn.close(websocket.StatusNormalClosure, "")
}

// logRejection logs a request to a non-relay path, at most once per
// address per interval.
func (r *Relay) logRejection(req *http.Request) {
	r.rejectMu.Lock()
	defer r.rejectMu.Unlock()

	now := time.Now()
	if last, ok := r.lastReject[req.RemoteAddr]; ok && now.Sub(last) < rejectLogInterval {
		return
	}
	r.lastReject[req.RemoteAddr] = now

	r.logger.Warn("rejecting request to unknown path",
		slog.String("remote_addr", req.RemoteAddr),
		slog.String("path", req.URL.Path),
	)
}
