package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats reports hub counters.
type Stats struct {
	Clients       int   `json:"clients"`
	Subscriptions int   `json:"subscriptions"`
	Devices       int   `json:"devices"`
	Delivered     int64 `json:"delivered"`
	Evicted       int64 `json:"evicted"`
}

type client struct {
	id        string
	send      chan []byte
	devices   map[string]struct{}
	createdAt time.Time
	onEvict   func()
}

// Hub is the subscription index and fan-out point for dashboard clients.
type Hub struct {
	cfg    Config
	logger Logger
	status StatusProvider
	now    func() time.Time

	ops      chan func()
	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once

	delivered atomic.Int64
	evicted   atomic.Int64

	// Owned by the run goroutine.
	clients  map[string]*client
	byDevice map[string]map[string]struct{}
	rings    map[string]*ring
	pending  map[string]telemetry.Reading
}

// NewHub creates a Hub. Call Start before using it.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		logger:   noopLogger{},
		now:      time.Now,
		ops:      make(chan func()),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		clients:  make(map[string]*client),
		byDevice: make(map[string]map[string]struct{}),
		rings:    make(map[string]*ring),
		pending:  make(map[string]telemetry.Reading),
	}
}

// SetLogger sets the logger for the hub. Call before Start.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// SetStatusProvider sets the source of subsystem flags for the periodic
// status_update. Call before Start.
func (h *Hub) SetStatusProvider(p StatusProvider) {
	h.status = p
}

// Start launches the owner goroutine with its live, heartbeat and status
// tickers.
func (h *Hub) Start(ctx context.Context) {
	h.startMu.Lock()
	defer h.startMu.Unlock()
	if h.started {
		return
	}
	h.started = true

	h.wg.Add(1)
	go h.run(ctx)
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	defer close(h.exited)
	defer h.disconnectAll()

	live := time.NewTicker(h.cfg.LiveInterval)
	defer live.Stop()
	beat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer beat.Stop()
	status := time.NewTicker(h.cfg.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case op := <-h.ops:
			op()
		case <-live.C:
			h.flushLive()
		case <-beat.C:
			h.sendAll(h.encode(Message{Type: TypeHeartbeat, Data: heartbeat{Clients: len(h.clients)}}))
		case <-status.C:
			h.sendAll(h.encode(Message{Type: TypeStatusUpdate, Data: h.systemStatus()}))
		}
	}
}

// exec runs fn on the owner goroutine and waits for it to finish.
func (h *Hub) exec(ctx context.Context, fn func()) error {
	h.startMu.Lock()
	started := h.started
	h.startMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(finished) }:
	case <-h.exited:
		return ErrStopped
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Attach registers a client and returns the channel its transport should
// drain. The channel is closed when the client is detached or evicted;
// onEvict, if set, is called on eviction and on hub shutdown so the
// transport can close its connection. onEvict must not block.
func (h *Hub) Attach(ctx context.Context, clientID string, onEvict func()) (<-chan []byte, error) {
	var (
		send <-chan []byte
		err  error
	)
	execErr := h.exec(ctx, func() {
		if _, exists := h.clients[clientID]; exists {
			err = fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
			return
		}
		c := &client{
			id:        clientID,
			send:      make(chan []byte, h.cfg.SendBuffer),
			devices:   make(map[string]struct{}),
			createdAt: h.now(),
			onEvict:   onEvict,
		}
		h.clients[clientID] = c
		send = c.send
	})
	if execErr != nil {
		return nil, execErr
	}
	if err == nil {
		h.logger.Debug("dashboard client attached", "client_id", clientID)
	}
	return send, err
}

// Detach removes a client and all its subscriptions. Detaching an unknown
// client is a no-op.
func (h *Hub) Detach(ctx context.Context, clientID string) error {
	return h.exec(ctx, func() {
		if c, ok := h.clients[clientID]; ok {
			h.remove(c)
			h.logger.Debug("dashboard client detached", "client_id", clientID)
		}
	})
}

// Subscribe adds device IDs to a client's subscription and returns the
// client's full subscription set, sorted.
func (h *Hub) Subscribe(ctx context.Context, clientID string, deviceIDs []string) ([]string, error) {
	var (
		subs []string
		err  error
	)
	execErr := h.exec(ctx, func() {
		c, ok := h.clients[clientID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
			return
		}
		for _, id := range deviceIDs {
			if id == "" {
				continue
			}
			c.devices[id] = struct{}{}
			set, ok := h.byDevice[id]
			if !ok {
				set = make(map[string]struct{})
				h.byDevice[id] = set
			}
			set[clientID] = struct{}{}
		}
		subs = slices.Sorted(maps.Keys(c.devices))
	})
	if execErr != nil {
		return nil, execErr
	}
	return subs, err
}

// Unsubscribe removes device IDs from a client's subscription and returns
// what remains, sorted.
func (h *Hub) Unsubscribe(ctx context.Context, clientID string, deviceIDs []string) ([]string, error) {
	var (
		subs []string
		err  error
	)
	execErr := h.exec(ctx, func() {
		c, ok := h.clients[clientID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
			return
		}
		for _, id := range deviceIDs {
			delete(c.devices, id)
			h.unindex(id, clientID)
		}
		subs = slices.Sorted(maps.Keys(c.devices))
	})
	if execErr != nil {
		return nil, execErr
	}
	return subs, err
}

// Reply queues a message for one client, for answers to client requests.
func (h *Hub) Reply(ctx context.Context, clientID string, msg Message) error {
	data := h.encode(msg)
	var err error
	execErr := h.exec(ctx, func() {
		c, ok := h.clients[clientID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
			return
		}
		h.deliver(c, data)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// GetRecent returns up to limit of the device's most recent readings,
// oldest first, from the in-memory ring buffer.
func (h *Hub) GetRecent(ctx context.Context, deviceID string, limit int) ([]telemetry.Reading, error) {
	out := []telemetry.Reading{}
	err := h.exec(ctx, func() {
		if r, ok := h.rings[deviceID]; ok {
			out = r.last(limit)
		}
	})
	return out, err
}

// Publish pushes an anomaly to the device's subscribers immediately.
func (h *Hub) Publish(ctx context.Context, ev telemetry.AnomalyEvent) error {
	data := h.encode(Message{Type: TypeAnomalyDetected, DeviceID: ev.DeviceID, Data: ev})
	return h.exec(ctx, func() {
		h.sendDevice(ev.DeviceID, data)
	})
}

// PublishReading records a reading in the device's ring buffer. The newest
// reading per device goes out as sensor_data on the next live tick.
func (h *Hub) PublishReading(ctx context.Context, r telemetry.Reading) error {
	return h.exec(ctx, func() {
		rg, ok := h.rings[r.DeviceID]
		if !ok {
			rg = newRing(h.cfg.RingSize)
			h.rings[r.DeviceID] = rg
		}
		rg.push(r)
		h.pending[r.DeviceID] = r
	})
}

// PublishHealth pushes a device health change to its subscribers.
func (h *Hub) PublishHealth(ctx context.Context, health telemetry.DeviceHealth) error {
	data := h.encode(Message{Type: TypeStatusUpdate, DeviceID: health.DeviceID, Data: healthUpdate{Health: health}})
	return h.exec(ctx, func() {
		h.sendDevice(health.DeviceID, data)
	})
}

// Subscribers returns how many clients are subscribed to a device.
func (h *Hub) Subscribers(ctx context.Context, deviceID string) (int, error) {
	var n int
	err := h.exec(ctx, func() {
		n = len(h.byDevice[deviceID])
	})
	return n, err
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := h.exec(ctx, func() {
		st.Clients = len(h.clients)
		st.Devices = len(h.rings)
		for _, set := range h.byDevice {
			st.Subscriptions += len(set)
		}
	})
	st.Delivered = h.delivered.Load()
	st.Evicted = h.evicted.Load()
	return st, err
}

func (h *Hub) flushLive() {
	for id, r := range h.pending {
		if len(h.byDevice[id]) > 0 {
			h.sendDevice(id, h.encode(Message{Type: TypeSensorData, DeviceID: id, Data: r}))
		}
		delete(h.pending, id)
	}
}

func (h *Hub) systemStatus() SystemStatus {
	st := SystemStatus{
		Clients: len(h.clients),
		Devices: len(h.rings),
		Evicted: h.evicted.Load(),
	}
	if h.status != nil {
		st.Subsystems = h.status.Subsystems()
		for _, v := range st.Subsystems {
			if v != "ok" {
				st.Degraded = true
			}
		}
	}
	return st
}

func (h *Hub) encode(msg Message) []byte {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "type", msg.Type, "error", err)
		return nil
	}
	return data
}

func (h *Hub) sendDevice(deviceID string, data []byte) {
	for id := range h.byDevice[deviceID] {
		if c, ok := h.clients[id]; ok {
			h.deliver(c, data)
		}
	}
}

func (h *Hub) sendAll(data []byte) {
	for _, c := range h.clients {
		h.deliver(c, data)
	}
}

// deliver never blocks: a full buffer evicts the client.
func (h *Hub) deliver(c *client, data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
		h.delivered.Add(1)
	default:
		h.evicted.Add(1)
		h.logger.Warn("evicting slow dashboard client",
			"client_id", c.id,
			"error", fmt.Errorf("%w: send buffer full (%d)", telemetry.ErrBroadcastDelivery, cap(c.send)))
		h.remove(c)
		if c.onEvict != nil {
			c.onEvict()
		}
	}
}

// remove drops c from both index directions and closes its channel.
func (h *Hub) remove(c *client) {
	for id := range c.devices {
		h.unindex(id, c.id)
	}
	delete(h.clients, c.id)
	close(c.send)
}

func (h *Hub) unindex(deviceID, clientID string) {
	set, ok := h.byDevice[deviceID]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(h.byDevice, deviceID)
	}
}

func (h *Hub) disconnectAll() {
	for _, c := range h.clients {
		h.remove(c)
		if c.onEvict != nil {
			c.onEvict()
		}
	}
}
