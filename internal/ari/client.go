// Package ari is a client runtime for the Asterisk REST Interface. It
// fuses a persistent WebSocket event consumer with a request/response REST
// client, keeps a canonical in-memory registry of live channels, bridges
// and playbacks, and delivers events to class-level and per-entity
// callback chains from a single dispatcher goroutine in arrival order.
package ari

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultQueueSize      = 1024

	// Reconnection policy for the event WebSocket: quick retries first,
	// then a slower cadence.
	retryTimeout    = 1 * time.Second
	maxQuickRetries = 10
	slowRetryDelay  = 5 * time.Second
)

// defaultEvents is the allowed set every client starts with. Registration
// of callbacks for further types grows the set; it never shrinks.
var defaultEvents = []string{
	"StasisStart",
	"Dial",
	"ChannelDestroyed",
	"StasisEnd",
	"PlaybackFinished",
	"PlaybackStarted",
	"ChannelCreated",
	"ChannelDtmfReceived",
}

// Config carries the ARI connection parameters.
type Config struct {
	// URL is the host:port of the Asterisk HTTP interface.
	URL string
	// Username and Password form the Basic auth credential.
	Username string
	Password string
	// Application is the Stasis application name.
	Application string

	// RequestTimeout bounds each REST round-trip. Zero means 10 s.
	RequestTimeout time.Duration
	// QueueSize bounds the dispatch queue. Zero means 1024.
	QueueSize int
}

// Client is an ARI client. Create with New, start the event machinery with
// Start, and stop with Close. REST methods are safe for concurrent use at
// any point after New.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	authHeader string

	reg *registry
	cbs *callbacks

	filterMu sync.Mutex
	allowed  map[string]struct{}

	queue        chan *Event
	closed       atomic.Bool
	started      atomic.Bool
	done         chan struct{}
	pumpDone     chan struct{}
	dispatchDone chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New creates a client. The logger must not be nil; pass slog.Default()
// when no dedicated logger exists.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	cred := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	c := &Client{
		cfg:          cfg,
		logger:       logger.With("subsystem", "ari"),
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		authHeader:   "Basic " + cred,
		reg:          newRegistry(),
		cbs:          newCallbacks(),
		allowed:      make(map[string]struct{}),
		queue:        make(chan *Event, cfg.QueueSize),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	c.AddFilter(defaultEvents...)
	c.AddFilter(finishEventTypes()...)
	return c
}

// Start launches the event pump and the dispatcher. It returns
// immediately; connection failures are retried in the background.
func (c *Client) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.pump()
	go c.dispatch()
}

// Close shuts the client down: no further reconnects, the WebSocket is
// closed, the pump and dispatcher drain and exit, and the registry is
// purged. Safe to call more than once.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
	if c.started.Load() {
		<-c.pumpDone
		close(c.queue)
		<-c.dispatchDone
	}
	c.reg.close()
}

// AddFilter inserts event types into the allowed set. The set is pushed to
// Asterisk on every WebSocket (re)connect; growing it mid-session takes
// effect on the next reconnect, matching upstream behavior.
func (c *Client) AddFilter(types ...string) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	for _, t := range types {
		c.allowed[t] = struct{}{}
	}
}

func (c *Client) allowedHas(t string) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	_, ok := c.allowed[t]
	return ok
}

// AllowedEvents returns the allowed set in sorted order.
func (c *Client) AllowedEvents() []string {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	out := make([]string, 0, len(c.allowed))
	for t := range c.allowed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// OnEvent registers a class-level callback for eventType and adds the type
// to the allowed set. Duplicate registration of the same function is a
// no-op.
func (c *Client) OnEvent(eventType string, fn EventHandler) {
	c.AddFilter(eventType)
	c.cbs.addClass(eventType, fn)
}

// OffEvent removes a class-level callback. Removing from inside a callback
// is safe and observed from the next event.
func (c *Client) OffEvent(eventType string, fn EventHandler) {
	c.cbs.removeClass(eventType, fn)
}

// OnEntityEvent registers a per-entity callback keyed by (eventType,
// entityID). The ID may name an entity that does not exist yet; the
// callback fires once events referencing it arrive. All callbacks for an
// ID are dropped when a finish event evicts the entity.
func (c *Client) OnEntityEvent(eventType, entityID string, fn EntityHandler) {
	c.AddFilter(eventType)
	c.cbs.addEntity(eventType, entityID, fn)
}

// Channel returns the live channel with the given ID, if any.
func (c *Client) Channel(id string) (*Channel, bool) { return c.reg.channel(id) }

// Bridge returns the live bridge with the given ID, if any.
func (c *Client) Bridge(id string) (*Bridge, bool) { return c.reg.bridge(id) }

// PlaybackByID returns the live playback with the given ID, if any.
func (c *Client) PlaybackByID(id string) (*Playback, bool) { return c.reg.playback(id) }

// Application returns the configured Stasis application name.
func (c *Client) Application() string { return c.cfg.Application }
