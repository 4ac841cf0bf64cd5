// Package caller originates and orchestrates test calls against an
// Asterisk application over ARI. The driver keeps a bounded number of
// concurrent calls in flight and runs a per-call state machine from
// StasisStart through playback to teardown, collecting lifecycle
// statistics along the way.
package caller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ariload/ariload/internal/ari"
)

const (
	defaultMediaHost = "127.0.0.1"
	defaultMediaPort = 55444
)

// Config controls the origination load.
type Config struct {
	// Count bounds the number of concurrently open calls.
	Count int
	// Driver is the channel technology, e.g. "PJSIP" or "SIP".
	Driver string
	// Trunk and Phone compose the dial string.
	Trunk string
	Phone string
	// CallerID is presented on originated channels.
	CallerID string

	// CallsPerSecond paces origination. Zero disables pacing.
	CallsPerSecond float64

	// SoundsDir holds the prompt files. Empty means the sounds directory
	// next to the executable.
	SoundsDir string

	// MediaHost/MediaPort locate the external-media UDP sink.
	MediaHost string
	MediaPort int
}

// Driver runs the origination loop and tracks every call it spawned.
type Driver struct {
	client *ari.Client
	cfg    Config
	logger *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	// outstanding counts held admission permits so that releases driven
	// by ChannelDestroyed can never exceed acquisitions.
	outstanding atomic.Int64
	sentCalls   atomic.Int64

	ctx context.Context

	mu    sync.Mutex
	calls []*Call

	wg sync.WaitGroup
}

// New creates a driver. Run must be called to start originating.
func New(client *ari.Client, cfg Config, logger *slog.Logger) *Driver {
	if cfg.MediaHost == "" {
		cfg.MediaHost = defaultMediaHost
	}
	if cfg.MediaPort == 0 {
		cfg.MediaPort = defaultMediaPort
	}
	if cfg.SoundsDir == "" {
		cfg.SoundsDir = defaultSoundsDir()
	}
	d := &Driver{
		client: client,
		cfg:    cfg,
		logger: logger.With("subsystem", "caller"),
		sem:    semaphore.NewWeighted(int64(cfg.Count)),
	}
	if cfg.CallsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1)
	}
	return d
}

func defaultSoundsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "sounds"
	}
	return filepath.Join(filepath.Dir(exe), "sounds")
}

// Run registers the call lifecycle callbacks and originates until ctx is
// cancelled, then waits for in-flight origination requests. Concurrency
// never exceeds cfg.Count: each iteration holds an admission permit that
// is returned when the call's channel is destroyed or origination fails.
func (d *Driver) Run(ctx context.Context) {
	d.ctx = ctx
	d.client.OnEvent("StasisStart", d.startCall)
	d.client.OnEvent("ChannelDestroyed", d.endCall)

	dial := dialString(d.cfg)
	d.logger.Info("starting origination",
		"count", d.cfg.Count,
		"endpoint", dial,
		"callerid", d.cfg.CallerID,
	)

	for seq := 1; ; seq++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		d.outstanding.Add(1)
		channelID := strconv.Itoa(seq)
		d.wg.Add(1)
		go d.originate(ctx, channelID, dial)
	}
	d.wg.Wait()
}

// dialString composes the ARI endpoint for the configured technology.
// PJSIP addresses the endpoint as PJSIP/{phone}@{trunk}; chan_sip style
// drivers use {driver}/{trunk}/{phone}.
func dialString(cfg Config) string {
	if cfg.Driver == "PJSIP" {
		return fmt.Sprintf("PJSIP/%s@%s", cfg.Phone, cfg.Trunk)
	}
	return fmt.Sprintf("%s/%s/%s", cfg.Driver, cfg.Trunk, cfg.Phone)
}

func (d *Driver) originate(ctx context.Context, channelID, dial string) {
	defer d.wg.Done()
	_, err := d.client.CreateChannel(ctx, channelID, dial, d.cfg.CallerID, nil, 0)
	if err != nil {
		d.logger.Error("create channel failed", "channel_id", channelID, "error", err)
		d.releasePermit()
		return
	}
	d.sentCalls.Add(1)
}

// startCall launches the per-call state machine when one of our outbound
// channels enters the application. Snoop and external-media channels also
// produce StasisStart; the protocol gate skips them.
func (d *Driver) startCall(_ *ari.Client, ev *ari.Event) {
	ch := ev.Channel
	if ch == nil || !isCallProtocol(ch.Protocol()) {
		return
	}
	call := newCall(d, ch)
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	go call.run(d.ctx)
}

// endCall returns the admission permit once the channel is really gone.
// ChannelDestroyed strictly follows StasisEnd, so releasing here keeps the
// open-call count a true upper bound.
func (d *Driver) endCall(_ *ari.Client, ev *ari.Event) {
	ch := ev.Channel
	if ch == nil || !isCallProtocol(ch.Protocol()) {
		return
	}
	d.releasePermit()
}

func isCallProtocol(proto string) bool {
	return proto == "PJSIP" || proto == "SIP"
}

func (d *Driver) releasePermit() {
	for {
		n := d.outstanding.Load()
		if n <= 0 {
			return
		}
		if d.outstanding.CompareAndSwap(n, n-1) {
			d.sem.Release(1)
			return
		}
	}
}

// OpenCalls reports the number of admission permits currently held.
func (d *Driver) OpenCalls() int64 {
	return d.outstanding.Load()
}

// SentCalls reports successful originations so far.
func (d *Driver) SentCalls() int64 {
	return d.sentCalls.Load()
}

// Stats aggregates the per-call lifecycle flags. Meant to be read after
// Run has returned; while running it is a best-effort snapshot.
func (d *Driver) Stats() Stats {
	s := Stats{SentCalls: d.sentCalls.Load()}
	d.mu.Lock()
	calls := make([]*Call, len(d.calls))
	copy(calls, d.calls)
	d.mu.Unlock()
	for _, c := range calls {
		s.add(&c.stats)
	}
	return s
}
