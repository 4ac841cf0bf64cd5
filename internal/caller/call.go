package caller

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariload/ariload/internal/ari"
)

const (
	callIDLength = 20

	// callbackTimeout bounds REST calls issued from dispatcher callbacks,
	// which have no request context of their own.
	callbackTimeout = 10 * time.Second
)

// newCallID returns the random identifier that namespaces a call's
// recording, robot channel and bridges.
func newCallID() string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, callIDLength)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// Call drives one established channel from answer to teardown. The happy
// path builds two bridges: the sound bridge carries the incoming channel,
// the recording and the prompt playback; the media bridge pairs a snoop
// of the incoming audio with an external-media channel streaming to the
// UDP sink.
type Call struct {
	id      string
	client  *ari.Client
	cfg     *Config
	logger  *slog.Logger
	channel *ari.Channel

	stats callStats

	mu          sync.Mutex
	bridges     []*ari.Bridge
	mediaBridge *ari.Bridge
	snoop       *ari.Channel
	robot       *ari.Channel
}

func newCall(d *Driver, channel *ari.Channel) *Call {
	id := newCallID()
	return &Call{
		id:      id,
		client:  d.client,
		cfg:     &d.cfg,
		logger:  d.logger.With("call_id", id, "channel", channel.ID),
		channel: channel,
	}
}

func (cl *Call) run(ctx context.Context) {
	if err := cl.client.Answer(ctx, cl.channel.ID); err != nil {
		cl.logger.Error("answer failed", "error", err)
		return
	}
	cl.stats.answered.Store(true)

	sound, err := cl.client.CreateBridge(ctx, "sound_"+cl.id)
	if err != nil || sound == nil {
		cl.logger.Error("sound bridge create failed", "error", err)
		return
	}
	cl.addBridge(sound)
	cl.stats.bridgeCreated.Store(true)

	if err := cl.client.AddToBridge(ctx, sound.ID, cl.channel.ID); err != nil {
		cl.logger.Error("add channel to sound bridge failed", "error", err)
		return
	}
	cl.stats.channelAdded.Store(true)

	// Fire-and-forget: a failed recording should not stop the call.
	if err := cl.client.RecordBridge(ctx, sound.ID, "test_"+cl.id, ""); err != nil {
		cl.logger.Error("bridge record failed", "error", err)
	}

	cl.startSpy(ctx)

	playbackID := uuid.NewString()
	cl.client.OnEntityEvent("PlaybackFinished", playbackID, cl.playbackFinished)
	media := "sound:" + cl.cfg.SoundsDir + "/mid_sound"
	pb, err := cl.client.PlayBridge(ctx, sound.ID, media, playbackID)
	if err != nil || pb == nil {
		cl.logger.Error("playback start failed", "error", err)
		return
	}
	cl.stats.playbackStarted.Store(true)
}

// startSpy builds the media bridge, snoops the incoming channel and
// requests the external-media robot channel under a pre-declared ID, so
// the StasisStart callback for the robot can be in place before the
// channel exists. The spy path is best-effort: its failure leaves the
// sound path intact.
func (cl *Call) startSpy(ctx context.Context) {
	media, err := cl.client.CreateBridge(ctx, "media_"+cl.id)
	if err != nil || media == nil {
		cl.logger.Error("media bridge create failed", "error", err)
		return
	}
	cl.addBridge(media)
	cl.mu.Lock()
	cl.mediaBridge = media
	cl.mu.Unlock()

	snoop, err := cl.client.StartSnoop(ctx, cl.channel.ID, "in")
	if err != nil {
		cl.logger.Error("snoop failed", "error", err)
	}
	cl.mu.Lock()
	cl.snoop = snoop
	cl.mu.Unlock()

	robotID := "robot_" + cl.id
	cl.client.OnEntityEvent("StasisStart", robotID, cl.robotUp)
	robot, err := cl.client.ExternalMedia(ctx, cl.cfg.MediaHost, cl.cfg.MediaPort, "", robotID)
	if err != nil {
		cl.logger.Error("external media failed", "error", err)
		return
	}
	cl.mu.Lock()
	cl.robot = robot
	cl.mu.Unlock()
}

// robotUp runs on the dispatcher when the external-media channel enters
// the application: both spy legs join the media bridge.
func (cl *Call) robotUp(c *ari.Client, _ *ari.Event, ent ari.Entity) {
	robot, ok := ent.(*ari.Channel)
	if !ok {
		return
	}
	cl.mu.Lock()
	bridge := cl.mediaBridge
	snoop := cl.snoop
	cl.mu.Unlock()
	if bridge == nil {
		return
	}
	ids := make([]string, 0, 2)
	if snoop != nil {
		ids = append(ids, snoop.ID)
	}
	ids = append(ids, robot.ID)
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	if err := c.AddToBridge(ctx, bridge.ID, ids...); err != nil {
		cl.logger.Error("add channels to media bridge failed", "error", err)
	}
}

// playbackFinished tears the whole call down: incoming channel, spy legs
// and every owned bridge.
func (cl *Call) playbackFinished(c *ari.Client, _ *ari.Event, _ ari.Entity) {
	cl.stats.playbackFinished.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	if err := c.CloseChannel(ctx, cl.channel.ID); err != nil {
		cl.logger.Error("close channel failed", "error", err)
	}
	cl.mu.Lock()
	snoop := cl.snoop
	robot := cl.robot
	bridges := make([]*ari.Bridge, len(cl.bridges))
	copy(bridges, cl.bridges)
	cl.mu.Unlock()
	if snoop != nil {
		if err := c.CloseChannel(ctx, snoop.ID); err != nil {
			cl.logger.Error("close snoop channel failed", "error", err)
		}
	}
	if robot != nil {
		if err := c.CloseChannel(ctx, robot.ID); err != nil {
			cl.logger.Error("close robot channel failed", "error", err)
		}
	}
	for _, b := range bridges {
		if err := c.CloseBridge(ctx, b.ID); err != nil {
			cl.logger.Error("close bridge failed", "bridge", b.ID, "error", err)
		}
	}
	cl.stats.finished.Store(true)
	cl.logger.Info("call finished")
}

func (cl *Call) addBridge(b *ari.Bridge) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.bridges = append(cl.bridges, b)
}
