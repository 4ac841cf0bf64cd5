package caller

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// callStats tracks the lifecycle milestones of one call. Flags are written
// from the call goroutine and from dispatcher callbacks, so they are
// atomics; the aggregate is only read after the driver has stopped.
type callStats struct {
	answered         atomic.Bool
	bridgeCreated    atomic.Bool
	channelAdded     atomic.Bool
	playbackStarted  atomic.Bool
	playbackFinished atomic.Bool
	finished         atomic.Bool
}

// Stats is the aggregate across all calls plus the origination counter.
type Stats struct {
	SentCalls        int64
	PlaybackStarted  int64
	PlaybackFinished int64
	Answered         int64
	BridgeCreated    int64
	ChannelAdded     int64
	Finished         int64
}

func (s *Stats) add(cs *callStats) {
	if cs.playbackStarted.Load() {
		s.PlaybackStarted++
	}
	if cs.playbackFinished.Load() {
		s.PlaybackFinished++
	}
	if cs.answered.Load() {
		s.Answered++
	}
	if cs.bridgeCreated.Load() {
		s.BridgeCreated++
	}
	if cs.channelAdded.Load() {
		s.ChannelAdded++
	}
	if cs.finished.Load() {
		s.Finished++
	}
}

// String renders the final statistics block, one counter per line.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sent_calls:\t%d\n", s.SentCalls)
	fmt.Fprintf(&b, "playback_started:\t%d\n", s.PlaybackStarted)
	fmt.Fprintf(&b, "playback_finished:\t%d\n", s.PlaybackFinished)
	fmt.Fprintf(&b, "answered:\t%d\n", s.Answered)
	fmt.Fprintf(&b, "bridge_created:\t%d\n", s.BridgeCreated)
	fmt.Fprintf(&b, "channel_added:\t%d\n", s.ChannelAdded)
	fmt.Fprintf(&b, "finished:\t%d\n", s.Finished)
	return b.String()
}
