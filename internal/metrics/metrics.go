package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ariload/ariload/internal/caller"
)

// CallStatsProvider exposes the load driver's counters.
type CallStatsProvider interface {
	OpenCalls() int64
	Stats() caller.Stats
}

// MediaStatsProvider exposes the UDP media sink's counters.
type MediaStatsProvider interface {
	Packets() int64
	Bytes() int64
}

// Collector is a prometheus.Collector that gathers load-run metrics at
// scrape time.
type Collector struct {
	calls     CallStatsProvider
	media     MediaStatsProvider
	startTime time.Time

	// Metric descriptors.
	openCallsDesc        *prometheus.Desc
	sentCallsDesc        *prometheus.Desc
	answeredDesc         *prometheus.Desc
	bridgesCreatedDesc   *prometheus.Desc
	channelsBridgedDesc  *prometheus.Desc
	playbackStartedDesc  *prometheus.Desc
	playbackFinishedDesc *prometheus.Desc
	finishedDesc         *prometheus.Desc
	mediaPacketsDesc     *prometheus.Desc
	mediaBytesDesc       *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil
// if unavailable.
func NewCollector(calls CallStatsProvider, media MediaStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		calls:     calls,
		media:     media,
		startTime: startTime,

		openCallsDesc: prometheus.NewDesc(
			"ariload_open_calls",
			"Number of admission permits currently held by in-flight calls",
			nil, nil,
		),
		sentCallsDesc: prometheus.NewDesc(
			"ariload_sent_calls_total",
			"Total channels successfully originated",
			nil, nil,
		),
		answeredDesc: prometheus.NewDesc(
			"ariload_calls_answered_total",
			"Calls that reached the answered state",
			nil, nil,
		),
		bridgesCreatedDesc: prometheus.NewDesc(
			"ariload_bridges_created_total",
			"Calls whose sound bridge was created",
			nil, nil,
		),
		channelsBridgedDesc: prometheus.NewDesc(
			"ariload_channels_bridged_total",
			"Calls whose channel joined the sound bridge",
			nil, nil,
		),
		playbackStartedDesc: prometheus.NewDesc(
			"ariload_playbacks_started_total",
			"Calls whose prompt playback started",
			nil, nil,
		),
		playbackFinishedDesc: prometheus.NewDesc(
			"ariload_playbacks_finished_total",
			"Calls whose prompt playback ran to completion",
			nil, nil,
		),
		finishedDesc: prometheus.NewDesc(
			"ariload_calls_finished_total",
			"Calls fully torn down after playback",
			nil, nil,
		),
		mediaPacketsDesc: prometheus.NewDesc(
			"ariload_media_packets_total",
			"UDP datagrams received by the external-media sink",
			nil, nil,
		),
		mediaBytesDesc: prometheus.NewDesc(
			"ariload_media_bytes_total",
			"UDP payload bytes received by the external-media sink",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"ariload_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openCallsDesc
	ch <- c.sentCallsDesc
	ch <- c.answeredDesc
	ch <- c.bridgesCreatedDesc
	ch <- c.channelsBridgedDesc
	ch <- c.playbackStartedDesc
	ch <- c.playbackFinishedDesc
	ch <- c.finishedDesc
	ch <- c.mediaPacketsDesc
	ch <- c.mediaBytesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.openCallsDesc, prometheus.GaugeValue,
			float64(c.calls.OpenCalls()),
		)
		s := c.calls.Stats()
		ch <- prometheus.MustNewConstMetric(
			c.sentCallsDesc, prometheus.CounterValue, float64(s.SentCalls),
		)
		ch <- prometheus.MustNewConstMetric(
			c.answeredDesc, prometheus.CounterValue, float64(s.Answered),
		)
		ch <- prometheus.MustNewConstMetric(
			c.bridgesCreatedDesc, prometheus.CounterValue, float64(s.BridgeCreated),
		)
		ch <- prometheus.MustNewConstMetric(
			c.channelsBridgedDesc, prometheus.CounterValue, float64(s.ChannelAdded),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackStartedDesc, prometheus.CounterValue, float64(s.PlaybackStarted),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackFinishedDesc, prometheus.CounterValue, float64(s.PlaybackFinished),
		)
		ch <- prometheus.MustNewConstMetric(
			c.finishedDesc, prometheus.CounterValue, float64(s.Finished),
		)
	}

	if c.media != nil {
		ch <- prometheus.MustNewConstMetric(
			c.mediaPacketsDesc, prometheus.CounterValue, float64(c.media.Packets()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.mediaBytesDesc, prometheus.CounterValue, float64(c.media.Bytes()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
