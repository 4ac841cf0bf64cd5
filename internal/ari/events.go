package ari

import (
	"encoding/json"
	"fmt"
)

// Event is one decoded ARI event. Entity references are resolved through
// the client registry at decode time, so two events naming the same
// channel carry the same *Channel. Fields that do not apply to the event
// type are zero. Events are immutable once constructed.
type Event struct {
	Type        string
	Application string
	Timestamp   string
	AsteriskID  string

	Channel        *Channel
	ReplaceChannel *Channel
	Caller         *Channel
	Peer           *Channel
	Forwarded      *Channel
	Bridge         *Bridge
	BridgeFrom     *Bridge
	Playback       *Playback

	Digit           string
	DurationMs      int
	Duration        int
	Cause           int
	CauseTxt        string
	Soft            bool
	Variable        string
	Value           string
	Args            []string
	Dialstatus      string
	Dialstring      string
	Eventname       string
	Userevent       json.RawMessage
	DialplanApp     string
	DialplanAppData string
	MusicClass      string
	Params          []string

	// Payloads the client does not model as entities.
	Recording   json.RawMessage
	Endpoint    json.RawMessage
	ContactInfo json.RawMessage
	PeerInfo    json.RawMessage
	DeviceState json.RawMessage

	// Raw is the full wire frame.
	Raw json.RawMessage
}

// rawEvent is the superset wire shape used before entity materialization.
type rawEvent struct {
	Type        string `json:"type"`
	Application string `json:"application"`
	Timestamp   string `json:"timestamp"`
	AsteriskID  string `json:"asterisk_id"`

	Channel        json.RawMessage `json:"channel"`
	ReplaceChannel json.RawMessage `json:"replace_channel"`
	Caller         json.RawMessage `json:"caller"`
	Peer           json.RawMessage `json:"peer"`
	Forwarded      json.RawMessage `json:"forwarded"`
	Bridge         json.RawMessage `json:"bridge"`
	BridgeFrom     json.RawMessage `json:"bridge_from"`
	Playback       json.RawMessage `json:"playback"`
	Recording      json.RawMessage `json:"recording"`
	Endpoint       json.RawMessage `json:"endpoint"`
	ContactInfo    json.RawMessage `json:"contact_info"`
	DeviceState    json.RawMessage `json:"device_state"`
	Userevent      json.RawMessage `json:"userevent"`

	Digit           string   `json:"digit"`
	DurationMs      int      `json:"duration_ms"`
	Duration        int      `json:"duration"`
	Cause           int      `json:"cause"`
	CauseTxt        string   `json:"cause_txt"`
	Soft            bool     `json:"soft"`
	Variable        string   `json:"variable"`
	Value           string   `json:"value"`
	Args            []string `json:"args"`
	Dialstatus      string   `json:"dialstatus"`
	Dialstring      string   `json:"dialstring"`
	Eventname       string   `json:"eventname"`
	DialplanApp     string   `json:"dialplan_app"`
	DialplanAppData string   `json:"dialplan_app_data"`
	MusicClass      string   `json:"musicclass"`
	Params          []string `json:"params"`
}

// schemaFunc materializes the entity references of one event type. A nil
// entry in eventSchemas means the type is not parseable and the frame is
// dropped at the boundary.
type schemaFunc func(r *registry, raw *rawEvent, ev *Event) error

func requireChannel(r *registry, payload json.RawMessage, dst **Channel) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing channel payload")
	}
	ch, err := r.channelFromJSON(payload)
	if err != nil {
		return err
	}
	*dst = ch
	return nil
}

func optionalChannel(r *registry, payload json.RawMessage, dst **Channel) error {
	if len(payload) == 0 {
		return nil
	}
	return requireChannel(r, payload, dst)
}

func requireBridge(r *registry, payload json.RawMessage, dst **Bridge) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing bridge payload")
	}
	b, err := r.bridgeFromJSON(payload)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func optionalBridge(r *registry, payload json.RawMessage, dst **Bridge) error {
	if len(payload) == 0 {
		return nil
	}
	return requireBridge(r, payload, dst)
}

func requirePlayback(r *registry, payload json.RawMessage, dst **Playback) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing playback payload")
	}
	p, err := r.playbackFromJSON(payload)
	if err != nil {
		return err
	}
	*dst = p
	return nil
}

// channelEvent is the schema shared by every event that references exactly
// one channel through the "channel" field.
func channelEvent(r *registry, raw *rawEvent, ev *Event) error {
	return requireChannel(r, raw.Channel, &ev.Channel)
}

func playbackEvent(r *registry, raw *rawEvent, ev *Event) error {
	return requirePlayback(r, raw.Playback, &ev.Playback)
}

func bridgeEvent(r *registry, raw *rawEvent, ev *Event) error {
	return requireBridge(r, raw.Bridge, &ev.Bridge)
}

func noEntities(_ *registry, _ *rawEvent, _ *Event) error { return nil }

var eventSchemas = map[string]schemaFunc{
	"StasisStart": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := requireChannel(r, raw.Channel, &ev.Channel); err != nil {
			return err
		}
		return optionalChannel(r, raw.ReplaceChannel, &ev.ReplaceChannel)
	},
	"StasisEnd": channelEvent,
	"Dial": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := requireChannel(r, raw.Peer, &ev.Peer); err != nil {
			return err
		}
		if err := optionalChannel(r, raw.Caller, &ev.Caller); err != nil {
			return err
		}
		return optionalChannel(r, raw.Forwarded, &ev.Forwarded)
	},

	"ChannelCreated":         channelEvent,
	"ChannelDestroyed":       channelEvent,
	"ChannelStateChange":     channelEvent,
	"ChannelDtmfReceived":    channelEvent,
	"ChannelDialplan":        channelEvent,
	"ChannelCallerId":        channelEvent,
	"ChannelHangupRequest":   channelEvent,
	"ChannelHold":            channelEvent,
	"ChannelUnhold":          channelEvent,
	"ChannelTalkingStarted":  channelEvent,
	"ChannelTalkingFinished": channelEvent,
	"ChannelConnectedLine":   channelEvent,
	"ChannelVarset": func(r *registry, raw *rawEvent, ev *Event) error {
		return optionalChannel(r, raw.Channel, &ev.Channel)
	},
	"ChannelUserevent": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := optionalChannel(r, raw.Channel, &ev.Channel); err != nil {
			return err
		}
		return optionalBridge(r, raw.Bridge, &ev.Bridge)
	},
	"ChannelEnteredBridge": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := requireChannel(r, raw.Channel, &ev.Channel); err != nil {
			return err
		}
		return requireBridge(r, raw.Bridge, &ev.Bridge)
	},
	"ChannelLeftBridge": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := requireChannel(r, raw.Channel, &ev.Channel); err != nil {
			return err
		}
		return requireBridge(r, raw.Bridge, &ev.Bridge)
	},

	"BridgeCreated":   bridgeEvent,
	"BridgeDestroyed": bridgeEvent,
	"BridgeMerged": func(r *registry, raw *rawEvent, ev *Event) error {
		if err := requireBridge(r, raw.Bridge, &ev.Bridge); err != nil {
			return err
		}
		return requireBridge(r, raw.BridgeFrom, &ev.BridgeFrom)
	},

	"PlaybackStarted":    playbackEvent,
	"PlaybackContinuing": playbackEvent,
	"PlaybackFinished":   playbackEvent,

	"RecordingStarted":    noEntities,
	"RecordingFinished":   noEntities,
	"RecordingFailed":     noEntities,
	"ContactStatusChange": noEntities,
	"PeerStatusChange":    noEntities,
	"EndpointStateChange": noEntities,
	"DeviceStateChanged":  noEntities,
	"MissingParams":       noEntities,
}

// parseFrame decodes the wire envelope without touching the registry.
func parseFrame(data []byte) (*rawEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding event frame: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("event frame without type")
	}
	return &raw, nil
}

// materialize builds the immutable Event, registering referenced entities
// through the registry. peerInfo for PeerStatusChange rides in the same
// "peer" field Dial uses for its channel, so it is split here by type.
func materialize(r *registry, raw *rawEvent, data []byte) (*Event, error) {
	schema, ok := eventSchemas[raw.Type]
	if !ok {
		return nil, fmt.Errorf("no schema for event type %q", raw.Type)
	}
	ev := &Event{
		Type:            raw.Type,
		Application:     raw.Application,
		Timestamp:       raw.Timestamp,
		AsteriskID:      raw.AsteriskID,
		Digit:           raw.Digit,
		DurationMs:      raw.DurationMs,
		Duration:        raw.Duration,
		Cause:           raw.Cause,
		CauseTxt:        raw.CauseTxt,
		Soft:            raw.Soft,
		Variable:        raw.Variable,
		Value:           raw.Value,
		Args:            raw.Args,
		Dialstatus:      raw.Dialstatus,
		Dialstring:      raw.Dialstring,
		Eventname:       raw.Eventname,
		Userevent:       raw.Userevent,
		DialplanApp:     raw.DialplanApp,
		DialplanAppData: raw.DialplanAppData,
		MusicClass:      raw.MusicClass,
		Params:          raw.Params,
		Recording:       raw.Recording,
		Endpoint:        raw.Endpoint,
		ContactInfo:     raw.ContactInfo,
		DeviceState:     raw.DeviceState,
		Raw:             data,
	}
	if raw.Type == "PeerStatusChange" {
		ev.PeerInfo = raw.Peer
	}
	if err := schema(r, raw, ev); err != nil {
		return nil, fmt.Errorf("event %s: %w", raw.Type, err)
	}
	return ev, nil
}

// Association tables, one pair per entity kind. related maps event type to
// the event fields whose per-entity callbacks fire on delivery; finish
// maps event type to the fields whose entities are evicted afterwards.

func eventChannel(ev *Event) *Channel        { return ev.Channel }
func eventReplaceChannel(ev *Event) *Channel { return ev.ReplaceChannel }
func eventCaller(ev *Event) *Channel         { return ev.Caller }
func eventPeer(ev *Event) *Channel           { return ev.Peer }
func eventForwarded(ev *Event) *Channel      { return ev.Forwarded }
func eventBridge(ev *Event) *Bridge          { return ev.Bridge }
func eventPlayback(ev *Event) *Playback      { return ev.Playback }

var channelRelated = map[string][]func(*Event) *Channel{
	"ChannelCreated":         {eventChannel},
	"ChannelDestroyed":       {eventChannel},
	"ChannelEnteredBridge":   {eventChannel},
	"ChannelLeftBridge":      {eventChannel},
	"ChannelStateChange":     {eventChannel},
	"ChannelDtmfReceived":    {eventChannel},
	"ChannelDialplan":        {eventChannel},
	"ChannelCallerId":        {eventChannel},
	"ChannelHangupRequest":   {eventChannel},
	"ChannelVarset":          {eventChannel},
	"ChannelHold":            {eventChannel},
	"ChannelUnhold":          {eventChannel},
	"ChannelTalkingStarted":  {eventChannel},
	"ChannelTalkingFinished": {eventChannel},
	"ChannelConnectedLine":   {eventChannel},
	"Dial":                   {eventCaller, eventPeer, eventForwarded},
	"StasisStart":            {eventChannel, eventReplaceChannel},
	"StasisEnd":              {eventChannel},
}

var channelFinish = map[string][]func(*Event) *Channel{
	"ChannelDestroyed": {eventChannel},
	"StasisEnd":        {eventChannel},
}

var bridgeRelated = map[string][]func(*Event) *Bridge{
	"BridgeCreated":        {eventBridge},
	"BridgeDestroyed":      {eventBridge},
	"BridgeMerged":         {eventBridge},
	"ChannelEnteredBridge": {eventBridge},
	"ChannelLeftBridge":    {eventBridge},
	"ChannelUserevent":     {eventBridge},
}

var bridgeFinish = map[string][]func(*Event) *Bridge{
	"BridgeDestroyed": {eventBridge},
}

var playbackRelated = map[string][]func(*Event) *Playback{
	"PlaybackStarted":    {eventPlayback},
	"PlaybackContinuing": {eventPlayback},
	"PlaybackFinished":   {eventPlayback},
}

var playbackFinish = map[string][]func(*Event) *Playback{
	"PlaybackFinished": {eventPlayback},
}

// finishEventTypes returns every event type that evicts some entity kind.
// These are always part of the allowed set so entity lifetimes stay
// reconciled even when no callback asked for the type.
func finishEventTypes() []string {
	seen := make(map[string]struct{})
	for t := range channelFinish {
		seen[t] = struct{}{}
	}
	for t := range bridgeFinish {
		seen[t] = struct{}{}
	}
	for t := range playbackFinish {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}
