package ari

import (
	"encoding/json"
	"strings"
	"sync"
)

// Kind identifies one of the entity classes tracked by the client.
type Kind string

const (
	KindChannel  Kind = "Channel"
	KindBridge   Kind = "Bridge"
	KindPlayback Kind = "Playback"
)

// Entity is implemented by Channel, Bridge and Playback. Per-entity
// callbacks receive the entity through this interface and type-assert to
// the concrete kind they registered for.
type Entity interface {
	EntityID() string
	EntityKind() Kind
}

// CallerID is a name/number pair as carried in channel payloads.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// DialplanCEP describes the dialplan location of a channel.
type DialplanCEP struct {
	Context  string `json:"context"`
	Exten    string `json:"exten"`
	Priority int64  `json:"priority"`
	AppName  string `json:"app_name"`
	AppData  string `json:"app_data"`
}

// channelPayload is the wire shape of an ARI channel object.
type channelPayload struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	State        string         `json:"state"`
	Caller       CallerID       `json:"caller"`
	Connected    CallerID       `json:"connected"`
	CreationTime string         `json:"creationtime"`
	Language     string         `json:"language"`
	Dialplan     DialplanCEP    `json:"dialplan"`
	AccountCode  string         `json:"accountcode"`
	ChannelVars  map[string]any `json:"channelvars"`
}

// Channel is a live call leg. Instances are canonical: all events and REST
// responses naming the same channel ID resolve to the same *Channel while
// it is registered. Mutable attributes are refreshed from the newest
// payload seen for the ID.
type Channel struct {
	ID   string
	Name string

	mu           sync.Mutex
	state        string
	caller       CallerID
	connected    CallerID
	creationTime string
	language     string
	dialplan     DialplanCEP
	accountCode  string
	channelVars  map[string]any
	raw          json.RawMessage
	snoops       []string
}

func newChannel(p *channelPayload, raw json.RawMessage) *Channel {
	return &Channel{
		ID:           p.ID,
		Name:         p.Name,
		state:        p.State,
		caller:       p.Caller,
		connected:    p.Connected,
		creationTime: p.CreationTime,
		language:     p.Language,
		dialplan:     p.Dialplan,
		accountCode:  p.AccountCode,
		channelVars:  p.ChannelVars,
		raw:          raw,
	}
}

func (ch *Channel) EntityID() string { return ch.ID }
func (ch *Channel) EntityKind() Kind { return KindChannel }

// Protocol is the channel technology prefix of Name, e.g. "PJSIP" for
// "PJSIP/trunk-00000001".
func (ch *Channel) Protocol() string {
	name, _, _ := strings.Cut(ch.Name, "/")
	return name
}

func (ch *Channel) State() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) Caller() CallerID {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.caller
}

func (ch *Channel) Connected() CallerID {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

func (ch *Channel) CreationTime() string { return ch.creationTime }
func (ch *Channel) Language() string     { return ch.language }

func (ch *Channel) Dialplan() DialplanCEP {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.dialplan
}

func (ch *Channel) AccountCode() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.accountCode
}

// Var returns the channel variable by name from the last payload that
// carried channelvars.
func (ch *Channel) Var(name string) (any, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	v, ok := ch.channelVars[name]
	return v, ok
}

// Raw returns the last-seen wire payload for this channel.
func (ch *Channel) Raw() json.RawMessage {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.raw
}

// SnoopChannels lists the IDs of snoop channels spawned from this channel.
func (ch *Channel) SnoopChannels() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, len(ch.snoops))
	copy(out, ch.snoops)
	return out
}

func (ch *Channel) addSnoop(id string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.snoops = append(ch.snoops, id)
}

// refresh applies a newer payload for the same channel ID.
func (ch *Channel) refresh(p *channelPayload, raw json.RawMessage) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.state = p.State
	ch.connected = p.Connected
	ch.dialplan = p.Dialplan
	ch.accountCode = p.AccountCode
	if p.ChannelVars != nil {
		ch.channelVars = p.ChannelVars
	}
	ch.raw = raw
}

type bridgePayload struct {
	ID           string   `json:"id"`
	Technology   string   `json:"technology"`
	BridgeType   string   `json:"bridge_type"`
	BridgeClass  string   `json:"bridge_class"`
	Creator      string   `json:"creator"`
	Name         string   `json:"name"`
	Channels     []string `json:"channels"`
	CreationTime string   `json:"creationtime"`
}

// Bridge is a media mixer connecting channels.
type Bridge struct {
	ID           string
	Technology   string
	BridgeType   string
	BridgeClass  string
	Creator      string
	Name         string
	CreationTime string

	mu         sync.Mutex
	channelIDs []string
	raw        json.RawMessage
}

func newBridge(p *bridgePayload, raw json.RawMessage) *Bridge {
	return &Bridge{
		ID:           p.ID,
		Technology:   p.Technology,
		BridgeType:   p.BridgeType,
		BridgeClass:  p.BridgeClass,
		Creator:      p.Creator,
		Name:         p.Name,
		CreationTime: p.CreationTime,
		channelIDs:   p.Channels,
		raw:          raw,
	}
}

func (b *Bridge) EntityID() string { return b.ID }
func (b *Bridge) EntityKind() Kind { return KindBridge }

// ChannelIDs returns the current member set as of the last payload.
func (b *Bridge) ChannelIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.channelIDs))
	copy(out, b.channelIDs)
	return out
}

func (b *Bridge) Raw() json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

func (b *Bridge) refresh(p *bridgePayload, raw json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channelIDs = p.Channels
	b.raw = raw
}

type playbackPayload struct {
	ID        string `json:"id"`
	MediaURI  string `json:"media_uri"`
	TargetURI string `json:"target_uri"`
	Language  string `json:"language"`
	State     string `json:"state"`
}

// Playback is a media-playing operation addressable while active.
type Playback struct {
	ID string

	mu        sync.Mutex
	mediaURI  string
	targetURI string
	language  string
	state     string
	raw       json.RawMessage
}

func newPlayback(p *playbackPayload, raw json.RawMessage) *Playback {
	return &Playback{
		ID:        p.ID,
		mediaURI:  p.MediaURI,
		targetURI: p.TargetURI,
		language:  p.Language,
		state:     p.State,
		raw:       raw,
	}
}

func (p *Playback) EntityID() string { return p.ID }
func (p *Playback) EntityKind() Kind { return KindPlayback }

func (p *Playback) MediaURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaURI
}

func (p *Playback) TargetURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.targetURI
}

func (p *Playback) Language() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.language
}

func (p *Playback) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Playback) Raw() json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raw
}

func (p *Playback) refresh(np *playbackPayload, raw json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mediaURI = np.MediaURI
	p.targetURI = np.TargetURI
	p.language = np.Language
	p.state = np.State
	p.raw = raw
}
