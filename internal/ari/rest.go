package ari

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultOriginateTimeout = 30
	defaultRecordFormat     = "wav"
	defaultMediaFormat      = "slin16"
)

// request issues one authenticated REST call. Status policy:
// 200/201 with a body return the parsed JSON; any other 2xx (or an empty
// body) returns nil without error; 500 returns an error carrying the
// path, status and body; remaining statuses return nil and are logged at
// debug, leaving the decision to the caller.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := "http://" + c.cfg.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	switch {
	case (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated) && len(data) > 0:
		return data, nil
	case resp.StatusCode == http.StatusInternalServerError:
		return nil, fmt.Errorf("%s %s: status %s: %s", method, path, resp.Status, data)
	default:
		c.logger.Debug("ari response without payload",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return nil, nil
	}
}

// Channels lists all active channels.
func (c *Client) Channels(ctx context.Context) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, "/ari/channels", nil, nil)
}

// CreateChannel originates an outbound call with a caller-chosen channel
// ID. endpoint is a dial string such as "PJSIP/100@trunk". timeout <= 0
// means 30 seconds. The returned channel is canonical in the registry; it
// is nil when Asterisk answered with a non-500 failure status.
func (c *Client) CreateChannel(ctx context.Context, channelID, endpoint, callerID string, variables map[string]string, timeout int) (*Channel, error) {
	if timeout <= 0 {
		timeout = defaultOriginateTimeout
	}
	q := url.Values{
		"endpoint": {endpoint},
		"app":      {c.cfg.Application},
		"callerId": {callerID},
		"timeout":  {strconv.Itoa(timeout)},
	}
	if variables == nil {
		variables = map[string]string{}
	}
	body := map[string]any{"variables": variables}
	raw, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID, q, body)
	if err != nil || raw == nil {
		return nil, err
	}
	return c.reg.channelFromJSON(raw)
}

// RecordChannel starts recording a channel. Empty format means wav.
func (c *Client) RecordChannel(ctx context.Context, channelID, name, format string) error {
	if format == "" {
		format = defaultRecordFormat
	}
	q := url.Values{"name": {name}, "format": {format}}
	_, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID+"/record", q, nil)
	return err
}

// PlayChannel starts media playback on a channel. playbackID may be empty
// to let Asterisk assign one; passing it lets the caller register
// per-playback callbacks before the request is issued.
func (c *Client) PlayChannel(ctx context.Context, channelID, media, playbackID string) (*Playback, error) {
	q := url.Values{"media": {media}}
	if playbackID != "" {
		q.Set("playbackId", playbackID)
	}
	raw, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID+"/play", q, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	return c.reg.playbackFromJSON(raw)
}

// RingChannel signals ringing to a channel.
func (c *Client) RingChannel(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID+"/ring", nil, nil)
	return err
}

// StopRingChannel stops the ringing indication.
func (c *Client) StopRingChannel(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/ari/channels/"+channelID+"/ring", nil, nil)
	return err
}

// CloseChannel hangs up and deletes a channel.
func (c *Client) CloseChannel(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/ari/channels/"+channelID, nil, nil)
	return err
}

// ExternalMedia starts an external media pseudo-channel streaming to
// host:port. Empty format means slin16; channelID may pre-declare the
// channel's ID so callbacks can be scoped before it exists.
func (c *Client) ExternalMedia(ctx context.Context, host string, port int, format, channelID string) (*Channel, error) {
	if format == "" {
		format = defaultMediaFormat
	}
	q := url.Values{
		"external_host": {fmt.Sprintf("%s:%d", host, port)},
		"app":           {c.cfg.Application},
		"format":        {format},
	}
	if channelID != "" {
		q.Set("channelId", channelID)
	}
	raw, err := c.request(ctx, http.MethodPost, "/ari/channels/externalMedia", q, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	return c.reg.channelFromJSON(raw)
}

// StartSnoop spawns a listen-only snoop channel on channelID. Empty
// direction means "in". The snoop child is recorded on the parent channel
// when the parent is live.
func (c *Client) StartSnoop(ctx context.Context, channelID, direction string) (*Channel, error) {
	if direction == "" {
		direction = "in"
	}
	q := url.Values{
		"app": {c.cfg.Application},
		"spy": {direction},
	}
	raw, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID+"/snoop", q, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	snoop, err := c.reg.channelFromJSON(raw)
	if err != nil {
		return nil, err
	}
	if parent, ok := c.reg.channel(channelID); ok {
		parent.addSnoop(snoop.ID)
	}
	return snoop, nil
}

// Answer answers a channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	_, err := c.request(ctx, http.MethodPost, "/ari/channels/"+channelID+"/answer", nil, nil)
	return err
}

// Bridges lists all active bridges.
func (c *Client) Bridges(ctx context.Context) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, "/ari/bridges", nil, nil)
}

// CreateBridge creates a mixing bridge. name may be empty.
func (c *Client) CreateBridge(ctx context.Context, name string) (*Bridge, error) {
	var q url.Values
	if name != "" {
		q = url.Values{"name": {name}}
	}
	raw, err := c.request(ctx, http.MethodPost, "/ari/bridges", q, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	return c.reg.bridgeFromJSON(raw)
}

// CloseBridge destroys a bridge.
func (c *Client) CloseBridge(ctx context.Context, bridgeID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/ari/bridges/"+bridgeID, nil, nil)
	return err
}

// StartMOH starts music-on-hold on a bridge with the given class.
func (c *Client) StartMOH(ctx context.Context, bridgeID, mohClass string) error {
	q := url.Values{"mohClass": {mohClass}}
	_, err := c.request(ctx, http.MethodPost, "/ari/bridges/"+bridgeID+"/moh", q, nil)
	return err
}

// StopMOH stops music-on-hold on a bridge.
func (c *Client) StopMOH(ctx context.Context, bridgeID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/ari/bridges/"+bridgeID+"/moh", nil, nil)
	return err
}

// AddToBridge adds channels to a bridge.
func (c *Client) AddToBridge(ctx context.Context, bridgeID string, channelIDs ...string) error {
	q := url.Values{"channel": {strings.Join(channelIDs, ",")}}
	_, err := c.request(ctx, http.MethodPost, "/ari/bridges/"+bridgeID+"/addChannel", q, nil)
	return err
}

// RemoveFromBridge removes channels from a bridge.
func (c *Client) RemoveFromBridge(ctx context.Context, bridgeID string, channelIDs ...string) error {
	q := url.Values{"channel": {strings.Join(channelIDs, ",")}}
	_, err := c.request(ctx, http.MethodPost, "/ari/bridges/"+bridgeID+"/removeChannel", q, nil)
	return err
}

// RecordBridge starts recording a bridge. Empty format means wav.
func (c *Client) RecordBridge(ctx context.Context, bridgeID, name, format string) error {
	if format == "" {
		format = defaultRecordFormat
	}
	q := url.Values{"name": {name}, "format": {format}}
	_, err := c.request(ctx, http.MethodPost, "/ari/bridges/"+bridgeID+"/record", q, nil)
	return err
}

// PlayBridge starts media playback on a bridge. See PlayChannel for the
// playbackID contract.
func (c *Client) PlayBridge(ctx context.Context, bridgeID, media, playbackID string) (*Playback, error) {
	q := url.Values{"media": {media}}
	if playbackID != "" {
		q.Set("playbackId", playbackID)
	}
	raw, err := c.request(ctx, http.MethodPost, "/ari/bridges/"+bridgeID+"/play", q, nil)
	if err != nil || raw == nil {
		return nil, err
	}
	return c.reg.playbackFromJSON(raw)
}

// PlaySilence plays the given number of seconds of silence on a bridge.
func (c *Client) PlaySilence(ctx context.Context, bridgeID string, seconds int) (*Playback, error) {
	return c.PlayBridge(ctx, bridgeID, fmt.Sprintf("sound:silence/%d", seconds), "")
}

// ClosePlayback stops and removes a playback.
func (c *Client) ClosePlayback(ctx context.Context, playbackID string) error {
	_, err := c.request(ctx, http.MethodDelete, "/ari/playbacks/"+playbackID, nil, nil)
	return err
}

// ControlPlayback applies a control operation to a playback: one of
// restart, pause, unpause, reverse or forward.
func (c *Client) ControlPlayback(ctx context.Context, playbackID, operation string) error {
	q := url.Values{"operation": {operation}}
	_, err := c.request(ctx, http.MethodPost, "/ari/playbacks/"+playbackID+"/control", q, nil)
	return err
}

// FilterEvents replaces the application's allowed-event filter upstream.
func (c *Client) FilterEvents(ctx context.Context, types []string) error {
	allowed := make([]map[string]string, 0, len(types))
	for _, t := range types {
		allowed = append(allowed, map[string]string{"type": t})
	}
	body := map[string]any{"allowed": allowed}
	path := "/ari/applications/" + c.cfg.Application + "/eventFilter"
	_, err := c.request(ctx, http.MethodPut, path, nil, body)
	return err
}

// ListApps lists the Stasis applications registered with Asterisk.
func (c *Client) ListApps(ctx context.Context) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, "/ari/applications", nil, nil)
}
