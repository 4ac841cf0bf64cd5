package ari

import (
	"encoding/json"
	"testing"
)

func channelPayloadJSON(id, name string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":    id,
		"name":  name,
		"state": "Up",
	})
	return data
}

func frameJSON(t *testing.T, frame map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestParseFrame(t *testing.T) {
	raw, err := parseFrame([]byte(`{"type":"StasisEnd","application":"app"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.Type != "StasisEnd" || raw.Application != "app" {
		t.Errorf("raw = %+v", raw)
	}
}

func TestParseFrameErrors(t *testing.T) {
	if _, err := parseFrame([]byte(`{"application":"app"}`)); err == nil {
		t.Error("expected error for missing type")
	}
	if _, err := parseFrame([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestMaterializeStasisStart(t *testing.T) {
	reg := newRegistry()
	data := frameJSON(t, map[string]any{
		"type":        "StasisStart",
		"application": "app",
		"args":        []string{"a", "b"},
		"channel":     json.RawMessage(channelPayloadJSON("chan-1", "PJSIP/outbound-1")),
	})
	raw, err := parseFrame(data)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	ev, err := materialize(reg, raw, data)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if ev.Channel == nil || ev.Channel.ID != "chan-1" {
		t.Fatalf("Channel = %+v", ev.Channel)
	}
	if len(ev.Args) != 2 || ev.Args[0] != "a" {
		t.Errorf("Args = %v", ev.Args)
	}
	if ch, ok := reg.channel("chan-1"); !ok || ch != ev.Channel {
		t.Error("channel not canonical in registry")
	}
}

func TestMaterializeDial(t *testing.T) {
	reg := newRegistry()
	data := frameJSON(t, map[string]any{
		"type":       "Dial",
		"dialstatus": "ANSWER",
		"caller":     json.RawMessage(channelPayloadJSON("caller-1", "PJSIP/a")),
		"peer":       json.RawMessage(channelPayloadJSON("peer-1", "PJSIP/b")),
	})
	raw, err := parseFrame(data)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	ev, err := materialize(reg, raw, data)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if ev.Peer == nil || ev.Peer.ID != "peer-1" {
		t.Errorf("Peer = %+v", ev.Peer)
	}
	if ev.Caller == nil || ev.Caller.ID != "caller-1" {
		t.Errorf("Caller = %+v", ev.Caller)
	}
	if ev.Dialstatus != "ANSWER" {
		t.Errorf("Dialstatus = %q", ev.Dialstatus)
	}
}

func TestMaterializeDialRequiresPeer(t *testing.T) {
	reg := newRegistry()
	data := frameJSON(t, map[string]any{"type": "Dial"})
	raw, _ := parseFrame(data)
	if _, err := materialize(reg, raw, data); err == nil {
		t.Error("expected error for Dial without peer")
	}
}

func TestMaterializeUnknownType(t *testing.T) {
	reg := newRegistry()
	data := []byte(`{"type":"SomethingNew"}`)
	raw, _ := parseFrame(data)
	if _, err := materialize(reg, raw, data); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestMaterializeCanonicalIdentity(t *testing.T) {
	reg := newRegistry()

	first := frameJSON(t, map[string]any{
		"type":    "ChannelCreated",
		"channel": json.RawMessage(channelPayloadJSON("chan-1", "PJSIP/x")),
	})
	raw1, _ := parseFrame(first)
	ev1, err := materialize(reg, raw1, first)
	if err != nil {
		t.Fatalf("materialize first: %v", err)
	}

	second := frameJSON(t, map[string]any{
		"type": "ChannelStateChange",
		"channel": json.RawMessage(frameJSON(t, map[string]any{
			"id": "chan-1", "name": "PJSIP/x", "state": "Ringing",
		})),
	})
	raw2, _ := parseFrame(second)
	ev2, err := materialize(reg, raw2, second)
	if err != nil {
		t.Fatalf("materialize second: %v", err)
	}

	if ev1.Channel != ev2.Channel {
		t.Error("same channel id produced distinct instances")
	}
	if got := ev2.Channel.State(); got != "Ringing" {
		t.Errorf("State = %q, want Ringing (refreshed)", got)
	}
}

func TestFinishEventTypes(t *testing.T) {
	got := make(map[string]bool)
	for _, typ := range finishEventTypes() {
		got[typ] = true
	}
	for _, want := range []string{"ChannelDestroyed", "StasisEnd", "BridgeDestroyed", "PlaybackFinished"} {
		if !got[want] {
			t.Errorf("finishEventTypes missing %s", want)
		}
	}
}
