package ari

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ariload/ariload/internal/aritest"
)

const testApp = "testapp"

func newTestClient(t *testing.T) (*Client, *aritest.Server) {
	t.Helper()
	srv := aritest.NewServer()
	t.Cleanup(srv.Close)

	c := New(Config{
		URL:         srv.Addr(),
		Username:    "user",
		Password:    "pass",
		Application: testApp,
	}, slog.Default())
	t.Cleanup(c.Close)

	c.Start()
	if !srv.WaitConnect(2 * time.Second) {
		t.Fatal("client did not connect")
	}
	return c, srv
}

func stasisStart(id, name string) map[string]any {
	return aritest.Event("StasisStart", testApp, map[string]any{
		"args":    []string{},
		"channel": aritest.ChannelJSON(id, name),
	})
}

func waitRecv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		panic("unreachable")
	}
}

func TestEventDelivery(t *testing.T) {
	c, srv := newTestClient(t)

	events := make(chan *Event, 1)
	c.OnEvent("StasisStart", func(_ *Client, ev *Event) {
		events <- ev
	})

	if err := srv.Push(stasisStart("chan-1", "PJSIP/outbound-1")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ev := waitRecv(t, events)
	if ev.Type != "StasisStart" || ev.Channel == nil || ev.Channel.ID != "chan-1" {
		t.Fatalf("delivered event = %+v", ev)
	}

	ch, ok := c.Channel("chan-1")
	if !ok {
		t.Fatal("channel not in registry after delivery")
	}
	if ch != ev.Channel {
		t.Error("registry channel is not the delivered instance")
	}
	if got := ch.Protocol(); got != "PJSIP" {
		t.Errorf("Protocol = %q, want PJSIP", got)
	}
}

func TestClassBeforeEntity(t *testing.T) {
	c, srv := newTestClient(t)

	order := make(chan string, 2)
	c.OnEvent("StasisStart", func(_ *Client, _ *Event) {
		order <- "class"
	})
	c.OnEntityEvent("StasisStart", "chan-1", func(_ *Client, _ *Event, _ Entity) {
		order <- "entity"
	})

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if got := waitRecv(t, order); got != "class" {
		t.Errorf("first callback = %q, want class", got)
	}
	if got := waitRecv(t, order); got != "entity" {
		t.Errorf("second callback = %q, want entity", got)
	}
}

func TestRegistrationVisibleFromNextEvent(t *testing.T) {
	c, srv := newTestClient(t)

	seen := make(chan string, 4)
	late := func(_ *Client, ev *Event) {
		seen <- "late:" + ev.Channel.ID
	}
	c.OnEvent("StasisStart", func(cl *Client, ev *Event) {
		seen <- "first:" + ev.Channel.ID
		cl.OnEvent("StasisStart", late)
	})

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := srv.Push(stasisStart("chan-2", "PJSIP/y")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	want := []string{"first:chan-1", "first:chan-2", "late:chan-2"}
	for _, w := range want {
		if got := waitRecv(t, seen); got != w {
			t.Fatalf("delivery = %q, want %q", got, w)
		}
	}
	select {
	case got := <-seen:
		t.Errorf("unexpected extra delivery %q", got)
	default:
	}
}

func TestFinishEviction(t *testing.T) {
	c, srv := newTestClient(t)

	starts := make(chan string, 4)
	entityHits := make(chan string, 4)
	destroys := make(chan string, 4)
	c.OnEvent("StasisStart", func(_ *Client, ev *Event) {
		starts <- ev.Channel.ID
	})
	c.OnEvent("ChannelDestroyed", func(_ *Client, ev *Event) {
		destroys <- ev.Channel.ID
	})
	c.OnEntityEvent("StasisStart", "chan-1", func(_ *Client, _ *Event, ent Entity) {
		entityHits <- ent.EntityID()
	})

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitRecv(t, starts)
	waitRecv(t, entityHits)

	if err := srv.Push(aritest.Event("ChannelDestroyed", testApp, map[string]any{
		"cause":     16,
		"cause_txt": "Normal Clearing",
		"channel":   aritest.ChannelJSON("chan-1", "PJSIP/x"),
	})); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitRecv(t, destroys)

	// The same ID arriving again builds a fresh entity with no callbacks.
	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitRecv(t, starts)
	select {
	case <-entityHits:
		t.Error("per-entity callback survived finish eviction")
	default:
	}
}

func TestEvictionRemovesFromRegistry(t *testing.T) {
	c, srv := newTestClient(t)

	done := make(chan struct{}, 2)
	c.OnEvent("StasisStart", func(_ *Client, _ *Event) { done <- struct{}{} })

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitRecv(t, done)
	if _, ok := c.Channel("chan-1"); !ok {
		t.Fatal("channel missing before destroy")
	}

	if err := srv.Push(aritest.Event("ChannelDestroyed", testApp, map[string]any{
		"channel": aritest.ChannelJSON("chan-1", "PJSIP/x"),
	})); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// A later event on the total order proves the destroy was processed.
	if err := srv.Push(stasisStart("chan-2", "PJSIP/y")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitRecv(t, done)

	if _, ok := c.Channel("chan-1"); ok {
		t.Error("channel survived ChannelDestroyed")
	}
}

func TestDisallowedEventsDropped(t *testing.T) {
	c, srv := newTestClient(t)

	events := make(chan *Event, 2)
	c.OnEvent("StasisStart", func(_ *Client, ev *Event) { events <- ev })

	// ChannelHold is not in the allowed set: the frame is dropped before
	// the queue.
	if err := srv.Push(aritest.Event("ChannelHold", testApp, map[string]any{
		"channel": aritest.ChannelJSON("chan-9", "PJSIP/h"),
	})); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ev := waitRecv(t, events)
	if ev.Channel.ID != "chan-1" {
		t.Fatalf("delivered %s, want chan-1", ev.Channel.ID)
	}
	if _, ok := c.Channel("chan-9"); ok {
		t.Error("filtered event still reached the registry")
	}
}

func TestFilterNegotiation(t *testing.T) {
	c, srv := newTestClient(t)

	path := "/ari/applications/" + testApp + "/eventFilter"
	var reqs []aritest.Request
	deadline := time.Now().Add(2 * time.Second)
	for len(reqs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no eventFilter request after connect")
		}
		reqs = srv.RequestsFor("PUT", path)
		time.Sleep(10 * time.Millisecond)
	}

	var body struct {
		Allowed []struct {
			Type string `json:"type"`
		} `json:"allowed"`
	}
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("decoding filter body: %v", err)
	}
	got := make(map[string]bool)
	for _, a := range body.Allowed {
		got[a.Type] = true
	}
	for _, want := range []string{"StasisStart", "ChannelDestroyed", "BridgeDestroyed", "PlaybackFinished"} {
		if !got[want] {
			t.Errorf("filter missing %s; got %v", want, c.AllowedEvents())
		}
	}
}

func TestReconnect(t *testing.T) {
	c, srv := newTestClient(t)

	events := make(chan *Event, 1)
	c.OnEvent("StasisStart", func(_ *Client, ev *Event) { events <- ev })

	srv.DropConnection()
	if !srv.WaitConnect(5 * time.Second) {
		t.Fatal("client did not reconnect after drop")
	}

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push after reconnect: %v", err)
	}
	ev := waitRecv(t, events)
	if ev.Channel.ID != "chan-1" {
		t.Errorf("delivered %s, want chan-1", ev.Channel.ID)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	c, srv := newTestClient(t)

	events := make(chan *Event, 1)
	c.OnEvent("StasisStart", func(_ *Client, _ *Event) {
		panic("boom")
	})
	c.OnEvent("StasisStart", func(_ *Client, ev *Event) { events <- ev })

	if err := srv.Push(stasisStart("chan-1", "PJSIP/x")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	ev := waitRecv(t, events)
	if ev.Channel.ID != "chan-1" {
		t.Errorf("second callback not reached after panic in first")
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := aritest.NewServer()
	defer srv.Close()

	c := New(Config{URL: srv.Addr(), Username: "u", Password: "p", Application: testApp}, slog.Default())
	c.Start()
	srv.WaitConnect(2 * time.Second)

	c.Close()
	c.Close()
}
