package ari

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/ariload/ariload/internal/aritest"
)

// newRESTClient builds a client without starting the event machinery; the
// REST surface is independent of it.
func newRESTClient(t *testing.T) (*Client, *aritest.Server) {
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
	return c, srv
}

func TestCreateChannel(t *testing.T) {
	c, srv := newRESTClient(t)

	ch, err := c.CreateChannel(context.Background(), "42", "PJSIP/100@trunk", "tester", nil, 0)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if ch == nil || ch.ID != "42" {
		t.Fatalf("channel = %+v, want ID 42", ch)
	}
	if _, ok := c.Channel("42"); !ok {
		t.Error("originated channel not in registry")
	}

	reqs := srv.RequestsFor(http.MethodPost, "/ari/channels/42")
	if len(reqs) != 1 {
		t.Fatalf("got %d origination requests, want 1", len(reqs))
	}
	q := reqs[0].Query
	if got := q.Get("endpoint"); got != "PJSIP/100@trunk" {
		t.Errorf("endpoint = %q", got)
	}
	if got := q.Get("app"); got != testApp {
		t.Errorf("app = %q", got)
	}
	if got := q.Get("callerId"); got != "tester" {
		t.Errorf("callerId = %q", got)
	}
	if got := q.Get("timeout"); got != "30" {
		t.Errorf("timeout = %q, want default 30", got)
	}

	var body struct {
		Variables map[string]string `json:"variables"`
	}
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Variables == nil {
		t.Error("variables object missing from body")
	}
}

func TestServerErrorReturnsError(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.Respond(http.MethodPost, "/ari/channels/42", http.StatusInternalServerError,
		map[string]string{"message": "Allocation failed"})

	ch, err := c.CreateChannel(context.Background(), "42", "PJSIP/100@trunk", "", nil, 0)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if ch != nil {
		t.Errorf("channel = %+v, want nil", ch)
	}
}

func TestFailureStatusReturnsNil(t *testing.T) {
	c, srv := newRESTClient(t)
	srv.Respond(http.MethodDelete, "/ari/channels/nope", http.StatusNotFound,
		map[string]string{"message": "Channel not found"})

	// Non-500 failures are not errors: the entity may simply be gone.
	if err := c.CloseChannel(context.Background(), "nope"); err != nil {
		t.Errorf("CloseChannel: %v", err)
	}
}

func TestStartSnoopRecordsChild(t *testing.T) {
	c, srv := newRESTClient(t)

	parent, err := c.CreateChannel(context.Background(), "42", "PJSIP/100@trunk", "", nil, 0)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	snoop, err := c.StartSnoop(context.Background(), "42", "")
	if err != nil {
		t.Fatalf("StartSnoop: %v", err)
	}
	if snoop == nil {
		t.Fatal("snoop channel is nil")
	}

	reqs := srv.RequestsFor(http.MethodPost, "/ari/channels/42/snoop")
	if len(reqs) != 1 {
		t.Fatalf("got %d snoop requests, want 1", len(reqs))
	}
	if got := reqs[0].Query.Get("spy"); got != "in" {
		t.Errorf("spy = %q, want default in", got)
	}
	if got := reqs[0].Query.Get("app"); got != testApp {
		t.Errorf("app = %q", got)
	}

	found := false
	for _, id := range parent.SnoopChannels() {
		if id == snoop.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("snoop %s not recorded on parent; have %v", snoop.ID, parent.SnoopChannels())
	}
}

func TestExternalMedia(t *testing.T) {
	c, srv := newRESTClient(t)

	ch, err := c.ExternalMedia(context.Background(), "127.0.0.1", 55444, "", "robot-1")
	if err != nil {
		t.Fatalf("ExternalMedia: %v", err)
	}
	if ch == nil || ch.ID != "robot-1" {
		t.Fatalf("channel = %+v, want ID robot-1", ch)
	}

	reqs := srv.RequestsFor(http.MethodPost, "/ari/channels/externalMedia")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	q := reqs[0].Query
	if got := q.Get("external_host"); got != "127.0.0.1:55444" {
		t.Errorf("external_host = %q", got)
	}
	if got := q.Get("format"); got != "slin16" {
		t.Errorf("format = %q, want default slin16", got)
	}
	if got := q.Get("channelId"); got != "robot-1" {
		t.Errorf("channelId = %q", got)
	}
}

func TestPlayBridge(t *testing.T) {
	c, srv := newRESTClient(t)

	pb, err := c.PlayBridge(context.Background(), "bridge-1", "sound:hello", "pb-1")
	if err != nil {
		t.Fatalf("PlayBridge: %v", err)
	}
	if pb == nil || pb.ID != "pb-1" {
		t.Fatalf("playback = %+v, want ID pb-1", pb)
	}
	if got := pb.MediaURI(); got != "sound:hello" {
		t.Errorf("MediaURI = %q", got)
	}

	reqs := srv.RequestsFor(http.MethodPost, "/ari/bridges/bridge-1/play")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if got := reqs[0].Query.Get("playbackId"); got != "pb-1" {
		t.Errorf("playbackId = %q", got)
	}
}

func TestPlaySilence(t *testing.T) {
	c, srv := newRESTClient(t)

	if _, err := c.PlaySilence(context.Background(), "bridge-1", 3); err != nil {
		t.Fatalf("PlaySilence: %v", err)
	}
	reqs := srv.RequestsFor(http.MethodPost, "/ari/bridges/bridge-1/play")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if got := reqs[0].Query.Get("media"); got != "sound:silence/3" {
		t.Errorf("media = %q", got)
	}
}

func TestAddToBridgeJoinsIDs(t *testing.T) {
	c, srv := newRESTClient(t)

	if err := c.AddToBridge(context.Background(), "bridge-1", "a", "b"); err != nil {
		t.Fatalf("AddToBridge: %v", err)
	}
	reqs := srv.RequestsFor(http.MethodPost, "/ari/bridges/bridge-1/addChannel")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if got := reqs[0].Query.Get("channel"); got != "a,b" {
		t.Errorf("channel = %q, want a,b", got)
	}
}

func TestRecordBridgeDefaults(t *testing.T) {
	c, srv := newRESTClient(t)

	if err := c.RecordBridge(context.Background(), "bridge-1", "test_abc", ""); err != nil {
		t.Fatalf("RecordBridge: %v", err)
	}
	reqs := srv.RequestsFor(http.MethodPost, "/ari/bridges/bridge-1/record")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if got := reqs[0].Query.Get("name"); got != "test_abc" {
		t.Errorf("name = %q", got)
	}
	if got := reqs[0].Query.Get("format"); got != "wav" {
		t.Errorf("format = %q, want default wav", got)
	}
}

func TestFilterEventsBody(t *testing.T) {
	c, srv := newRESTClient(t)

	if err := c.FilterEvents(context.Background(), []string{"StasisStart", "Dial"}); err != nil {
		t.Fatalf("FilterEvents: %v", err)
	}
	reqs := srv.RequestsFor(http.MethodPut, "/ari/applications/"+testApp+"/eventFilter")
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}

	var body struct {
		Allowed []map[string]string `json:"allowed"`
	}
	if err := json.Unmarshal(reqs[0].Body, &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Allowed) != 2 {
		t.Fatalf("allowed = %v", body.Allowed)
	}
	if body.Allowed[0]["type"] != "StasisStart" || body.Allowed[1]["type"] != "Dial" {
		t.Errorf("allowed = %v", body.Allowed)
	}
}
