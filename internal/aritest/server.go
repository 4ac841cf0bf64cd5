// Package aritest provides a mock ARI endpoint for tests: it records every
// REST call, serves canned or synthesized responses, and replays WebSocket
// event frames pushed by the test.
package aritest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Request is one recorded REST call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type cannedResponse struct {
	status int
	body   []byte
}

// Server is a fake Asterisk HTTP interface. REST requests hit synthesized
// defaults unless a canned response was installed with Respond; event
// frames reach the connected client via Push.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	requests []Request
	canned   map[string]cannedResponse

	connMu  sync.Mutex
	conn    *websocket.Conn
	connSig chan struct{}

	seq atomic.Int64
}

// NewServer starts the mock. Call Close when done.
func NewServer() *Server {
	s := &Server{
		canned:  make(map[string]cannedResponse),
		connSig: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ari/events", s.handleEvents)
	mux.HandleFunc("/", s.handleREST)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// Addr returns host:port of the mock, the form ari.Config.URL expects.
func (s *Server) Addr() string {
	return strings.TrimPrefix(s.httpServer.URL, "http://")
}

func (s *Server) Close() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
	s.httpServer.Close()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMu.Unlock()
	select {
	case s.connSig <- struct{}{}:
	default:
	}
	// Drain client frames so the connection stays serviced until either
	// side closes it.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// WaitConnect blocks until a WebSocket client connects (or reconnects).
func (s *Server) WaitConnect(timeout time.Duration) bool {
	select {
	case <-s.connSig:
		return true
	case <-time.After(timeout):
		return false
	}
}

// DropConnection closes the active WebSocket from the server side,
// simulating an upstream drop.
func (s *Server) DropConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Push writes one event frame to the connected client.
func (s *Server) Push(frame map[string]any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("no websocket client connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Respond installs a canned response for an exact method and path,
// overriding the synthesized default. A nil body sends an empty response.
func (s *Server) Respond(method, path string, status int, body any) {
	var data []byte
	if body != nil {
		data, _ = json.Marshal(body)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[method+" "+path] = cannedResponse{status: status, body: data}
}

// Requests returns a copy of all recorded REST calls in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsFor filters recorded calls by method and path prefix.
func (s *Server) RequestsFor(method, pathPrefix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	canned, ok := s.canned[r.Method+" "+r.URL.Path]
	s.mu.Unlock()

	if ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(canned.status)
		w.Write(canned.body)
		return
	}
	s.respondDefault(w, req)
}

// respondDefault synthesizes plausible ARI responses for the endpoints the
// client exercises, so tests only install canned responses for failures.
func (s *Server) respondDefault(w http.ResponseWriter, req Request) {
	path := req.Path
	switch {
	case req.Method == http.MethodPost && path == "/ari/bridges":
		s.writeJSON(w, http.StatusOK, BridgeJSON(fmt.Sprintf("bridge-%d", s.seq.Add(1)), req.Query.Get("name")))

	case req.Method == http.MethodPost && path == "/ari/channels/externalMedia":
		id := req.Query.Get("channelId")
		if id == "" {
			id = fmt.Sprintf("em-%d", s.seq.Add(1))
		}
		s.writeJSON(w, http.StatusOK, ChannelJSON(id, "UnicastRTP/"+req.Query.Get("external_host")))

	case req.Method == http.MethodPost && strings.HasSuffix(path, "/snoop"):
		parent := strings.TrimSuffix(strings.TrimPrefix(path, "/ari/channels/"), "/snoop")
		id := fmt.Sprintf("snoop-%d", s.seq.Add(1))
		s.writeJSON(w, http.StatusOK, ChannelJSON(id, "Snoop/"+parent))

	case req.Method == http.MethodPost && (strings.HasSuffix(path, "/play")):
		id := req.Query.Get("playbackId")
		if id == "" {
			id = fmt.Sprintf("playback-%d", s.seq.Add(1))
		}
		target := strings.TrimSuffix(strings.TrimPrefix(path, "/ari"), "/play")
		s.writeJSON(w, http.StatusCreated, PlaybackJSON(id, req.Query.Get("media"), target))

	case req.Method == http.MethodPost && strings.HasPrefix(path, "/ari/channels/") && !strings.Contains(strings.TrimPrefix(path, "/ari/channels/"), "/"):
		// Channel origination: POST /ari/channels/{id}.
		id := strings.TrimPrefix(path, "/ari/channels/")
		endpoint := req.Query.Get("endpoint")
		tech, _, _ := strings.Cut(endpoint, "/")
		if tech == "" {
			tech = "PJSIP"
		}
		s.writeJSON(w, http.StatusOK, ChannelJSON(id, tech+"/outbound-"+id))

	case req.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, []any{})

	default:
		// answer, ring, addChannel, record, moh, eventFilter, deletes.
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ChannelJSON builds an ARI channel payload.
func ChannelJSON(id, name string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         name,
		"state":        "Up",
		"caller":       map[string]string{"name": "", "number": ""},
		"connected":    map[string]string{"name": "", "number": ""},
		"accountcode":  "",
		"creationtime": "2024-01-01T00:00:00.000+0000",
		"language":     "en",
		"dialplan": map[string]any{
			"context":  "default",
			"exten":    "s",
			"priority": 1,
		},
	}
}

// BridgeJSON builds an ARI bridge payload.
func BridgeJSON(id, name string) map[string]any {
	return map[string]any{
		"id":           id,
		"technology":   "simple_bridge",
		"bridge_type":  "mixing",
		"bridge_class": "stasis",
		"creator":      "Stasis",
		"name":         name,
		"channels":     []string{},
		"creationtime": "2024-01-01T00:00:00.000+0000",
	}
}

// PlaybackJSON builds an ARI playback payload.
func PlaybackJSON(id, media, target string) map[string]any {
	return map[string]any{
		"id":         id,
		"media_uri":  media,
		"target_uri": target,
		"language":   "en",
		"state":      "playing",
	}
}

// Event builds a frame of the given type with the common envelope fields
// plus any extras the test supplies.
func Event(eventType, app string, extra map[string]any) map[string]any {
	frame := map[string]any{
		"type":        eventType,
		"application": app,
		"timestamp":   "2024-01-01T00:00:00.000+0000",
		"asterisk_id": "00:00:00:00:00:00",
	}
	for k, v := range extra {
		frame[k] = v
	}
	return frame
}
