// Package sink carries pipeline events to the outside: a websocket hub for
// the live UI and a NATS publisher for other services.
package sink

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/clients"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 20
	sendBuffer     = 64
)

// Pipeline is what the hub drives.
type Pipeline interface {
	Enable(ctx context.Context, n orchestrator.Name) error
	Disable(ctx context.Context, n orchestrator.Name) error
	Retry(ctx context.Context, n orchestrator.Name) error
	Pause(ctx context.Context, n orchestrator.Name) error
	Resume(ctx context.Context, n orchestrator.Name) error
	State(n orchestrator.Name) (orchestrator.State, error)
	Mood() orchestrator.Mood

	PushFrame(f features.Frame) error
	PushTranscript(ev orchestrator.TranscriptEvent) error
	PushAudio(c orchestrator.AudioChunk) error
	FlushAudio() error
	Chat(ctx context.Context, prompt string) clients.ChatReply

	OnObservation(fn func(orchestrator.Reading)) (cancel func())
	OnStateChange(fn func(orchestrator.StateChange)) (cancel func())
	OnWarning(fn func(orchestrator.Warning)) (cancel func())
}

// Inbound is a message from a websocket client. Type selects which of the
// other fields are read.
type Inbound struct {
	Type string `json:"type"` // frame | transcript | audio | control | chat

	// frame: base64 JPEG or PNG.
	Image  string `json:"image,omitempty"`
	Format string `json:"format,omitempty"`

	// transcript
	Text       string  `json:"text,omitempty"`
	Final      bool    `json:"final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// audio: base64 little-endian float32 mono PCM. Final scores the
	// buffered audio right away.
	PCM        string `json:"pcm,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// control
	Action  string `json:"action,omitempty"` // enable | disable | retry | pause | resume
	Channel string `json:"channel,omitempty"`

	// chat
	Prompt string `json:"prompt,omitempty"`
}

// StateMsg is a channel transition with its error as text.
type StateMsg struct {
	orchestrator.StateChange
	Error string `json:"error,omitempty"`
}

// WarningMsg is a failure-streak warning with its error as text.
type WarningMsg struct {
	orchestrator.Warning
	Error string `json:"error,omitempty"`
}

// Outbound is a message to websocket clients.
type Outbound struct {
	Type        string                `json:"type"` // observation | state | warning | reply | error
	Observation *orchestrator.Reading `json:"observation,omitempty"`
	State       *StateMsg             `json:"state,omitempty"`
	Warning     *WarningMsg           `json:"warning,omitempty"`
	Reply       *clients.ChatReply    `json:"reply,omitempty"`
	Mood        *orchestrator.Mood    `json:"mood,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

// Hub serves the websocket endpoint and broadcasts pipeline events to every
// connected client.
type Hub struct {
	p        Pipeline
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	unsub    []func()

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub subscribes a hub to p.
func NewHub(p Pipeline, log logrus.FieldLogger) *Hub {
	h := &Hub{
		p:   p,
		log: log.WithField("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	h.unsub = []func(){
		p.OnObservation(func(r orchestrator.Reading) {
			h.broadcast(Outbound{Type: "observation", Observation: &r})
		}),
		p.OnStateChange(func(s orchestrator.StateChange) {
			msg := &StateMsg{StateChange: s}
			if s.Err != nil {
				msg.Error = s.Err.Error()
			}
			h.broadcast(Outbound{Type: "state", State: msg})
		}),
		p.OnWarning(func(w orchestrator.Warning) {
			msg := &WarningMsg{Warning: w}
			if w.Err != nil {
				msg.Error = w.Err.Error()
			}
			h.broadcast(Outbound{Type: "warning", Warning: msg})
		}),
	}
	return h
}

// Handler returns the hub's routes: /ws and /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	states := map[orchestrator.Name]orchestrator.State{}
	for _, n := range orchestrator.Names {
		if s, err := h.p.State(n); err == nil {
			states[n] = s
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"channels": states,
		"mood":     h.p.Mood(),
	})
}

// ServeHTTP upgrades the request and serves one client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": n}).Info("client connected")

	go h.writePump(c)
	h.readPump(r.Context(), c)

	h.drop(c)
	h.log.WithField("remote", r.RemoteAddr).Info("client disconnected")
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Warn("websocket read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		reply, err := h.handle(ctx, msg)
		if err != nil {
			h.log.WithError(err).WithField("type", msg.Type).Debug("message rejected")
			reply = &Outbound{Type: "error", Error: err.Error()}
		}
		if reply != nil {
			h.unicast(c, *reply)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle applies one inbound message and returns the direct reply, if any.
func (h *Hub) handle(ctx context.Context, msg Inbound) (*Outbound, error) {
	switch msg.Type {
	case "frame":
		data, err := base64.StdEncoding.DecodeString(msg.Image)
		if err != nil {
			return nil, fmt.Errorf("frame: %w", err)
		}
		return nil, h.p.PushFrame(features.Frame{Data: data, Format: msg.Format, Timestamp: time.Now()})

	case "transcript":
		return nil, h.p.PushTranscript(orchestrator.TranscriptEvent{
			Text:       msg.Text,
			Final:      msg.Final,
			Confidence: msg.Confidence,
		})

	case "audio":
		samples, err := DecodePCM(msg.PCM)
		if err != nil {
			return nil, fmt.Errorf("audio: %w", err)
		}
		if len(samples) > 0 {
			if err := h.p.PushAudio(orchestrator.AudioChunk{Samples: samples, SampleRate: msg.SampleRate}); err != nil {
				return nil, err
			}
		}
		if msg.Final {
			return nil, h.p.FlushAudio()
		}
		return nil, nil

	case "control":
		return nil, h.control(ctx, msg.Action, orchestrator.Name(msg.Channel))

	case "chat":
		reply := h.p.Chat(ctx, msg.Prompt)
		mood := h.p.Mood()
		return &Outbound{Type: "reply", Reply: &reply, Mood: &mood}, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (h *Hub) control(ctx context.Context, action string, n orchestrator.Name) error {
	switch action {
	case "enable":
		return h.p.Enable(ctx, n)
	case "disable":
		return h.p.Disable(ctx, n)
	case "retry":
		return h.p.Retry(ctx, n)
	case "pause":
		return h.p.Pause(ctx, n)
	case "resume":
		return h.p.Resume(ctx, n)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// DecodePCM decodes base64 little-endian float32 samples.
func DecodePCM(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, errors.New("pcm length is not a multiple of 4 bytes")
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}

// EncodePCM is the inverse of DecodePCM.
func EncodePCM(samples []float32) string {
	raw := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func (h *Hub) broadcast(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("encode broadcast")
		return
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("dropping slow websocket client")
		h.drop(c)
	}
}

func (h *Hub) unicast(c *client, msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("encode reply")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn("reply dropped: client send buffer full")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the pipeline and disconnects every client.
func (h *Hub) Close() error {
	for _, cancel := range h.unsub {
		cancel()
	}
	h.mu.Lock()
	h.closed = true
	cs := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()
	for _, c := range cs {
		c.close()
	}
	return nil
}
