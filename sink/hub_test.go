package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/affect-pipeline/config"
	"github.com/maastricht-university/affect-pipeline/orchestrator"
)

func newHubServer(t *testing.T) (*Hub, *orchestrator.Pipeline, *websocket.Conn, string) {
	t.Helper()
	log, _ := test.NewNullLogger()
	c := config.Default()
	c.Channels.Text.SettleDelay = time.Millisecond
	p := orchestrator.NewPipeline(c, orchestrator.Deps{Log: log})
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	h := NewHub(p, log)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = h.Close() })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return h, p, conn, srv.URL
}

// next reads messages until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg Outbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHub_TextSession(t *testing.T) {
	_, p, conn, _ := newHubServer(t)

	require.NoError(t, conn.WriteJSON(Inbound{Type: "control", Action: "enable", Channel: "text"}))
	var states []orchestrator.State
	for len(states) < 3 {
		states = append(states, next(t, conn, "state").State.To)
	}
	assert.Equal(t, []orchestrator.State{orchestrator.StateLoading, orchestrator.StateReady, orchestrator.StateActive}, states)

	require.NoError(t, conn.WriteJSON(Inbound{Type: "transcript", Text: "I am SO angry!!! This is terrible and unfair!!", Final: true}))
	obs := next(t, conn, "observation").Observation
	require.NotNil(t, obs)
	assert.Equal(t, orchestrator.Text, obs.Channel)
	assert.Equal(t, "angry", obs.Category)

	require.NoError(t, conn.WriteJSON(Inbound{Type: "chat", Prompt: "hi"}))
	reply := next(t, conn, "reply")
	require.NotNil(t, reply.Reply)
	assert.True(t, reply.Reply.Fallback)
	assert.Equal(t, "angry", reply.Mood.Tone)

	require.NoError(t, conn.WriteJSON(Inbound{Type: "control", Action: "disable", Channel: "text"}))
	assert.Equal(t, orchestrator.StateStopped, next(t, conn, "state").State.To)
	assert.Len(t, p.History(orchestrator.Text), 1)
}

func TestHub_Errors(t *testing.T) {
	_, _, conn, _ := newHubServer(t)

	tests := []struct {
		name string
		msg  Inbound
		want string
	}{
		{name: "unknown type", msg: Inbound{Type: "telemetry"}, want: "unknown message type"},
		{name: "unknown action", msg: Inbound{Type: "control", Action: "reboot", Channel: "text"}, want: "unknown action"},
		{name: "unknown channel", msg: Inbound{Type: "control", Action: "enable", Channel: "thermal"}, want: "unknown channel"},
		{name: "bad frame", msg: Inbound{Type: "frame", Image: "%%%"}, want: "frame"},
		{name: "ragged pcm", msg: Inbound{Type: "audio", PCM: "AAA=", SampleRate: 16000}, want: "multiple of 4"},
		{name: "inactive channel", msg: Inbound{Type: "transcript", Text: "hello", Final: true}, want: "not active"},
		{name: "facial without detector", msg: Inbound{Type: "control", Action: "enable", Channel: "facial"}, want: "device unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.msg))
			assert.Contains(t, next(t, conn, "error").Error, tt.want)
		})
	}
}

func TestHub_Healthz(t *testing.T) {
	_, _, _, base := newHubServer(t)
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string                                    `json:"status"`
		Channels map[orchestrator.Name]orchestrator.State `json:"channels"`
		Mood     orchestrator.Mood                         `json:"mood"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, orchestrator.StateIdle, body.Channels[orchestrator.Vocal])
	assert.Equal(t, orchestrator.NoReading, body.Mood.Emotion)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h, _, conn, _ := newHubServer(t)
	require.NoError(t, h.Close())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, h.Clients())
}

func TestPCMRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -1, 0.25}
	out, err := DecodePCM(EncodePCM(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodePCM("not base64!")
	assert.Error(t, err)
}
