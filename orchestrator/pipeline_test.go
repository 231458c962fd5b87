package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/affect-pipeline/clients"
	cfg "github.com/maastricht-university/affect-pipeline/config"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/rules"
	"github.com/maastricht-university/affect-pipeline/store"
)

func testConfig() *cfg.Root {
	c := cfg.Default()
	c.Channels.Facial.Interval = 5 * time.Millisecond
	for _, ch := range []*cfg.Channel{&c.Channels.Facial, &c.Channels.Vocal, &c.Channels.Text} {
		ch.SettleDelay = time.Millisecond
		ch.PauseThreshold = 20 * time.Millisecond
	}
	return c
}

func newTestTextScorer() *rules.TextScorer {
	return rules.NewTextScorer(rules.NewDefaultLexicon(), testConfig().Channels.Text.Bounds())
}

type stubFace struct {
	mu      sync.Mutex
	det     *features.Detection
	pingErr error
}

func (s *stubFace) Detect(context.Context, features.Frame) (*features.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det, nil
}

func (s *stubFace) Ping(context.Context) error { return s.pingErr }

func newTestPipeline(t *testing.T, c *cfg.Root, d Deps) *Pipeline {
	t.Helper()
	log, _ := test.NewNullLogger()
	d.Log = log
	p := NewPipeline(c, d)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

type sink struct {
	mu       sync.Mutex
	readings []Reading
}

func (s *sink) add(r Reading) {
	s.mu.Lock()
	s.readings = append(s.readings, r)
	s.mu.Unlock()
}

func (s *sink) list() []Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reading(nil), s.readings...)
}

func TestPipeline_TextUtterance(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	p.OnObservation(got.add)

	assert.ErrorIs(t, p.PushTranscript(TranscriptEvent{Text: "hello", Final: true}), ErrNotActive)
	require.NoError(t, p.Enable(context.Background(), Text))
	assert.Equal(t, Mood{Emotion: NoReading, Tone: NoReading}, p.Mood())

	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I am SO angry!!! This is terrible and unfair!!", Final: true}))
	rs := got.list()
	require.Len(t, rs, 1)
	assert.Equal(t, Text, rs[0].Channel)
	assert.Equal(t, "angry", rs[0].Category)
	assert.GreaterOrEqual(t, rs[0].Confidence, 0.7)

	m := p.Mood()
	assert.Equal(t, NoReading, m.Emotion)
	assert.Equal(t, "angry", m.Tone)

	hist := p.History(Text)
	require.Len(t, hist, 1)
	assert.Equal(t, rs[0].Category, hist[0].Category)
	assert.Equal(t, Text, hist[0].Channel)
	assert.Equal(t, 1.0, p.Distribution(Text)["angry"])
}

func TestPipeline_InterimTranscriptsAreDebounced(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	p.OnObservation(got.add)
	require.NoError(t, p.Enable(context.Background(), Text))

	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i feel"}))
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i feel calm and relaxed today"}))
	require.Eventually(t, func() bool { return len(got.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "calm", got.list()[0].Category)
}

func TestPipeline_FacialFrames(t *testing.T) {
	face := &stubFace{det: &features.Detection{Expressions: map[string]float64{"happy": 0.9, "sad": 0.05}}}
	p := newTestPipeline(t, testConfig(), Deps{Face: face})
	var got sink
	p.OnObservation(got.add)

	assert.ErrorIs(t, p.PushFrame(features.Frame{Data: []byte{1}}), ErrNotActive)
	require.NoError(t, p.Enable(context.Background(), Facial))
	require.NoError(t, p.PushFrame(features.Frame{Data: []byte{1}, Format: "jpeg"}))

	require.Eventually(t, func() bool { return len(got.list()) == 1 }, time.Second, 5*time.Millisecond)
	r := got.list()[0]
	assert.Equal(t, Facial, r.Channel)
	assert.Equal(t, "happy", r.Category)
	assert.Equal(t, "happy", p.Mood().Emotion)

	// A frame is consumed once.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, got.list(), 1)

	require.NoError(t, p.Disable(context.Background(), Facial))
	assert.Equal(t, NoReading, p.Mood().Emotion)
	assert.Len(t, p.History(Facial), 1)
}

func TestPipeline_FacialAcquireErrors(t *testing.T) {
	tests := []struct {
		name string
		face features.FaceDetector
		kind ErrorKind
	}{
		{name: "no detector", kind: KindDeviceUnavailable},
		{name: "unauthorized", face: &stubFace{pingErr: clients.ErrUnauthorized}, kind: KindPermissionDenied},
		{name: "service down", face: &stubFace{pingErr: clients.ErrUnavailable}, kind: KindDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, testConfig(), Deps{Face: tt.face})
			var changes []StateChange
			var mu sync.Mutex
			p.OnStateChange(func(s StateChange) { mu.Lock(); changes = append(changes, s); mu.Unlock() })

			err := p.Enable(context.Background(), Facial)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			st, err := p.State(Facial)
			require.NoError(t, err)
			assert.Equal(t, StateStopped, st)

			mu.Lock()
			defer mu.Unlock()
			require.NotEmpty(t, changes)
			assert.Equal(t, tt.kind, changes[len(changes)-1].Kind)
		})
	}
}

func TestPipeline_VocalSilenceIsNeutral(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	p.OnObservation(got.add)
	require.NoError(t, p.Enable(context.Background(), Vocal))

	assert.ErrorIs(t, p.PushAudio(AudioChunk{Samples: make([]float32, 10)}), features.ErrInvalidSampleRate)
	require.NoError(t, p.PushAudio(AudioChunk{Samples: make([]float32, 8000), SampleRate: 16000}))
	require.NoError(t, p.PushAudio(AudioChunk{Samples: make([]float32, 8000), SampleRate: 16000}))
	require.NoError(t, p.FlushAudio())

	rs := got.list()
	require.Len(t, rs, 1)
	assert.Equal(t, Vocal, rs[0].Channel)
	assert.Equal(t, "neutral", rs[0].Category)
	assert.Equal(t, 0.5, rs[0].Confidence)

	// Nothing buffered: nothing to score.
	require.NoError(t, p.FlushAudio())
	assert.Len(t, got.list(), 1)
}

func TestPipeline_UtteranceFlushesAudio(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	p.OnObservation(got.add)
	require.NoError(t, p.Enable(context.Background(), Text))
	require.NoError(t, p.Enable(context.Background(), Vocal))

	require.NoError(t, p.PushAudio(AudioChunk{Samples: make([]float32, 16000), SampleRate: 16000}))
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "the bus leaves at nine", Final: true}))

	rs := got.list()
	require.Len(t, rs, 2)
	assert.ElementsMatch(t, []Name{Text, Vocal}, []Name{rs[0].Channel, rs[1].Channel})
}

func sine(n, rate int, hz float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate)))
	}
	return out
}

// Input buffered before a disable or retry must never surface in the next
// session of the channel.
func TestPipeline_DisableDropsPendingInput(t *testing.T) {
	face := &stubFace{det: &features.Detection{Expressions: map[string]float64{"happy": 0.9}}}

	tests := []struct {
		name    string
		channel Name
		setup   func(c *cfg.Root)
		push    func(t *testing.T, p *Pipeline)
		restart func(ctx context.Context, p *Pipeline, n Name) error
		after   func(t *testing.T, p *Pipeline)
	}{
		{
			name:    "text interim across disable",
			channel: Text,
			setup:   func(c *cfg.Root) { c.Channels.Text.PauseThreshold = 150 * time.Millisecond },
			push: func(t *testing.T, p *Pipeline) {
				require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I am so furious and angry"}))
			},
			restart: disableThenEnable,
		},
		{
			name:    "text interim across retry",
			channel: Text,
			setup:   func(c *cfg.Root) { c.Channels.Text.PauseThreshold = 150 * time.Millisecond },
			push: func(t *testing.T, p *Pipeline) {
				require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I am so furious and angry"}))
			},
			restart: func(ctx context.Context, p *Pipeline, n Name) error { return p.Retry(ctx, n) },
		},
		{
			name:    "buffered audio",
			channel: Vocal,
			push: func(t *testing.T, p *Pipeline) {
				require.NoError(t, p.PushAudio(AudioChunk{Samples: sine(16000, 16000, 150), SampleRate: 16000}))
			},
			restart: disableThenEnable,
			after: func(t *testing.T, p *Pipeline) {
				assert.Zero(t, p.audio.buffered())
				require.NoError(t, p.FlushAudio())
			},
		},
		{
			name:    "pending frame",
			channel: Facial,
			setup:   func(c *cfg.Root) { c.Channels.Facial.Interval = 150 * time.Millisecond },
			push: func(t *testing.T, p *Pipeline) {
				require.NoError(t, p.PushFrame(features.Frame{Data: []byte{1}}))
			},
			restart: disableThenEnable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			if tt.setup != nil {
				tt.setup(c)
			}
			p := newTestPipeline(t, c, Deps{Face: face})
			ctx := context.Background()
			require.NoError(t, p.Enable(ctx, tt.channel))
			old, err := p.Session(tt.channel)
			require.NoError(t, err)

			var got sink
			p.OnObservation(got.add)
			tt.push(t, p)
			require.NoError(t, tt.restart(ctx, p, tt.channel))

			cur, err := p.Session(tt.channel)
			require.NoError(t, err)
			require.NotEqual(t, old.ID, cur.ID)
			if tt.after != nil {
				tt.after(t, p)
			}

			time.Sleep(400 * time.Millisecond)
			assert.Empty(t, got.list())
			assert.Empty(t, p.History(tt.channel))
		})
	}
}

func disableThenEnable(ctx context.Context, p *Pipeline, n Name) error {
	if err := p.Disable(ctx, n); err != nil {
		return err
	}
	return p.Enable(ctx, n)
}

func TestPipeline_NewInputAfterReenableIsScored(t *testing.T) {
	c := testConfig()
	p := newTestPipeline(t, c, Deps{})
	var got sink
	p.OnObservation(got.add)
	ctx := context.Background()

	require.NoError(t, p.Enable(ctx, Text))
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I am so furious and angry"}))
	require.NoError(t, disableThenEnable(ctx, p, Text))

	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i feel calm and relaxed today"}))
	require.Eventually(t, func() bool { return len(got.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "calm", got.list()[0].Category)
}

func TestPipeline_ConcurrentUtterancesAreNotDropped(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	p.OnObservation(got.add)
	require.NoError(t, p.Enable(context.Background(), Text))

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I am sad and lonely", Final: true}))
		}()
	}
	wg.Wait()
	assert.Len(t, got.list(), n)
	assert.Len(t, p.History(Text), n)
}

func TestAudioBuffer_CapFollowsChunkRate(t *testing.T) {
	tests := []struct {
		name string
		rate int
	}{
		{name: "16 kHz", rate: 16000},
		{name: "48 kHz", rate: 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &audioBuffer{seconds: maxAudioSeconds}
			second := make([]float32, tt.rate)
			for range maxAudioSeconds + 5 {
				b.push(AudioChunk{Samples: second, SampleRate: tt.rate})
			}
			assert.Equal(t, maxAudioSeconds*tt.rate, b.buffered())
		})
	}
}

func TestPipeline_UnknownChannel(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	assert.ErrorIs(t, p.Enable(context.Background(), "thermal"), ErrUnknownChannel)
	assert.ErrorIs(t, p.Retry(context.Background(), "thermal"), ErrUnknownChannel)
	_, err := p.State("thermal")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Nil(t, p.History("thermal"))
}

func TestPipeline_Unsubscribe(t *testing.T) {
	p := newTestPipeline(t, testConfig(), Deps{})
	var got sink
	cancel := p.OnObservation(got.add)
	require.NoError(t, p.Enable(context.Background(), Text))

	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i am sad and angry", Final: true}))
	cancel()
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i am sad and angry", Final: true}))
	assert.Len(t, got.list(), 1)
	assert.Len(t, p.History(Text), 2)
}

func TestPipeline_ShutdownPersistsAndRestores(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "affect.db"))
	require.NoError(t, err)
	defer st.Close()

	c := testConfig()
	p := newTestPipeline(t, c, Deps{Store: st})
	require.NoError(t, p.Enable(context.Background(), Text))
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "I feel calm and relaxed today", Final: true}))
	require.NoError(t, p.Shutdown(context.Background()))
	st2, _ := p.State(Text)
	assert.Equal(t, StateStopped, st2)

	channels, err := st.HistoryChannels(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"facial", "vocal", "text"}, channels)

	q := newTestPipeline(t, c, Deps{Store: st})
	require.NoError(t, q.Restore(context.Background()))
	hist := q.History(Text)
	require.Len(t, hist, 1)
	assert.Equal(t, "calm", hist[0].Category)
	assert.Empty(t, q.History(Facial))
}

func TestPipeline_ChatFallsBackWithMood(t *testing.T) {
	var req clients.ChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testConfig()
	c.Services.Chat.URL = srv.URL
	p := newTestPipeline(t, c, Deps{})
	require.NoError(t, p.Enable(context.Background(), Text))
	require.NoError(t, p.PushTranscript(TranscriptEvent{Text: "i am sad and angry", Final: true}))

	reply := p.Chat(context.Background(), "how do I feel?")
	assert.True(t, reply.Fallback)
	assert.NotEmpty(t, reply.Content)
	assert.Equal(t, "how do I feel?", req.Prompt)
	assert.Equal(t, "sad", req.Tone)
	assert.Empty(t, req.Emotion)
}

// writeTone writes a mono 16-bit WAV: one second of a 200 Hz tone then one
// second of silence.
func writeTone(t *testing.T, path string, rate int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, 2*rate)
	for i := 0; i < rate; i++ {
		data[i] = int(0.5 * 32767 * math.Sin(2*math.Pi*200*float64(i)/float64(rate)))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestDecodeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 16000)

	p, err := decodeWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, p.rate)
	assert.Len(t, p.samples, 32000)
	assert.InDelta(t, 2.0, p.duration(), 1e-9)
	assert.InDelta(t, 0.5, float64(p.samples[20]), 0.05) // quarter period
	assert.Len(t, p.span(0.5, 1.0), 8000)
	assert.Empty(t, p.span(3, 4))

	_, err = decodeWAV(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
	bad := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(bad, []byte("not a wav"), 0o644))
	_, err = decodeWAV(bad)
	assert.Error(t, err)
}

func TestPipeline_RunOffline(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "session.wav")
	writeTone(t, wavPath, 16000)

	var radar clients.RadarReq
	var timeline clients.TimelineReq
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clients.Transcript{Segments: []clients.Segment{
			{Start: 0, End: 1, Text: "I am SO angry!!! This is terrible and unfair!!"},
			{Start: 1, End: 2, Text: "the bus leaves at nine"},
		}})
	})
	mux.HandleFunc("/generate-radar", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&radar)
		_, _ = w.Write([]byte(`{"Status":"ok"}`))
	})
	mux.HandleFunc("/generate-timeline", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&timeline)
		_, _ = w.Write([]byte(`{"Status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testConfig()
	c.Services.ASR.URL = srv.URL
	c.Services.Visualization.URL = srv.URL
	c.Paths.Outputs = filepath.Join(dir, "outputs")
	c.Features.TimeWindow = 1
	c.Features.Overlap = 0
	p := newTestPipeline(t, c, Deps{})

	sum, err := p.Run(context.Background(), wavPath)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Utterances)
	assert.Equal(t, 2, sum.Windows)
	assert.InDelta(t, 2.0, sum.Duration, 1e-9)
	assert.NotEmpty(t, sum.SessionID)
	assert.InDelta(t, 1.0, sum.Distribution["angry"]+sum.Distribution["neutral"], 1e-9)
	assert.Greater(t, sum.Distribution["angry"], 0.0)

	var windows []Window
	data, err := os.ReadFile(filepath.Join(sum.Dir, "windows.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &windows))
	require.Len(t, windows, 2)
	require.Len(t, windows[0].Utts, 1)
	require.NotNil(t, windows[0].Utts[0].Tone)
	assert.Equal(t, "angry", windows[0].Utts[0].Tone.Category)
	assert.Equal(t, 0.5, windows[0].Emotions["angry"])
	assert.Equal(t, "neutral", windows[1].Dominant)
	assert.InDelta(t, 1.0, windows[0].SpeakingShare, 1e-9)
	// The silent second has no voiced frames and is neutral.
	require.NotNil(t, windows[1].Utts[0].Vocal)
	assert.Equal(t, "neutral", windows[1].Utts[0].Vocal.Category)
	assert.Len(t, windows[0].Vector, 3+9)

	_, err = os.Stat(filepath.Join(sum.Dir, "summary.json"))
	assert.NoError(t, err)

	assert.Len(t, radar.Categories, 9)
	assert.Equal(t, sum.Dir, radar.OutputDir)
	assert.Equal(t, []float64{0, 1}, timeline.Timestamps)
	assert.Empty(t, p.History(Text))
}

func TestPipeline_RunASRUnavailable(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "session.wav")
	writeTone(t, wavPath, 8000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testConfig()
	c.Services.ASR.URL = srv.URL
	c.Paths.Outputs = filepath.Join(dir, "outputs")
	_, err := newTestPipeline(t, c, Deps{}).Run(context.Background(), wavPath)
	assert.ErrorIs(t, err, clients.ErrUnavailable)
}

func TestWindowing(t *testing.T) {
	c := testConfig()
	c.Features.TimeWindow = 10
	c.Features.Overlap = 5
	p := newTestPipeline(t, c, Deps{})

	angry := &Reading{Category: "angry", Confidence: 0.8}
	calm := &Reading{Category: "calm", Confidence: 0.6}
	utts := []Utterance{
		{Start: 0, End: 4, Tone: angry, Vocal: calm},
		{Start: 12, End: 14, Tone: calm},
	}
	ws := p.window(utts)
	require.Len(t, ws, 3) // [0,10] [5,14] [10,14]
	assert.Len(t, ws[0].Utts, 1)
	assert.Len(t, ws[1].Utts, 1)
	assert.Len(t, ws[2].Utts, 1)

	p.aggregate(&ws[0])
	assert.Equal(t, map[string]float64{"angry": 0.5, "calm": 0.5}, ws[0].Emotions)
	assert.Equal(t, "angry", ws[0].Dominant) // ties go to vocabulary order
	assert.InDelta(t, 0.7, ws[0].MeanConfidence, 1e-9)
	assert.InDelta(t, 0.4, ws[0].SpeakingShare, 1e-9)

	empty := Window{T0: 0, T1: 10}
	p.aggregate(&empty)
	assert.Equal(t, "neutral", empty.Dominant)
	assert.Empty(t, empty.Emotions)
	assert.Nil(t, p.window(nil))
}
