package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/affect"
	"github.com/maastricht-university/affect-pipeline/clients"
	cfg "github.com/maastricht-university/affect-pipeline/config"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/rules"
	"github.com/maastricht-university/affect-pipeline/store"
)

// maxAudioSeconds bounds the PCM held for one utterance.
const maxAudioSeconds = 30

// Deps are the collaborators of a Pipeline. Nil fields get defaults: no
// face detector (the facial channel cannot be enabled), the built-in
// lexicon, a fallback-only chat client and no history cache.
type Deps struct {
	Face  features.FaceDetector
	Text  *rules.TextScorer
	Chat  *clients.Chat
	HTTP  *clients.HTTP
	Store *store.Store
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// lifecycle is the input-independent control surface of a Channel.
type lifecycle interface {
	Name() Name
	State() State
	Session() Session
	Enable(ctx context.Context) error
	Disable() error
	Retry(ctx context.Context) error
	Pause() error
	Resume() error
}

// Pipeline owns the facial, vocal and text channels and fans their events
// out to subscribers.
type Pipeline struct {
	cfg   *cfg.Root
	http  *clients.HTTP
	log   logrus.FieldLogger
	store *store.Store
	chat  *clients.Chat
	text  *rules.TextScorer
	now   func() time.Time

	facial   *Channel[features.Frame]
	vocal    *Channel[AudioChunk]
	speech   *Channel[string]
	frames   *FrameBuffer
	audio    *audioBuffer
	debounce *utteranceDebouncer

	channels  map[Name]lifecycle
	recorders map[Name]recorder

	// submitMu serializes utterance and audio submissions so they queue
	// instead of colliding on a busy channel.
	submitMu sync.Mutex

	subMu     sync.RWMutex
	nextSub   int
	onReading map[int]func(Reading)
	onState   map[int]func(StateChange)
	onWarning map[int]func(Warning)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func NewPipeline(c *cfg.Root, d Deps) *Pipeline {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.HTTP == nil {
		d.HTTP = clients.NewHTTP()
	}
	if d.Text == nil {
		d.Text = rules.NewTextScorer(rules.NewDefaultLexicon(), c.Channels.Text.Bounds())
	}
	if d.Chat == nil {
		d.Chat = clients.NewChat(c.Services.Chat.URL, d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	p := &Pipeline{
		cfg:       c,
		http:      d.HTTP,
		log:       d.Log,
		store:     d.Store,
		chat:      d.Chat,
		text:      d.Text,
		now:       d.Now,
		onReading: map[int]func(Reading){},
		onState:   map[int]func(StateChange){},
		onWarning: map[int]func(Warning){},
	}
	hooks := Hooks{OnReading: p.emitReading, OnState: p.emitState, OnWarning: p.emitWarning}

	p.frames = NewFrameBuffer(facePing(d.Face))
	facial := newFacialStage(d.Face, rules.NewFacialScorer(c.Channels.Facial.Bounds()), c.Channels.Facial.Smoother(), d.Now)
	p.facial = NewChannel(ChannelConfig[features.Frame]{
		Name:        Facial,
		Resource:    p.frames,
		Detector:    facial,
		Source:      p.frames.Next,
		Interval:    c.Channels.Facial.Interval,
		SettleDelay: c.Channels.Facial.SettleDelay,
		WarnAfter:   c.Channels.Facial.WarnAfter,
		Hooks:       hooks,
		Log:         d.Log,
	})

	vocal := newVocalStage(rules.NewVocalScorer(c.Channels.Vocal.Bounds()), c.Channels.Vocal.Smoother(), d.Now)
	p.vocal = NewChannel(ChannelConfig[AudioChunk]{
		Name:        Vocal,
		Resource:    &streamResource{drop: p.dropAudio},
		Detector:    vocal,
		SettleDelay: c.Channels.Vocal.SettleDelay,
		WarnAfter:   c.Channels.Vocal.WarnAfter,
		Hooks:       hooks,
		Log:         d.Log,
	})
	p.audio = &audioBuffer{seconds: maxAudioSeconds}

	text := newTextStage(d.Text, c.Channels.Text.Smoother(), d.Now)
	p.speech = NewChannel(ChannelConfig[string]{
		Name:        Text,
		Resource:    &streamResource{drop: p.dropUtterance},
		Detector:    text,
		SettleDelay: c.Channels.Text.SettleDelay,
		WarnAfter:   c.Channels.Text.WarnAfter,
		Hooks:       hooks,
		Log:         d.Log,
	})
	p.debounce = newUtteranceDebouncer(c.Channels.Text.PauseThreshold, p.finalize)

	p.channels = map[Name]lifecycle{Facial: p.facial, Vocal: p.vocal, Text: p.speech}
	p.recorders = map[Name]recorder{Facial: facial, Vocal: vocal, Text: text}
	return p
}

func facePing(det features.FaceDetector) func(context.Context) error {
	if det == nil {
		return func(context.Context) error {
			return fmt.Errorf("no face detector configured: %w", ErrDeviceUnavailable)
		}
	}
	if p, ok := det.(pinger); ok {
		return p.Ping
	}
	return nil
}

func (p *Pipeline) channel(n Name) (lifecycle, error) {
	ch, ok := p.channels[n]
	if !ok {
		return nil, fmt.Errorf("%q: %w", n, ErrUnknownChannel)
	}
	return ch, nil
}

func (p *Pipeline) Enable(ctx context.Context, n Name) error {
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	return ch.Enable(ctx)
}

func (p *Pipeline) Disable(_ context.Context, n Name) error {
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	return ch.Disable()
}

func (p *Pipeline) Retry(ctx context.Context, n Name) error {
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	return ch.Retry(ctx)
}

func (p *Pipeline) Pause(_ context.Context, n Name) error {
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	return ch.Pause()
}

func (p *Pipeline) Resume(_ context.Context, n Name) error {
	ch, err := p.channel(n)
	if err != nil {
		return err
	}
	return ch.Resume()
}

// State returns the lifecycle state of channel n.
func (p *Pipeline) State(n Name) (State, error) {
	ch, err := p.channel(n)
	if err != nil {
		return "", err
	}
	return ch.State(), nil
}

// Session returns the current session of channel n.
func (p *Pipeline) Session(n Name) (Session, error) {
	ch, err := p.channel(n)
	if err != nil {
		return Session{}, err
	}
	return ch.Session(), nil
}

// History returns a snapshot of channel n's smoothed readings, oldest first.
func (p *Pipeline) History(n Name) []Reading {
	r, ok := p.recorders[n]
	if !ok {
		return nil
	}
	hist := r.History()
	for i := range hist {
		hist[i].Channel = n
	}
	return hist
}

// Distribution returns the category shares of channel n's history.
func (p *Pipeline) Distribution(n Name) map[string]float64 {
	r, ok := p.recorders[n]
	if !ok {
		return nil
	}
	return r.Distribution()
}

// Mood reports the latest facial emotion and the latest tone from either
// voice or text, counting only readings of the running sessions.
func (p *Pipeline) Mood() Mood {
	m := Mood{Emotion: NoReading, Tone: NoReading}
	if r, ok := p.latest(Facial); ok {
		m.Emotion, m.EmotionConfidence = r.Category, r.Confidence
	}
	var tone Reading
	for _, n := range []Name{Vocal, Text} {
		if r, ok := p.latest(n); ok && (tone.Category == "" || r.Timestamp.After(tone.Timestamp)) {
			tone = r
		}
	}
	if tone.Category != "" {
		m.Tone, m.ToneConfidence = tone.Category, tone.Confidence
	}
	return m
}

func (p *Pipeline) latest(n Name) (Reading, bool) {
	if !p.channels[n].Session().Seen {
		return Reading{}, false
	}
	return p.recorders[n].Last()
}

// Chat answers prompt, passing the current mood to the chat service.
func (p *Pipeline) Chat(ctx context.Context, prompt string) clients.ChatReply {
	m := p.Mood()
	req := clients.ChatReq{Prompt: prompt}
	if m.Emotion != NoReading {
		req.Emotion = m.Emotion
	}
	if m.Tone != NoReading {
		req.Tone = m.Tone
	}
	return p.chat.Reply(ctx, req)
}

// SetLexicon swaps the text channel's lexicon.
func (p *Pipeline) SetLexicon(lex *affect.Lexicon[affect.Tone]) { p.text.SetLexicon(lex) }

// TextScorer returns the scorer used by the text channel.
func (p *Pipeline) TextScorer() *rules.TextScorer { return p.text }

// PushFrame hands a camera frame to the facial channel.
func (p *Pipeline) PushFrame(f features.Frame) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = p.now()
	}
	if !p.frames.Push(f) {
		return fmt.Errorf("%s: %w", Facial, ErrNotActive)
	}
	return nil
}

// PushTranscript feeds a recognizer result to the utterance debouncer.
func (p *Pipeline) PushTranscript(ev TranscriptEvent) error {
	if p.speech.State() != StateActive {
		return fmt.Errorf("%s: %w", Text, ErrNotActive)
	}
	p.debounce.Push(ev)
	return nil
}

// PushAudio buffers PCM for the vocal channel until the next utterance
// boundary or FlushAudio.
func (p *Pipeline) PushAudio(c AudioChunk) error {
	if c.SampleRate <= 0 {
		return features.ErrInvalidSampleRate
	}
	if p.vocal.State() != StateActive {
		return fmt.Errorf("%s: %w", Vocal, ErrNotActive)
	}
	p.audio.push(c)
	return nil
}

// FlushAudio scores the buffered audio now.
func (p *Pipeline) FlushAudio() error {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	return p.flushAudio()
}

func (p *Pipeline) flushAudio() error {
	c, ok := p.audio.flush()
	if !ok {
		return nil
	}
	return p.vocal.Submit(c)
}

// finalize runs both speech channels on a finished utterance.
func (p *Pipeline) finalize(ev TranscriptEvent) {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	entry := p.log.WithField("utterance", ev.Text)
	if err := p.speech.Submit(ev.Text); err != nil && !errors.Is(err, ErrNotActive) {
		entry.WithError(err).Warn("text tick not run")
	}
	if err := p.flushAudio(); err != nil && !errors.Is(err, ErrNotActive) {
		entry.WithError(err).Warn("vocal tick not run")
	}
}

// dropUtterance forgets a transcript still waiting for its pause when the
// text channel is released.
func (p *Pipeline) dropUtterance() { p.debounce.Reset() }

// dropAudio discards PCM of the vocal session being released. It waits for
// a submission in progress, so nothing buffered before the release reaches
// a later session.
func (p *Pipeline) dropAudio() {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()
	p.audio.flush()
}

// OnObservation subscribes fn to every emitted reading. The returned func
// unsubscribes.
func (p *Pipeline) OnObservation(fn func(Reading)) (cancel func()) {
	return subscribe(p, p.onReading, fn)
}

func (p *Pipeline) OnStateChange(fn func(StateChange)) (cancel func()) {
	return subscribe(p, p.onState, fn)
}

func (p *Pipeline) OnWarning(fn func(Warning)) (cancel func()) {
	return subscribe(p, p.onWarning, fn)
}

func subscribe[T any](p *Pipeline, subs map[int]func(T), fn func(T)) func() {
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	subs[id] = fn
	p.subMu.Unlock()
	return func() {
		p.subMu.Lock()
		delete(subs, id)
		p.subMu.Unlock()
	}
}

func fanout[T any](p *Pipeline, subs map[int]func(T), v T) {
	p.subMu.RLock()
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), len(ids))
	for i, id := range ids {
		fns[i] = subs[id]
	}
	p.subMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (p *Pipeline) emitReading(r Reading) { fanout(p, p.onReading, r) }
func (p *Pipeline) emitState(s StateChange) { fanout(p, p.onState, s) }
func (p *Pipeline) emitWarning(w Warning) { fanout(p, p.onWarning, w) }

// Restore seeds empty channel histories from the cache.
func (p *Pipeline) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	for _, n := range Names {
		var hist []Reading
		_, err := p.store.LoadHistory(ctx, string(n), &hist)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("restore %s: %w", n, err)
		}
		p.recorders[n].restore(hist)
		p.log.WithFields(logrus.Fields{"channel": n, "readings": len(hist)}).Info("history restored")
	}
	return nil
}

// Shutdown disables every channel and snapshots their histories to the
// cache.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.debounce.Stop()
	var errs []error
	for _, n := range Names {
		if err := p.channels[n].Disable(); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", n, err))
		}
	}
	if p.store != nil {
		for _, n := range Names {
			if err := p.store.SaveHistory(ctx, string(n), p.History(n)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
