package orchestrator

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// utteranceDebouncer turns a stream of interim and final transcripts into
// finalized utterances. An utterance is finalized by a final result, or
// after pause without a newer interim result.
type utteranceDebouncer struct {
	pause time.Duration
	emit  func(TranscriptEvent)

	// emitting serializes emit calls with each other and with Reset, so
	// once Reset returns no utterance pushed before it is delivered.
	emitting sync.Mutex

	mu      sync.Mutex
	pending TranscriptEvent
	has     bool
	gen     uint64
	epoch   uint64
	timer   *time.Timer
	stopped bool
}

func newUtteranceDebouncer(pause time.Duration, emit func(TranscriptEvent)) *utteranceDebouncer {
	return &utteranceDebouncer{pause: pause, emit: emit}
}

// Push records ev. Empty interim results are ignored.
func (d *utteranceDebouncer) Push(ev TranscriptEvent) {
	ev.Text = preprocess(ev.Text)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if ev.Final {
		d.has = false
		epoch := d.epoch
		d.mu.Unlock()
		if ev.Text != "" {
			d.deliver(epoch, ev)
		}
		return
	}
	if ev.Text == "" {
		d.mu.Unlock()
		return
	}
	d.pending, d.has = ev, true
	gen := d.gen
	d.timer = time.AfterFunc(d.pause, func() { d.fire(gen) })
	d.mu.Unlock()
}

func (d *utteranceDebouncer) fire(gen uint64) {
	d.emitting.Lock()
	defer d.emitting.Unlock()

	d.mu.Lock()
	if d.stopped || gen != d.gen || !d.has {
		d.mu.Unlock()
		return
	}
	ev := d.pending
	ev.Final = true
	d.has = false
	d.timer = nil
	d.mu.Unlock()
	d.emit(ev)
}

// deliver emits ev unless a Reset or Stop happened since epoch was read.
func (d *utteranceDebouncer) deliver(epoch uint64, ev TranscriptEvent) {
	d.emitting.Lock()
	defer d.emitting.Unlock()

	d.mu.Lock()
	live := !d.stopped && epoch == d.epoch
	d.mu.Unlock()
	if live {
		d.emit(ev)
	}
}

// Reset drops the pending utterance and keeps accepting new ones. It waits
// for an emit already in progress.
func (d *utteranceDebouncer) Reset() {
	d.emitting.Lock()
	defer d.emitting.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clear()
}

// Stop drops any pending utterance and ignores later pushes.
func (d *utteranceDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.clear()
}

// clear cancels the timer and forgets the pending utterance. Callers hold mu.
func (d *utteranceDebouncer) clear() {
	d.gen++
	d.epoch++
	d.has = false
	d.pending = TranscriptEvent{}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

var (
	reSpaces     = regexp.MustCompile(`\s{2,}`)
	reLeadingI   = regexp.MustCompile(`(?i)^\s*i\s+`)
	reSentenceAt = regexp.MustCompile(`(\.\s+|^)([a-z])`)
)

// preprocess tidies recognizer output: runs of whitespace collapse, a
// leading "i" becomes "I" and sentences start upper case.
func preprocess(s string) string {
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	s = reLeadingI.ReplaceAllString(s, "I ")
	return reSentenceAt.ReplaceAllStringFunc(s, func(m string) string {
		r := []rune(m)
		r[len(r)-1] = unicode.ToUpper(r[len(r)-1])
		return string(r)
	})
}
