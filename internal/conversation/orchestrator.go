// Package conversation drives one voice conversation from microphone to
// speaker.
//
// An [Orchestrator] owns the lifecycle of a single conversation. Start opens
// the microphone, acquires provider credentials and opens a streaming
// recognition session. Captured chunks are buffered in an ordered queue and
// forwarded on a fixed drain interval once the session is open. Each final
// transcript becomes a turn: a one-shot generation call whose reply is shown
// as the caption and handed to the narrator. A failed turn is logged and the
// conversation keeps listening.
//
// All session events, queue operations and turn results are handled on one
// event-loop goroutine, so transitions are totally ordered. Provider calls run
// on their own goroutines and report back to the loop.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sesli-ai/sesli/internal/credential"
	"github.com/sesli-ai/sesli/internal/narration"
	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/persona"
	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/provider/llm"
	"github.com/sesli-ai/sesli/pkg/provider/stt"
)

var (
	// ErrRecognitionUnavailable is reported when no recognition session can be
	// opened, either for lack of a credential or because the provider refused.
	ErrRecognitionUnavailable = errors.New("conversation: recognition unavailable")

	// ErrGenerationUnavailable fails a turn when no generation credential is
	// held.
	ErrGenerationUnavailable = errors.New("conversation: generation unavailable")

	// ErrActive is returned by Start while a conversation is already running.
	ErrActive = errors.New("conversation: already active")
)

const (
	// DefaultDrainInterval is the cadence at which queued chunks are forwarded.
	DefaultDrainInterval = 250 * time.Millisecond

	// DefaultVoice is used when neither the persona nor the config names one.
	DefaultVoice = "shimmer"

	speakingPollInterval = 100 * time.Millisecond
)

// RecognitionFactory builds a recognition provider for a credential.
type RecognitionFactory func(key string) (stt.Provider, error)

// GenerationFactory builds a generation provider for a credential.
type GenerationFactory func(key string) (llm.Provider, error)

// Narrator speaks a reply. [*narration.Unit] implements it.
type Narrator interface {
	Narrate(ctx context.Context, text, voiceID string) narration.Outcome
}

var _ Narrator = (*narration.Unit)(nil)

// Config holds the per-conversation settings.
type Config struct {
	// ID identifies the conversation in logs.
	ID string

	// Persona selects the system prompt and voice. Nil uses the generic
	// assistant prompt.
	Persona *persona.Persona

	// Stream is passed to the recognition provider.
	Stream stt.StreamConfig

	// DrainInterval overrides [DefaultDrainInterval] when positive.
	DrainInterval time.Duration

	// Generation tunes the turn generator.
	Generation GenerationConfig

	// GenerationProvider names the generation backend in metrics.
	GenerationProvider string

	// DefaultVoice is used when the persona has no voice. Defaults to
	// [DefaultVoice].
	DefaultVoice string
}

// Deps holds the collaborators of an [Orchestrator]. Capture, Credentials and
// Recognition are required.
type Deps struct {
	Capture     audio.Capture
	Credentials *credential.Set
	Recognition RecognitionFactory
	Generation  GenerationFactory
	Narrator    Narrator
	Playback    *playback.Controller
	Sink        Sink
	Metrics     *observe.Metrics
}

// Orchestrator coordinates one conversation. Its methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	caption  string
	acquired bool
	run      *run
}

// run is the state of one recognition session. claimed is guarded by
// Orchestrator.mu; queue, guard and the generator cache are owned by the event
// loop.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	handle  stt.SessionHandle
	started time.Time
	claimed bool

	queue   Queue
	guard   turnGuard
	results chan turnResult

	gen    *TurnGenerator
	genKey string
}

type turnResult struct {
	transcript string
	reply      string
	err        error
}

// New returns an idle Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultVoice
	}
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	log := slog.Default()
	if cfg.ID != "" {
		log = log.With("conversation", cfg.ID)
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Caption returns the most recent caption text.
func (o *Orchestrator) Caption() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.caption
}

// Start opens the microphone and the recognition session.
//
// A capture failure leaves the orchestrator in its current state and acquires
// no credentials. A missing recognition credential or a refused session moves
// it to [StateClosed] and returns an error wrapping
// [ErrRecognitionUnavailable]. Missing generation or narration credentials
// only degrade later turns.
//
// The first Start acquires every credential. A Start after [StateClosed]
// re-acquires only the recognition credential.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	if o.state.Active() {
		o.mu.Unlock()
		return ErrActive
	}
	restart := o.acquired
	o.mu.Unlock()

	o.discardStale()
	if err := o.deps.Capture.Start(ctx); err != nil {
		o.log.Warn("conversation: capture failed to start", "err", err)
		o.deps.Sink.Error(err)
		return fmt.Errorf("conversation: start capture: %w", err)
	}
	o.deps.Sink.MicOpen(true)

	o.setState(StateAcquiringCredentials)
	kinds := credential.Kinds
	if restart {
		kinds = []credential.Kind{credential.Recognition}
	}
	if err := o.deps.Credentials.Acquire(ctx, kinds...); err != nil {
		o.log.Warn("conversation: credentials incomplete", "err", err)
	}
	o.mu.Lock()
	o.acquired = true
	o.mu.Unlock()

	key, ok := o.deps.Credentials.Cached(credential.Recognition)
	if !ok {
		return o.abortStart(ErrRecognitionUnavailable)
	}

	o.setState(StateConnecting)
	provider, err := o.deps.Recognition(key)
	if err != nil {
		return o.abortStart(fmt.Errorf("%w: %w", ErrRecognitionUnavailable, err))
	}

	runCtx, cancel := context.WithCancel(observe.WithConversation(ctx, o.cfg.ID))
	started := time.Now()
	handle, err := provider.StartStream(runCtx, o.cfg.Stream)
	if err != nil {
		cancel()
		return o.abortStart(fmt.Errorf("%w: %w", ErrRecognitionUnavailable, err))
	}

	r := &run{
		cancel:  cancel,
		done:    make(chan struct{}),
		handle:  handle,
		started: started,
		results: make(chan turnResult, 1),
	}
	o.mu.Lock()
	o.run = r
	o.mu.Unlock()

	o.deps.Metrics.ActiveConversations.Add(ctx, 1)
	go o.loop(runCtx, r)
	if o.deps.Playback != nil {
		go o.deps.Playback.Watch(runCtx, speakingPollInterval, o.deps.Sink.Speaking)
	}
	return nil
}

// Stop ends the conversation: the session is closed, the microphone released
// and any narration stopped. Stop is idempotent and always leaves the
// orchestrator in [StateClosed].
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	r := o.run
	o.mu.Unlock()

	switch {
	case r == nil:
		if err := o.deps.Capture.Stop(); err != nil {
			o.log.Warn("conversation: stop capture", "err", err)
		}
	case o.claim(r):
		r.cancel()
		<-r.done
		o.release(r)
	default:
		<-r.done
	}
	if o.deps.Playback != nil {
		if err := o.deps.Playback.Stop(); err != nil {
			o.log.Warn("conversation: stop playback", "err", err)
		}
	}
	o.deps.Sink.MicOpen(false)
	o.setState(StateClosed)
}

// Wait blocks until the current session ends, either through Stop or because
// the provider closed it. It returns immediately when no session is running.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

func (o *Orchestrator) abortStart(err error) error {
	o.log.Warn("conversation: start failed", "err", err)
	if stopErr := o.deps.Capture.Stop(); stopErr != nil {
		o.log.Warn("conversation: stop capture", "err", stopErr)
	}
	o.deps.Sink.MicOpen(false)
	o.setState(StateClosed)
	o.deps.Sink.Error(err)
	return err
}

// loop is the single consumer of capture chunks, session events and turn
// results for r.
func (o *Orchestrator) loop(ctx context.Context, r *run) {
	defer close(r.done)

	ticker := time.NewTicker(o.cfg.DrainInterval)
	defer ticker.Stop()

	chunks := o.deps.Capture.Chunks()
	events := r.handle.Events()
	open := false
	var sessionErr error

	for {
		select {
		case <-ctx.Done():
			o.closeRun(r, nil)
			return

		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			r.queue.Enqueue(c)

		case <-ticker.C:
			if open {
				o.forward(ctx, r)
			}

		case ev, ok := <-events:
			if !ok {
				o.closeRun(r, sessionErr)
				return
			}
			switch ev.Kind {
			case stt.EventOpen:
				open = true
				o.deps.Metrics.RecognitionConnectDuration.Record(ctx, time.Since(r.started).Seconds())
				o.log.Info("conversation: recognition open")
				o.setState(StateListening)
			case stt.EventTranscript:
				o.onTranscript(ctx, r, ev.Transcript)
			case stt.EventError:
				sessionErr = ev.Err
				o.log.Warn("conversation: recognition error", "err", ev.Err)
				o.deps.Metrics.RecordProviderError(ctx, "recognition", "stt")
			case stt.EventClose:
				o.closeRun(r, sessionErr)
				return
			}

		case res := <-r.results:
			o.onTurnResult(ctx, r, res)
		}
	}
}

// forward sends the oldest queued chunk to the open session.
func (o *Orchestrator) forward(ctx context.Context, r *run) {
	c, ok := r.queue.DrainOne()
	if !ok {
		return
	}
	if err := r.handle.SendAudio(c.Data); err != nil {
		// A failed send means the session is closing; release resets the queue.
		o.log.Warn("conversation: send audio", "seq", c.Seq, "err", err)
		return
	}
	o.deps.Metrics.ChunksForwarded.Add(ctx, 1)
}

func (o *Orchestrator) onTranscript(ctx context.Context, r *run, t stt.Transcript) {
	o.setCaption(t.Text)
	o.deps.Sink.Caption(t.Text, t.IsFinal)
	if !t.IsFinal {
		return
	}
	o.log.Info("conversation: final transcript", "text", t.Text)

	if r.guard.busy() {
		o.log.Debug("conversation: turn in flight, holding transcript")
	}
	start, superseded := r.guard.offer(t.Text)
	if superseded {
		o.log.Debug("conversation: pending transcript superseded")
		o.deps.Metrics.RecordTurn(ctx, observe.StatusSuperseded)
	}
	o.setState(StateAwaitingReply)
	if start {
		o.launchTurn(ctx, r, t.Text)
	}
}

// launchTurn runs one generation call and reports its result to the loop.
// The guard admits one call at a time, so the buffered results channel never
// blocks the sender.
func (o *Orchestrator) launchTurn(ctx context.Context, r *run, transcript string) {
	gen, err := o.generator(r)
	if err != nil {
		r.results <- turnResult{transcript: transcript, err: err}
		return
	}
	go func() {
		reply, err := gen.Generate(ctx, transcript, o.cfg.Persona)
		r.results <- turnResult{transcript: transcript, reply: reply, err: err}
	}()
}

func (o *Orchestrator) onTurnResult(ctx context.Context, r *run, res turnResult) {
	if res.err != nil {
		o.log.Warn("conversation: turn failed", "err", res.err)
		o.deps.Metrics.RecordTurn(ctx, observe.StatusError)
	} else {
		o.deps.Metrics.RecordTurn(ctx, observe.StatusOK)
		o.setCaption(res.reply)
		o.deps.Sink.Caption(res.reply, true)
		o.setState(StateSpeaking)
		o.narrate(ctx, res.reply)
	}

	if next, ok := r.guard.done(); ok {
		o.setState(StateAwaitingReply)
		o.launchTurn(ctx, r, next)
		return
	}
	o.setState(StateListening)
}

func (o *Orchestrator) narrate(ctx context.Context, reply string) {
	if o.deps.Narrator == nil {
		return
	}
	voice := o.cfg.DefaultVoice
	if o.cfg.Persona != nil && o.cfg.Persona.VoiceID != "" {
		voice = o.cfg.Persona.VoiceID
	}
	go func() {
		out := o.deps.Narrator.Narrate(ctx, reply, voice)
		if out.Err != nil {
			o.log.Warn("conversation: narration failed", "route", out.Route, "err", out.Err)
		}
	}()
}

// generator returns the turn generator for the cached generation credential,
// building it on first use.
func (o *Orchestrator) generator(r *run) (*TurnGenerator, error) {
	key, ok := o.deps.Credentials.Cached(credential.Generation)
	if !ok || o.deps.Generation == nil {
		return nil, ErrGenerationUnavailable
	}
	if r.gen != nil && r.genKey == key {
		return r.gen, nil
	}
	p, err := o.deps.Generation(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	r.gen = NewTurnGenerator(p, o.cfg.GenerationProvider, o.cfg.Generation, o.deps.Metrics)
	r.genKey = key
	return r.gen, nil
}

// claim reports whether the caller won the right to tear r down.
func (o *Orchestrator) claim(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.claimed {
		return false
	}
	r.claimed = true
	return true
}

// closeRun tears r down after the provider closed the session or the start
// context ended. It is a no-op when Stop has already claimed r.
func (o *Orchestrator) closeRun(r *run, cause error) {
	if !o.claim(r) {
		return
	}

	o.log.Info("conversation: recognition closed", "err", cause)
	o.release(r)
	o.deps.Sink.MicOpen(false)
	o.setState(StateClosed)
	if cause != nil {
		o.deps.Sink.Error(cause)
	}
}

// release frees the resources of r. The recognition credential is
// session-scoped and is dropped with the session.
func (o *Orchestrator) release(r *run) {
	r.cancel()
	if err := r.handle.Close(); err != nil {
		o.log.Warn("conversation: close session", "err", err)
	}
	if err := o.deps.Capture.Stop(); err != nil {
		o.log.Warn("conversation: stop capture", "err", err)
	}
	o.discardStale()
	o.deps.Credentials.Invalidate(credential.Recognition)
	r.queue.Reset()
	o.deps.Metrics.ActiveConversations.Add(context.Background(), -1)
}

// discardStale empties the capture channel without blocking. The microphone
// is closed whenever this runs, so anything buffered belongs to an earlier
// session.
func (o *Orchestrator) discardStale() {
	ch := o.deps.Capture.Chunks()
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if ok {
				n++
				continue
			}
		default:
		}
		break
	}
	if n > 0 {
		o.log.Debug("conversation: discarded stale chunks", "count", n)
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.log.Debug("conversation: state", "from", prev.String(), "to", s.String())
	o.deps.Sink.StateChanged(s)
}

func (o *Orchestrator) setCaption(text string) {
	o.mu.Lock()
	o.caption = text
	o.mu.Unlock()
}
