// Package narration speaks generated replies.
//
// The [Unit] tries the hosted narration provider first. Its audio is loaded
// into a playback handle and handed to the playback controller. When the
// provider is unavailable or fails, the reply is spoken by the local speech
// engine instead, using the voice [speech.SelectVoice] picks for the
// configured language. Local synthesis produces no playback handle.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sesli-ai/sesli/internal/observe"
	"github.com/sesli-ai/sesli/internal/resilience"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

// ErrPrimaryUnavailable is returned by a [ProviderSource] when no hosted
// narration provider can be built, typically because the narration
// credential is missing.
var ErrPrimaryUnavailable = errors.New("narration: primary provider unavailable")

// Route identifies which path served a narration.
type Route int

const (
	// RouteNone means neither path succeeded.
	RouteNone Route = iota
	// RoutePrimary means the hosted provider synthesised the audio.
	RoutePrimary
	// RouteFallback means the local speaker spoke the text.
	RouteFallback
)

// String implements fmt.Stringer.
func (r Route) String() string {
	switch r {
	case RouteNone:
		return "none"
	case RoutePrimary:
		return "primary"
	case RouteFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Route(%d)", int(r))
	}
}

// Outcome reports how a narration was served.
type Outcome struct {
	Route Route

	// Handle is the playback handle created on the primary route.
	Handle playback.Handle

	// Voice is the local voice used on the fallback route.
	Voice tts.VoiceProfile

	// Err is set when both routes failed.
	Err error
}

// ProviderSource returns the hosted narration provider to use for one call.
type ProviderSource func(ctx context.Context) (tts.Provider, error)

// Config holds narration settings.
type Config struct {
	// ProviderName labels metrics and logs for the hosted provider.
	ProviderName string

	// DefaultVoice is used when a narration request carries no voice.
	DefaultVoice string

	// Speed is the hosted provider speaking rate. 0 means 1.0.
	Speed float64

	// Language is the BCP-47 tag used for synthesis and local voice selection.
	Language string
}

// Deps are the collaborators of a [Unit].
type Deps struct {
	Primary    ProviderSource
	Player     playback.Player
	Controller *playback.Controller
	Local      speech.Speaker
	Metrics    *observe.Metrics
}

// Unit speaks replies through the hosted provider with local fallback.
//
// Narrate is safe for concurrent use.
type Unit struct {
	cfg   Config
	deps  Deps
	group *resilience.FallbackGroup[route]
}

// route is one way of speaking text.
type route interface {
	narrate(ctx context.Context, text, voiceID string) (Outcome, error)
}

// New returns a Unit. Deps.Controller defaults to a fresh controller and
// Deps.Metrics to [observe.DefaultMetrics].
func New(cfg Config, deps Deps) *Unit {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "tts"
	}
	if cfg.Language == "" {
		cfg.Language = "tr-TR"
	}
	if deps.Controller == nil {
		deps.Controller = playback.NewController()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	u := &Unit{cfg: cfg, deps: deps}
	u.group = resilience.NewFallbackGroup[route](primaryRoute{u}, cfg.ProviderName)
	u.group.AddFallback("local", fallbackRoute{u})
	return u
}

// Controller returns the playback controller primary narrations are handed to.
func (u *Unit) Controller() *playback.Controller { return u.deps.Controller }

// Narrate speaks text with the given voice. It never returns an error: the
// outcome records which route served the request and, when both failed, why.
func (u *Unit) Narrate(ctx context.Context, text, voiceID string) Outcome {
	if voiceID == "" {
		voiceID = u.cfg.DefaultVoice
	}
	out, err := resilience.ExecuteWithResult(u.group, func(r route) (Outcome, error) {
		return r.narrate(ctx, text, voiceID)
	})
	if err != nil {
		observe.Logger(ctx).Error("narration: all routes failed", "err", err)
		return Outcome{Route: RouteNone, Err: err}
	}
	return out
}

// ─── primary ──────────────────────────────────────────────────────────────────

type primaryRoute struct{ u *Unit }

func (r primaryRoute) narrate(ctx context.Context, text, voiceID string) (Outcome, error) {
	u := r.u
	if u.deps.Primary == nil {
		return Outcome{}, ErrPrimaryUnavailable
	}
	provider, err := u.deps.Primary(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if provider == nil {
		return Outcome{}, ErrPrimaryUnavailable
	}

	ctx, span := observe.StartSpan(ctx, "narration.synthesize")
	defer span.End()

	start := time.Now()
	audio, err := provider.Synthesize(ctx, tts.Request{
		Text:     text,
		Voice:    voiceID,
		Speed:    u.cfg.Speed,
		Language: u.cfg.Language,
	})
	u.deps.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	u.deps.Metrics.RecordProviderRequest(ctx, u.cfg.ProviderName, "tts", observe.StatusOf(err))
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("narration: synthesize: %w", err)
	}

	if u.deps.Player == nil {
		return Outcome{}, errors.New("narration: no player configured")
	}
	h, err := u.deps.Player.Load(ctx, audio)
	if err != nil {
		return Outcome{}, fmt.Errorf("narration: load audio: %w", err)
	}
	if err := u.deps.Controller.Play(h); err != nil {
		// The handle stays active even when it failed to start.
		slog.Warn("narration: start playback", "err", err)
	}
	return Outcome{Route: RoutePrimary, Handle: h}, nil
}

// ─── fallback ─────────────────────────────────────────────────────────────────

type fallbackRoute struct{ u *Unit }

func (r fallbackRoute) narrate(ctx context.Context, text, _ string) (Outcome, error) {
	u := r.u
	if u.deps.Local == nil {
		u.deps.Metrics.RecordNarrationFallback(ctx, observe.StatusError)
		return Outcome{}, errors.New("narration: no local speaker configured")
	}

	voices, err := u.deps.Local.Voices(ctx)
	if err != nil {
		slog.Warn("narration: list local voices", "err", err)
	}
	voice, matched := speech.SelectVoice(voices, u.cfg.Language)
	if !matched {
		slog.Info("narration: no local voice for language, using default",
			"language", u.cfg.Language, "voice", voice.ID)
	}

	err = u.deps.Local.Speak(ctx, speech.Utterance{
		Text:     text,
		Language: u.cfg.Language,
		Voice:    voice,
		Rate:     1,
	})
	u.deps.Metrics.RecordNarrationFallback(ctx, observe.StatusOf(err))
	if err != nil {
		return Outcome{}, fmt.Errorf("narration: local speech: %w", err)
	}
	return Outcome{Route: RouteFallback, Voice: voice}, nil
}
