package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sesli-ai/sesli/internal/conversation"
	"github.com/sesli-ai/sesli/internal/health"
	"github.com/sesli-ai/sesli/internal/session"
	"github.com/sesli-ai/sesli/pkg/audio"
	"github.com/sesli-ai/sesli/pkg/audio/ffmpeg"
	"github.com/sesli-ai/sesli/pkg/audio/playback"
	"github.com/sesli-ai/sesli/pkg/audio/speech"
)

// pcmEncoding is the raw format the ffmpeg capture produces.
const pcmEncoding = "linear16"

// LocalDevices are the I/O collaborators of a terminal conversation. Zero
// fields are built from the config.
type LocalDevices struct {
	Capture audio.Capture
	Player  playback.Player
	Speaker speech.Speaker
}

// Talk runs one conversation on the local microphone and speakers until ctx
// is done. Captions and state changes are written to out.
func (a *App) Talk(ctx context.Context, personaID string, out io.Writer, dev LocalDevices) error {
	if err := a.localDevices(ctx, &dev); err != nil {
		return err
	}

	sink := &terminalSink{out: out}
	sess, err := a.sessions.Open(ctx, personaID, session.Endpoints{
		Capture: dev.Capture,
		Format: session.AudioFormat{
			Encoding:   pcmEncoding,
			SampleRate: a.cfg.Capture.SampleRate,
			Channels:   a.cfg.Capture.Channels,
		},
		Player:  dev.Player,
		Speaker: dev.Speaker,
		Sink:    sink,
	})
	if err != nil {
		return fmt.Errorf("app: open conversation: %w", err)
	}
	defer a.sessions.Close(sess.Info.ID)

	if err := sess.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("app: start conversation: %w", err)
	}

	// Remote closes end the run; the terminal conversation ends with it.
	done := make(chan struct{})
	go func() {
		sess.Orchestrator.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if err := sink.lastError(); err != nil {
			return fmt.Errorf("app: conversation ended: %w", err)
		}
		return nil
	}
}

// localDevices fills in missing devices from the config and checks that the
// helper binaries are installed.
func (a *App) localDevices(ctx context.Context, dev *LocalDevices) error {
	var checks []health.Checker
	if dev.Capture == nil {
		c := a.cfg.Capture
		dev.Capture = ffmpeg.New(
			ffmpeg.WithCommand(c.Command),
			ffmpeg.WithInput(c.Format, c.Device),
			ffmpeg.WithSampleRate(c.SampleRate),
			ffmpeg.WithChannels(c.Channels),
			ffmpeg.WithChunkInterval(c.ChunkInterval),
		)
		checks = append(checks, health.Executable(commandOr(c.Command, "ffmpeg")))
	}
	if dev.Player == nil {
		dev.Player = playback.NewFFPlay("")
		checks = append(checks, health.Executable("ffplay"))
	}
	if dev.Speaker == nil && a.cfg.Providers.Fallback.Name != "" {
		sp, err := a.reg.CreateSpeaker(a.cfg.Providers.Fallback)
		if err != nil {
			return fmt.Errorf("app: create local speaker %q: %w", a.cfg.Providers.Fallback.Name, err)
		}
		dev.Speaker = sp
	}

	if err := health.New(checks...).Run(ctx).Err(); err != nil {
		return fmt.Errorf("app: local audio: %w", err)
	}
	return nil
}

func commandOr(cmd, fallback string) string {
	if cmd != "" {
		return cmd
	}
	return fallback
}

// terminalSink prints conversation signals as plain lines.
type terminalSink struct {
	out io.Writer

	mu   sync.Mutex
	last error
}

var _ conversation.Sink = (*terminalSink)(nil)

func (s *terminalSink) StateChanged(st conversation.State) {
	slog.Debug("conversation state", "state", st)
	switch st {
	case conversation.StateListening:
		s.printf("[dinliyor]\n")
	case conversation.StateAwaitingReply:
		s.printf("[düşünüyor]\n")
	}
}

func (s *terminalSink) Caption(text string, final bool) {
	if final {
		s.printf("» %s\n", text)
	}
}

func (s *terminalSink) MicOpen(open bool) {
	if open {
		s.printf("[mikrofon açık]\n")
	} else {
		s.printf("[mikrofon kapalı]\n")
	}
}

func (s *terminalSink) Speaking(bool) {}

func (s *terminalSink) Error(err error) {
	s.mu.Lock()
	s.last = err
	s.mu.Unlock()
	s.printf("hata: %v\n", err)
}

func (s *terminalSink) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *terminalSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
