// Package ffmpeg implements [audio.Capture] for a local microphone by spawning
// an ffmpeg process that writes raw PCM to stdout.
//
// The raw stream is re-packed into [audio.Chunk] values at a fixed cadence
// (500ms by default) so that a local conversation sees the same chunk rhythm
// a browser MediaRecorder produces.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sesli-ai/sesli/pkg/audio"
)

const (
	defaultCommand    = "ffmpeg"
	defaultFormat     = "pulse"
	defaultDevice     = "default"
	defaultSampleRate = 16000
	defaultChannels   = 1

	// startupGrace is how long ffmpeg must stay alive before the device is
	// considered open.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Stop waits after SIGINT before killing ffmpeg.
	stopGrace = 1200 * time.Millisecond

	readBufferSize = 4096
)

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

// Option is a functional option for configuring a [Capture].
type Option func(*Capture)

// WithCommand overrides the ffmpeg binary path.
func WithCommand(command string) Option {
	return func(c *Capture) {
		if command != "" {
			c.command = command
		}
	}
}

// WithInput sets the ffmpeg input format and device, e.g. ("pulse", "default"),
// ("alsa", "hw:0") or ("avfoundation", ":0").
func WithInput(format, device string) Option {
	return func(c *Capture) {
		if format != "" {
			c.format = format
		}
		if device != "" {
			c.device = device
		}
	}
}

// WithSampleRate sets the output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(c *Capture) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithChannels sets the number of output channels.
func WithChannels(n int) Option {
	return func(c *Capture) {
		if n > 0 {
			c.channels = n
		}
	}
}

// WithChunkInterval sets the chunk cadence.
func WithChunkInterval(d time.Duration) Option {
	return func(c *Capture) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Capture streams microphone PCM audio using ffmpeg.
type Capture struct {
	command    string
	format     string
	device     string
	sampleRate int
	channels   int
	interval   time.Duration

	chunks chan audio.Chunk

	mu   sync.Mutex
	sess *session
}

// New returns a [Capture] with the given options applied.
func New(opts ...Option) *Capture {
	c := &Capture{
		command:    defaultCommand,
		format:     defaultFormat,
		device:     defaultDevice,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
		interval:   audio.DefaultChunkInterval,
		chunks:     make(chan audio.Chunk, 64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SampleRate returns the configured output sample rate in Hz.
func (c *Capture) SampleRate() int { return c.sampleRate }

// Channels returns the configured output channel count.
func (c *Capture) Channels() int { return c.channels }

// Chunks implements [audio.Capture].
func (c *Capture) Chunks() <-chan audio.Chunk { return c.chunks }

// MicOpen implements [audio.Capture].
func (c *Capture) MicOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Start implements [audio.Capture]. It spawns ffmpeg and waits a short grace
// period to detect an immediate exit, which is classified into
// [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable].
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return nil
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.format,
		"-i", c.device,
		"-ac", strconv.Itoa(c.channels),
		"-ar", strconv.Itoa(c.sampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.Command(c.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start %q: %w: %w", c.command, audio.ErrDeviceUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return classify(stderr.String(), err)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return fmt.Errorf("ffmpeg: start: %w", ctx.Err())
	case <-time.After(startupGrace):
	}

	s := &session{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.sess = s
	go c.pump(s)

	slog.Debug("ffmpeg: capture started", "format", c.format, "device", c.device, "sample_rate", c.sampleRate)
	return nil
}

// Stop implements [audio.Capture]. It interrupts ffmpeg, kills it if it has
// not exited within a grace period, and waits for the pump to finish.
func (c *Capture) Stop() error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.stop()
}

// pump reads PCM from ffmpeg and emits one chunk per interval. It exits when
// ffmpeg's stdout reaches EOF or the session is stopped.
func (c *Capture) pump(s *session) {
	defer close(s.done)
	defer func() {
		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		c.mu.Unlock()
	}()

	raw := make(chan []byte, 16)
	go func() {
		defer close(raw)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.stdout.Read(buf)
			if n > 0 {
				b := make([]byte, n)
				copy(b, buf[:n])
				select {
				case raw <- b:
				case <-s.quit:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					slog.Warn("ffmpeg: read error", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var (
		pending []byte
		seq     uint64
	)
	emit := func() bool {
		if len(pending) == 0 {
			return true
		}
		seq++
		chunk := audio.Chunk{Data: pending, Seq: seq, Captured: time.Now()}
		pending = nil
		select {
		case c.chunks <- chunk:
			return true
		case <-s.quit:
			return false
		}
	}

	for {
		select {
		case b, ok := <-raw:
			if !ok {
				emit()
				return
			}
			pending = append(pending, b...)
		case <-ticker.C:
			if !emit() {
				return
			}
		case <-s.quit:
			return
		}
	}
}

type session struct {
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	process *os.Process
	waitErr <-chan error

	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *session) stop() error {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		<-s.done

		if s.stopErr != nil {
			if msg := s.stderr.String(); msg != "" {
				s.stopErr = fmt.Errorf("ffmpeg: stop: %w: %s", s.stopErr, msg)
			} else {
				s.stopErr = fmt.Errorf("ffmpeg: stop: %w", s.stopErr)
			}
		}
	})
	return s.stopErr
}

// normalizeStopErr drops exit-status errors, which are expected after SIGINT.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

var permissionMarkers = []string{
	"permission denied",
	"access denied",
	"operation not permitted",
	"not authorized",
}

// classify maps an early ffmpeg exit to one of the capture sentinel errors.
// Anything that is not a permission problem means the device could not be
// opened.
func classify(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	sentinel := audio.ErrDeviceUnavailable
	for _, m := range permissionMarkers {
		if strings.Contains(lower, m) {
			sentinel = audio.ErrPermissionDenied
			break
		}
	}
	if err == nil {
		err = errors.New("exited before capture started")
	}
	if msg == "" {
		return fmt.Errorf("ffmpeg: %w: %w", sentinel, err)
	}
	return fmt.Errorf("ffmpeg: %w: %w: %s", sentinel, err, msg)
}

// lockedBuffer is a bytes.Buffer safe for the concurrent writes exec performs
// on Stderr and reads from Stop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
