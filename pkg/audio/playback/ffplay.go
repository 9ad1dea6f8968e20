package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

const ffplayStopGrace = 500 * time.Millisecond

// Compile-time interface assertions.
var (
	_ Player = (*FFPlay)(nil)
	_ Handle = (*processHandle)(nil)
)

// FFPlay plays audio on the local output device by piping it into ffplay.
type FFPlay struct {
	command string
}

// NewFFPlay returns an FFPlay player. An empty command selects "ffplay".
func NewFFPlay(command string) *FFPlay {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlay{command: command}
}

// Load implements [Player].
func (p *FFPlay) Load(_ context.Context, audio tts.Audio) (Handle, error) {
	if len(audio.Data) == 0 {
		return nil, errors.New("playback: empty audio")
	}
	return &processHandle{command: p.command, data: audio.Data}, nil
}

// processHandle is one ffplay process playing an in-memory clip.
type processHandle struct {
	command string
	data    []byte

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	ended   bool
	exited  chan struct{}
}

func (h *processHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd != nil || h.ended {
		return nil
	}

	cmd := exec.Command(h.command,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(h.data)
	if err := cmd.Start(); err != nil {
		h.ended = true
		return fmt.Errorf("playback: start %s: %w", h.command, err)
	}

	h.cmd = cmd
	h.started = time.Now()
	h.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		h.mu.Lock()
		h.ended = true
		h.mu.Unlock()
		close(h.exited)
	}()
	return nil
}

func (h *processHandle) Stop() error {
	h.mu.Lock()
	cmd, exited := h.cmd, h.exited
	if cmd == nil {
		h.ended = true
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	select {
	case <-exited:
		return nil
	default:
	}

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exited:
	case <-time.After(ffplayStopGrace):
		_ = cmd.Process.Kill()
		<-exited
	}
	return nil
}

func (h *processHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil {
		return Status{Ended: h.ended}
	}
	if h.ended {
		return Status{Position: time.Since(h.started), Ended: true, Ready: HaveEnoughData}
	}
	// The whole clip is buffered in memory before ffplay starts.
	return Status{Position: time.Since(h.started), Ready: HaveEnoughData}
}
