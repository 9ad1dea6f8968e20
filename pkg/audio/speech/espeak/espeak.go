// Package espeak implements [speech.Speaker] with the espeak-ng command-line
// synthesiser. Audio is played directly on the default output device.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sesli-ai/sesli/pkg/audio/speech"
	"github.com/sesli-ai/sesli/pkg/provider/tts"
)

const (
	// DefaultCommand is the synthesiser binary looked up on PATH.
	DefaultCommand = "espeak-ng"

	// DefaultWordsPerMinute is espeak-ng's normal speaking rate.
	DefaultWordsPerMinute = 175

	// defaultVoice is the engine's built-in fallback voice.
	defaultVoice = "en"
)

var _ speech.Speaker = (*Speaker)(nil)

// Option is a functional option for [Speaker].
type Option func(*Speaker)

// WithCommand overrides the espeak-ng binary.
func WithCommand(cmd string) Option {
	return func(s *Speaker) {
		if cmd != "" {
			s.command = cmd
		}
	}
}

// WithWordsPerMinute sets the rate used for [speech.Utterance.Rate] 1.0.
func WithWordsPerMinute(wpm int) Option {
	return func(s *Speaker) {
		if wpm > 0 {
			s.wpm = wpm
		}
	}
}

// Speaker drives espeak-ng.
type Speaker struct {
	command string
	wpm     int
}

// New returns a Speaker with the given options applied.
func New(opts ...Option) *Speaker {
	s := &Speaker{command: DefaultCommand, wpm: DefaultWordsPerMinute}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Voices runs "espeak-ng --voices" and parses the table it prints.
func (s *Speaker) Voices(ctx context.Context) ([]tts.VoiceProfile, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.command, "--voices")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("espeak: list voices: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseVoices(out), nil
}

// Speak synthesises u and blocks until espeak-ng has finished playing it.
func (s *Speaker) Speak(ctx context.Context, u speech.Utterance) error {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return errors.New("espeak: empty text")
	}

	voice := u.Voice.ID
	if voice == "" {
		voice = u.Language
	}
	if voice == "" {
		voice = defaultVoice
	}

	args := []string{"-v", voice, "-s", strconv.Itoa(s.rate(u.Rate)), "--", text}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("espeak: speak with voice %q: %w: %s", voice, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *Speaker) rate(r float64) int {
	if r <= 0 {
		r = 1
	}
	return int(math.Round(float64(s.wpm) * r))
}

// parseVoices reads the voice table printed by "espeak-ng --voices":
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  tr              --/M      Turkish            trk/tr
//
// The language column is used as the voice ID since espeak-ng accepts it for -v.
func parseVoices(out []byte) []tts.VoiceProfile {
	var voices []tts.VoiceProfile
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		lang := fields[1]
		v := tts.VoiceProfile{
			ID:       lang,
			Name:     fields[3],
			Provider: "espeak",
			Language: lang,
			Default:  lang == defaultVoice,
		}
		if len(fields) >= 5 {
			v.Metadata = map[string]string{"file": fields[4]}
		}
		voices = append(voices, v)
	}
	return voices
}
