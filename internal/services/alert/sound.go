package alert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

var (
	ErrAssetMissing = errors.New("sound asset not found")
	ErrNoPlayer     = errors.New("no audio player available")
)

const defaultPlayTimeout = 30 * time.Second

// player describes a command-line audio player and how to invoke it.
type player struct {
	name string
	args func(path string) []string
}

// Tried in order; the first one found on PATH is used.
var knownPlayers = []player{
	{"paplay", func(p string) []string { return []string{p} }},
	{"aplay", func(p string) []string { return []string{"-q", p} }},
	{"afplay", func(p string) []string { return []string{p} }},
	{"ffplay", func(p string) []string { return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", p} }},
}

// SoundCue plays an audio file through a system audio player.
type SoundCue struct {
	path    string
	command string
	args    []string
	timeout time.Duration
}

// NewSoundCue checks the asset and picks a player. It returns ErrAssetMissing
// or ErrNoPlayer when sound cannot work, so callers can run silently.
func NewSoundCue(path string) (*SoundCue, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetMissing, path)
	}
	for _, p := range knownPlayers {
		command, err := exec.LookPath(p.name)
		if err != nil {
			continue
		}
		return &SoundCue{
			path:    path,
			command: command,
			args:    p.args(path),
			timeout: defaultPlayTimeout,
		}, nil
	}
	return nil, ErrNoPlayer
}

func (s *SoundCue) Name() string {
	return "sound"
}

// Play runs the player to completion, bounded by a timeout.
func (s *SoundCue) Play() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("play %s: %w (%s)", s.path, err, out)
	}
	return nil
}
