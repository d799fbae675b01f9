// Package sound plays the short notification tone for inbound messages.
// Playback is best-effort: the bridge fires it and swallows failures,
// since platform audio restrictions routinely block it.
package sound

import (
	"fmt"
	"os/exec"
)

// Player plays the notification tone once.
type Player interface {
	Play() error
}

// Nop is a Player that does nothing. Used in tests and headless runs.
type Nop struct{}

// Play implements Player.
func (Nop) Play() error { return nil }

// CommandPlayer shells out to a system audio player.
type CommandPlayer struct {
	Command string // e.g. "paplay", "afplay"
	File    string // path to the tone file
}

// Play runs the player and waits for it to finish.
func (p CommandPlayer) Play() error {
	if p.Command == "" || p.File == "" {
		return fmt.Errorf("sound: player not configured")
	}
	if err := exec.Command(p.Command, p.File).Run(); err != nil {
		return fmt.Errorf("sound: %s %s: %w", p.Command, p.File, err)
	}
	return nil
}
