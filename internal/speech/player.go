package speech

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"fixme/internal/logging"
)

// Player plays an audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer plays files with an external program; the path is
// appended as the last argument.
type CommandPlayer struct {
	Args []string
}

// NewCommandPlayer parses a command line such as "mpg123 -q". An empty
// line selects the platform default.
func NewCommandPlayer(line string) *CommandPlayer {
	args := strings.Fields(line)
	if len(args) == 0 {
		args = defaultPlayer(runtime.GOOS)
	}
	return &CommandPlayer{Args: args}
}

func defaultPlayer(goos string) []string {
	if goos == "darwin" {
		return []string{"afplay"}
	}
	return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}
}

// Play runs the player and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if len(p.Args) == 0 {
		return fmt.Errorf("no audio player configured")
	}
	args := append(append([]string(nil), p.Args[1:]...), path)
	cmd := exec.CommandContext(ctx, p.Args[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		logging.SpeechWarn("player %s failed: %v: %s", p.Args[0], err, strings.TrimSpace(string(out)))
		return fmt.Errorf("%s: %w", p.Args[0], err)
	}
	return nil
}
