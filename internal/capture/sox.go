package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// SoxMicrophone records from the default input device with the sox CLI.
type SoxMicrophone struct {
	Binary string
}

// NewSoxMicrophone returns a microphone backed by binary (default "sox").
func NewSoxMicrophone(binary string) *SoxMicrophone {
	if binary == "" {
		binary = "sox"
	}
	return &SoxMicrophone{Binary: binary}
}

// Record captures d of raw signed 16-bit mono PCM. If ctx is cancelled the
// recorder is killed and whatever it produced so far is returned.
func (m *SoxMicrophone) Record(ctx context.Context, d time.Duration, sampleRate int) ([]byte, error) {
	path, err := exec.LookPath(m.Binary)
	if err != nil {
		return nil, fmt.Errorf("recorder %q not found: %w", m.Binary, err)
	}

	secs := strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
	cmd := exec.CommandContext(ctx, path,
		"-q", "-d",
		"-t", "raw", "-r", strconv.Itoa(sampleRate), "-b", "16", "-c", "1", "-e", "signed-integer",
		"-", "trim", "0", secs)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stdout.Bytes(), ctx.Err()
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", m.Binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
