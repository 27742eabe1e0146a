package downloader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBin is the yt-dlp executable looked up on PATH.
const DefaultBin = "yt-dlp"

// OutputTemplate is the yt-dlp output template for files written into dir.
func OutputTemplate(dir string) string {
	return filepath.Join(dir, "%(playlist_index)s - %(title)s.%(ext)s")
}

// YtDLP downloads any URL with yt-dlp.
type YtDLP struct {
	bin       string
	extraArgs []string
}

// NewYtDLP creates a yt-dlp downloader. extraArgs go before the URL.
func NewYtDLP(bin string, extraArgs []string) *YtDLP {
	if bin == "" {
		bin = DefaultBin
	}
	return &YtDLP{bin: bin, extraArgs: extraArgs}
}

func (d *YtDLP) Name() string {
	return "yt-dlp"
}

// Match accepts every URL; yt-dlp is the catch-all.
func (d *YtDLP) Match(url string) bool {
	return true
}

func (d *YtDLP) Args(outputTemplate, url string) []string {
	args := []string{
		"-o", outputTemplate,
		"--no-part",
		"--continue",
		"--restrict-filenames",
	}
	args = append(args, d.extraArgs...)
	return append(args, url)
}

// Download runs yt-dlp to completion. Success is exit code 0.
func (d *YtDLP) Download(ctx context.Context, outputTemplate, url string) error {
	if err := os.MkdirAll(filepath.Dir(outputTemplate), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, d.bin, d.Args(outputTemplate, url)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", d.bin, err, tail(output))
	}
	return nil
}

const tailLines = 10

// tail keeps the last lines of tool output for error messages.
func tail(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	return strings.Join(lines, "\n")
}
