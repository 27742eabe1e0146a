package downloader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cwygoda/haul/internal/config"
)

// CommandDownloader runs an external command for matching URLs.
// Args may use {url} and {output}; the command runs inside the output
// template's directory.
type CommandDownloader struct {
	name    string
	pattern *regexp.Regexp
	command string
	args    []string
}

// NewCommandDownloader creates a downloader from config.
func NewCommandDownloader(dc config.DownloaderConfig) (*CommandDownloader, error) {
	re, err := regexp.Compile(dc.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", dc.Pattern, err)
	}
	if dc.Command == "" {
		return nil, fmt.Errorf("downloader %q: command is required", dc.Name)
	}
	return &CommandDownloader{
		name:    dc.Name,
		pattern: re,
		command: config.ExpandPath(dc.Command),
		args:    dc.Args,
	}, nil
}

func (d *CommandDownloader) Name() string {
	return d.name
}

func (d *CommandDownloader) Match(url string) bool {
	return d.pattern.MatchString(url)
}

func (d *CommandDownloader) Download(ctx context.Context, outputTemplate, url string) error {
	r := strings.NewReplacer("{url}", url, "{output}", outputTemplate)
	args := make([]string, len(d.args))
	for i, arg := range d.args {
		args[i] = r.Replace(arg)
	}

	dir := filepath.Dir(outputTemplate)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", d.command, err, tail(output))
	}
	return nil
}

// FromConfig builds a registry of the configured downloaders with yt-dlp as
// the fallback.
func FromConfig(ytdlpBin string, ytdlpArgs []string, dcs []config.DownloaderConfig) (*Registry, error) {
	r := NewRegistry(NewYtDLP(ytdlpBin, ytdlpArgs))
	for _, dc := range dcs {
		d, err := NewCommandDownloader(dc)
		if err != nil {
			return nil, err
		}
		r.Register(d)
	}
	return r, nil
}
