package downloads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	defaultYtDlpBinary = "yt-dlp"
	maxStderrInError   = 512
)

var errNoArtifact = errors.New("yt-dlp: no file produced")

// CommandRunner executes an external program. Swapped in tests.
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) error

// YtDlpProvider resolves any source through the yt-dlp executable.
type YtDlpProvider struct {
	binary string
	run    CommandRunner
}

// NewYtDlpProvider constructs the generic provider. A nil runner executes the binary.
func NewYtDlpProvider(binary string, run CommandRunner) *YtDlpProvider {
	if strings.TrimSpace(binary) == "" {
		binary = defaultYtDlpBinary
	}
	if run == nil {
		run = execCommand
	}
	return &YtDlpProvider{binary: binary, run: run}
}

func (p *YtDlpProvider) Name() string {
	return "yt-dlp"
}

func (p *YtDlpProvider) Supports(request FetchRequest) bool {
	return request.Format == FormatVideo || request.Format == FormatAudio
}

func (p *YtDlpProvider) Fetch(ctx context.Context, request FetchRequest) (string, error) {
	if err := p.run(ctx, request.Dir, p.binary, ytDlpArgs(request)...); err != nil {
		return "", err
	}
	return largestFile(request.Dir)
}

func ytDlpArgs(request FetchRequest) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--quiet",
		"--no-warnings",
		"--restrict-filenames",
		"-o", filepath.Join(request.Dir, "%(id)s.%(ext)s"),
	}
	if request.Format == FormatAudio {
		args = append(args,
			"-f", "bestaudio/best",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "192K",
		)
	} else {
		args = append(args,
			"-f", "bestvideo+bestaudio/best",
			"--merge-output-format", "mp4",
		)
	}
	return append(args, "--", request.URL)
}

// largestFile picks the biggest finished file, skipping partial downloads.
func largestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		bestPath string
		bestSize int64 = -1
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), ".part") || strings.HasSuffix(entry.Name(), ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestPath = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}
	if bestPath == "" {
		return "", errNoArtifact
	}
	return bestPath, nil
}

func execCommand(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > maxStderrInError {
			detail = detail[:maxStderrInError]
		}
		return fmt.Errorf("%s: %w: %s", name, err, detail)
	}
	return nil
}
