package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/sirupsen/logrus"
)

// Fetcher retrieves one transcript in the preferred language.
type Fetcher interface {
	Fetch(ctx context.Context, videoID, language string) (*models.Transcript, error)
}

// Lister lists the transcript tracks available for a video.
type Lister interface {
	List(ctx context.Context, videoID string) ([]models.TranscriptInfo, error)
}

type Provider interface {
	Fetcher
	Lister
}

// Error types the provider helper reports. Anything else is an upstream failure.
const (
	scriptTranscriptsDisabled   = "TranscriptsDisabled"
	scriptNoTranscriptFound     = "NoTranscriptFound"
	scriptNoTranscriptAvailable = "NoTranscriptAvailable"
	scriptVideoUnavailable      = "VideoUnavailable"
)

type scriptError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type scriptTranscript struct {
	Language     string           `json:"language"`
	LanguageCode string           `json:"language_code"`
	IsGenerated  bool             `json:"is_generated"`
	Segments     []models.Segment `json:"segments"`
}

// scriptResult is the envelope printed by the provider helper. Exactly one
// field is set.
type scriptResult struct {
	Transcript  *scriptTranscript       `json:"transcript"`
	Transcripts []models.TranscriptInfo `json:"transcripts"`
	Error       *scriptError            `json:"error"`
}

// ScriptProvider talks to the transcript provider through a helper process
// that prints a single JSON envelope on stdout.
type ScriptProvider struct {
	command  []string
	proxyURL string
	timeout  time.Duration
	logger   *logrus.Logger

	ExecuteScriptFunc func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewScriptProvider splits command on whitespace, e.g.
// "uv run scripts/transcript_provider.py". proxyURL, when set, routes both
// HTTP and HTTPS provider traffic.
func NewScriptProvider(command, proxyURL string, timeout time.Duration, logger *logrus.Logger) *ScriptProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ScriptProvider{
		command:           strings.Fields(command),
		proxyURL:          proxyURL,
		timeout:           timeout,
		logger:            logger,
		ExecuteScriptFunc: executeScript,
	}
}

func (p *ScriptProvider) Fetch(ctx context.Context, videoID, language string) (*models.Transcript, error) {
	const op = "ScriptProvider.Fetch"

	res, err := p.run(ctx, op, "fetch", videoID, "--lang", language)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, p.mapError(op, videoID, language, "Error fetching transcript", res.Error)
	}
	if res.Transcript == nil {
		return nil, errors.Upstream(op, nil, "Error fetching transcript: empty provider response")
	}

	t := res.Transcript
	return models.NewTranscript(videoID, t.Language, t.LanguageCode, t.IsGenerated, t.Segments), nil
}

func (p *ScriptProvider) List(ctx context.Context, videoID string) ([]models.TranscriptInfo, error) {
	const op = "ScriptProvider.List"

	res, err := p.run(ctx, op, "list", videoID)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, p.mapError(op, videoID, "", "Error listing transcripts", res.Error)
	}
	if res.Transcripts == nil {
		return []models.TranscriptInfo{}, nil
	}
	return res.Transcripts, nil
}

func (p *ScriptProvider) run(ctx context.Context, op, subcommand, videoID string, extra ...string) (*scriptResult, error) {
	if len(p.command) == 0 {
		return nil, errors.Internal(op, nil, "provider command is not configured")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := append([]string{}, p.command[1:]...)
	args = append(args, subcommand, videoID)
	args = append(args, extra...)
	if p.proxyURL != "" {
		args = append(args, "--proxy", p.proxyURL)
	}

	output, execErr := p.ExecuteScriptFunc(ctx, p.command[0], args...)

	var res scriptResult
	if err := json.Unmarshal(output, &res); err != nil || (res.Error == nil && res.Transcript == nil && res.Transcripts == nil) {
		cause := execErr
		if cause == nil {
			cause = fmt.Errorf("unreadable provider output: %q", truncate(string(output), 200))
		}
		p.logger.WithFields(logrus.Fields{
			"op":       op,
			"video_id": videoID,
		}).WithField("transport_failure", true).WithError(cause).Error("Provider helper failed")
		return nil, errors.Upstream(op, cause, upstreamPrefix(subcommand)+": "+cause.Error())
	}

	return &res, nil
}

func (p *ScriptProvider) mapError(op, videoID, language, prefix string, e *scriptError) error {
	var err error
	switch e.Type {
	case scriptTranscriptsDisabled:
		err = errors.TranscriptsDisabled(op)
	case scriptNoTranscriptFound:
		err = errors.NoTranscriptFound(op, language)
	case scriptNoTranscriptAvailable:
		err = errors.NoTranscriptAvailable(op)
	case scriptVideoUnavailable:
		err = errors.VideoUnavailable(op)
	default:
		p.logger.WithFields(logrus.Fields{
			"op":         op,
			"video_id":   videoID,
			"error_type": e.Type,
		}).Error("Provider returned an unexpected error")
		return errors.Upstream(op, nil, fmt.Sprintf("%s: %s", prefix, e.Message))
	}

	p.logger.WithFields(logrus.Fields{
		"op":       op,
		"video_id": videoID,
		"kind":     errors.KindOf(err).String(),
	}).Info("Provider reported no transcript")
	return err
}

func upstreamPrefix(subcommand string) string {
	if subcommand == "list" {
		return "Error listing transcripts"
	}
	return "Error fetching transcript"
}

func executeScript(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%v (stderr: %s)", err, truncate(strings.TrimSpace(stderr.String()), 500))
	}
	return stdout.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
