package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/sirupsen/logrus"
)

const (
	tokenHeader      = "X-Proxy-Token"
	maxResponseBytes = 64 << 20
)

type transcriptResponse struct {
	VideoID      string           `json:"video_id"`
	Language     string           `json:"language"`
	LanguageCode string           `json:"language_code"`
	IsGenerated  bool             `json:"is_generated"`
	Segments     []models.Segment `json:"segments"`
}

type listResponse struct {
	VideoID     string                  `json:"video_id"`
	Transcripts []models.TranscriptInfo `json:"transcripts"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// Client calls a transcript gateway over HTTP. Each call is a single request
// with no retry.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL, token string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Fetch(ctx context.Context, videoID, language string) (*models.Transcript, error) {
	const op = "Client.Fetch"

	endpoint := fmt.Sprintf("%s/transcript/%s?lang=%s", c.baseURL, url.PathEscape(videoID), url.QueryEscape(language))

	var body transcriptResponse
	if err := c.get(ctx, op, endpoint, &body); err != nil {
		return nil, err
	}

	return models.NewTranscript(videoID, body.Language, body.LanguageCode, body.IsGenerated, body.Segments), nil
}

func (c *Client) List(ctx context.Context, videoID string) ([]models.TranscriptInfo, error) {
	const op = "Client.List"

	endpoint := fmt.Sprintf("%s/transcripts/%s", c.baseURL, url.PathEscape(videoID))

	var body listResponse
	if err := c.get(ctx, op, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Transcripts == nil {
		return []models.TranscriptInfo{}, nil
	}
	return body.Transcripts, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Internal(op, err, "failed to build request")
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"op":       op,
			"endpoint": c.baseURL,
		}).WithField("transport_failure", true).WithError(err).Error("Gateway request failed")
		return errors.Upstream(op, err, fmt.Sprintf("Connection error: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Upstream(op, err, fmt.Sprintf("Connection error: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return c.decodeError(op, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Upstream(op, err, "Invalid response from transcript gateway")
	}
	return nil
}

// decodeError maps a gateway error document back into the error taxonomy.
// Only an explicit code is trusted for domain kinds.
func (c *Client) decodeError(op string, status int, data []byte) error {
	var body errorResponse
	_ = json.Unmarshal(data, &body)

	message := body.Detail
	if message == "" {
		message = body.Error
	}

	if kind, ok := errors.ParseKind(body.Code); ok && message != "" {
		return errors.FromKind(op, kind, message)
	}

	if status == http.StatusUnauthorized {
		return errors.Unauthorized(op)
	}

	if message == "" {
		message = http.StatusText(status)
	}
	c.logger.WithFields(logrus.Fields{
		"op":     op,
		"status": status,
	}).Warn("Gateway returned an unclassified error")
	return errors.Upstream(op, nil, fmt.Sprintf("HTTP %d: %s", status, message))
}
