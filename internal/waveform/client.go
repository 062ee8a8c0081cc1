package waveform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"github.com/mixforge/mixforge/internal/models"
)

// DefaultTimeout is the default analysis request timeout
const DefaultTimeout = 60 * time.Second

// ServiceClient calls the external audio-analysis service
type ServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// ClientOption configures the ServiceClient
type ClientOption func(*ServiceClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *ServiceClient) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets a logger
func WithClientLogger(logger arbor.ILogger) ClientOption {
	return func(c *ServiceClient) {
		c.logger = logger
	}
}

// NewServiceClient creates a client for the analysis endpoint
func NewServiceClient(baseURL string, opts ...ClientOption) *ServiceClient {
	c := &ServiceClient{
		baseURL:    trimServiceURL(baseURL),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = arbor.NewLogger()
	}
	return c
}

type analyzeRequest struct {
	FileURL    string `json:"file_url"`
	PeaksCount int    `json:"peaks_count"`
}

// Analyze posts the source URL and returns the parsed waveform. The service
// sits behind a gateway, so the payload arrives in one of three accepted
// shapes: plain, enveloped (statusCode + JSON-string body), or enveloped
// with an additionally quote-escaped body.
func (c *ServiceClient) Analyze(ctx context.Context, sourceURL string, peaksCount int) (*models.WaveformResult, error) {
	payload, err := json.Marshal(analyzeRequest{FileURL: sourceURL, PeaksCount: peaksCount})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid analysis service url: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis service returned status %d", resp.StatusCode)
	}

	result, err := parseServiceResponse(raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("url", sourceURL).
		Int("peaks", len(result.Peaks)).
		Msg("Remote analysis complete")
	return result, nil
}

// parseServiceResponse unwraps the gateway envelope and decodes the payload
func parseServiceResponse(raw []byte) (*models.WaveformResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("analysis response is not valid JSON")
	}

	parsed := gjson.ParseBytes(raw)

	// Gateway envelope: {"statusCode": 200, "body": "<json string>"}
	if parsed.Get("statusCode").Exists() && parsed.Get("body").Exists() {
		inner := parsed.Get("body").String()
		// Some gateway versions quote the body twice; one more decode
		// turns the string literal back into the payload
		if p := gjson.Parse(inner); p.Type == gjson.String && gjson.Valid(inner) {
			inner = p.String()
		}
		if !gjson.Valid(inner) {
			return nil, fmt.Errorf("analysis envelope body is not valid JSON")
		}
		parsed = gjson.Parse(inner)
	}

	// Error payloads come back under error/message instead of data
	if errField := parsed.Get("error"); errField.Exists() && errField.String() != "" {
		return nil, fmt.Errorf("analysis service error: %s", errField.String())
	}
	if !parsed.Get("duration").Exists() && !parsed.Get("peaks").Exists() {
		if msg := parsed.Get("message").String(); msg != "" {
			return nil, fmt.Errorf("analysis service error: %s", msg)
		}
		return nil, fmt.Errorf("analysis response missing duration and peaks")
	}

	result := &models.WaveformResult{}
	if d := parsed.Get("duration"); d.Exists() && d.Type == gjson.Number {
		duration := d.Float()
		if duration >= 0 {
			result.Duration = &duration
		}
	}
	result.Peaks = decodePeaks(parsed.Get("peaks"))
	result.Clamp()
	return result, nil
}

// decodePeaks accepts both pair arrays ([[min,max],...]) and flat max-value
// arrays ([v1,v2,...]), mirroring the two formats the service has shipped.
func decodePeaks(value gjson.Result) []models.PeakPair {
	if !value.IsArray() {
		return nil
	}
	var peaks []models.PeakPair
	value.ForEach(func(_, entry gjson.Result) bool {
		if entry.IsArray() {
			pair := entry.Array()
			if len(pair) >= 2 {
				peaks = append(peaks, models.PeakPair{pair[0].Float(), pair[1].Float()})
			}
			return true
		}
		v := entry.Float()
		if v < 0 {
			v = -v
		}
		peaks = append(peaks, models.PeakPair{-v, v})
		return true
	})
	return peaks
}

// trimServiceURL normalizes the configured endpoint
func trimServiceURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
