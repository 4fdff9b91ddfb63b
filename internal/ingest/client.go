package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
)

// defaultEndpointTimeout bounds a single request when the endpoint settings
// leave the timeout unset.
const defaultEndpointTimeout = 30 * time.Second

// HTTPSource polls finished spans from an HTTP span feed: GET
// {url}/spans?from=<unix_us>&to=<unix_us> returning a JSON array of spans.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource builds a source from endpoint settings.
func NewHTTPSource(settings config.EndpointSettings) *HTTPSource {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultEndpointTimeout
	}

	return &HTTPSource{
		base:   settings.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Spans implements [Source].
func (s *HTTPSource) Spans(ctx context.Context, from, to time.Time) ([]Span, error) {
	endpoint, err := url.Parse(s.base + "/spans")
	if err != nil {
		return nil, fmt.Errorf("span feed url: %w", err)
	}

	query := endpoint.Query()
	query.Set("from", strconv.FormatInt(from.UnixMicro(), 10))
	query.Set("to", strconv.FormatInt(to.UnixMicro(), 10))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build span request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch spans: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch spans: unexpected status %s", resp.Status)
	}

	var spans []Span

	err = json.NewDecoder(resp.Body).Decode(&spans)
	if err != nil {
		return nil, fmt.Errorf("decode spans: %w", err)
	}

	return spans, nil
}

// HTTPPublisher pushes derived samples to the metrics backend: POST
// {url}/samples with a JSON array body.
type HTTPPublisher struct {
	base   string
	client *http.Client
}

// NewHTTPPublisher builds a publisher from endpoint settings.
func NewHTTPPublisher(settings config.EndpointSettings) *HTTPPublisher {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultEndpointTimeout
	}

	return &HTTPPublisher{
		base:   settings.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Publish implements [Publisher].
func (p *HTTPPublisher) Publish(ctx context.Context, samples []Sample) error {
	body, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/samples", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish samples: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("publish samples: unexpected status %s", resp.Status)
	}

	return nil
}
