package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vigilintel/internal/domain"
	"vigilintel/internal/ports"
)

// HTTPSource downloads daily STIX report files from the configured
// URL template.
type HTTPSource struct {
	baseURL  string
	language string
	client   *http.Client
	logger   *slog.Logger
}

var _ ports.ReportSource = (*HTTPSource)(nil)

// NewHTTPSource wires an HTTP client; timeout defaults to 30 seconds.
func NewHTTPSource(baseURL, language string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL:  baseURL,
		language: language,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// FetchBundle downloads and decodes the report published for day.
func (s *HTTPSource) FetchBundle(ctx context.Context, day time.Time) (domain.Bundle, error) {
	reportURL := BuildURL(s.baseURL, day, s.language)
	s.debug("fetching report", "url", reportURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "vigilintel-connector/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", reportURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", reportURL, domain.ErrReportNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", reportURL, resp.Status)
	}

	var bundle domain.Bundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", reportURL, err)
	}

	return bundle, nil
}

// BuildURL substitutes year, zero-padded month and day, and the language
// code into the URL template.
func BuildURL(template string, day time.Time, language string) string {
	day = day.UTC()
	replacer := strings.NewReplacer(
		"{year}", day.Format("2006"),
		"{month}", day.Format("01"),
		"{day}", day.Format("02"),
		"{lang}", language,
	)
	return replacer.Replace(template)
}

func (s *HTTPSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
