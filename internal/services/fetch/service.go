package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

const maxFetchBytes = 2 << 20 // 2MB body cap

// Service retrieves page content. A configured fetch workflow endpoint is
// tried first; on failure or when unconfigured, a direct HTTP GET strips the
// page down to readable text.
type Service struct {
	workflowURL string
	client      *http.Client
	stats       *common.ToolStats
	logger      arbor.ILogger
}

// NewService creates the fetch service
func NewService(cfg *common.Config, logger arbor.ILogger) interfaces.FetchService {
	return &Service{
		workflowURL: cfg.Tools.FetchWorkflowURL,
		client:      &http.Client{Timeout: cfg.ToolTimeout()},
		stats:       common.NewToolStats(),
		logger:      logger,
	}
}

// Stats returns per-adapter call, error, and latency counters.
func (s *Service) Stats() map[string]common.ToolStat {
	return s.stats.Snapshot()
}

func (s *Service) Fetch(ctx context.Context, pageURL string) (*interfaces.FetchedPage, error) {
	if pageURL == "" {
		return nil, fmt.Errorf("fetch URL is required")
	}

	if s.workflowURL != "" {
		start := time.Now()
		page, err := s.fetchViaWorkflow(ctx, pageURL)
		s.stats.Record("fetch_workflow", time.Since(start), err)
		if err == nil {
			return page, nil
		}
		s.logger.Warn().
			Err(err).
			Str("url", pageURL).
			Msg("Fetch workflow failed, falling back to direct fetch")
	}

	start := time.Now()
	page, err := s.fetchDirect(ctx, pageURL)
	s.stats.Record("fetch_direct", time.Since(start), err)
	return page, err
}

type workflowFetchRequest struct {
	URL string `json:"url"`
}

type workflowFetchResponse struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Service) fetchViaWorkflow(ctx context.Context, pageURL string) (*interfaces.FetchedPage, error) {
	body, err := json.Marshal(workflowFetchRequest{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.workflowURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch workflow returned status %d", resp.StatusCode)
	}

	var parsed workflowFetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode fetch workflow response: %w", err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return nil, fmt.Errorf("fetch workflow returned empty content")
	}

	return &interfaces.FetchedPage{
		URL:     pageURL,
		Title:   parsed.Title,
		Content: parsed.Content,
	}, nil
}

func (s *Service) fetchDirect(ctx context.Context, pageURL string) (*interfaces.FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", "perquire/"+common.Version)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct fetch failed for %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("direct fetch for %s returned status %d", pageURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	title, content := ExtractReadableText(string(raw), pageURL)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("no readable content extracted from %s", pageURL)
	}

	s.logger.Debug().
		Str("url", pageURL).
		Int("content_length", len(content)).
		Msg("Direct fetch completed")

	return &interfaces.FetchedPage{
		URL:     pageURL,
		Title:   title,
		Content: content,
	}, nil
}

var whitespaceRegex = regexp.MustCompile(`[ \t]+`)
var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

// ExtractReadableText strips chrome elements from an HTML document and
// converts the remainder to markdown. Falls back to the document text when
// conversion fails.
func ExtractReadableText(html, baseURL string) (title, content string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", collapseWhitespace(html)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, nav, footer, aside, noscript, iframe").Remove()

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		return title, collapseWhitespace(doc.Text())
	}

	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(body)
	if err != nil || strings.TrimSpace(converted) == "" {
		return title, collapseWhitespace(doc.Text())
	}

	return title, collapseWhitespace(converted)
}

func collapseWhitespace(text string) string {
	text = whitespaceRegex.ReplaceAllString(text, " ")
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
