package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
)

func TestExtractReadableText(t *testing.T) {
	html := `<html><head><title>Test Page</title>
<style>body { color: red; }</style>
<script>console.log("noise")</script></head>
<body><nav>menu</nav><h1>Heading</h1><p>First paragraph.</p>
<p>Second   paragraph.</p><footer>footer junk</footer></body></html>`

	title, content := ExtractReadableText(html, "https://example.com")

	assert.Equal(t, "Test Page", title)
	assert.Contains(t, content, "Heading")
	assert.Contains(t, content, "First paragraph.")
	assert.NotContains(t, content, "console.log")
	assert.NotContains(t, content, "color: red")
	assert.NotContains(t, content, "menu")
	assert.NotContains(t, content, "footer junk")
}

func TestFetchDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Doc</title></head><body><p>hello world</p></body></html>`))
	}))
	defer server.Close()

	svc := &Service{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: arbor.NewLogger(),
	}

	page, err := svc.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Doc", page.Title)
	assert.Contains(t, page.Content, "hello world")
}

func TestFetchWorkflowFallsBackToDirect(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>fallback content</p></body></html>`))
	}))
	defer direct.Close()

	workflow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer workflow.Close()

	svc := &Service{
		workflowURL: workflow.URL,
		client:      &http.Client{Timeout: 5 * time.Second},
		stats:       common.NewToolStats(),
		logger:      arbor.NewLogger(),
	}

	page, err := svc.Fetch(context.Background(), direct.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Content, "fallback content")

	// The failed workflow attempt and the successful fallback both count.
	stats := svc.Stats()
	assert.EqualValues(t, 1, stats["fetch_workflow"].Errors)
	assert.EqualValues(t, 1, stats["fetch_direct"].Calls)
	assert.EqualValues(t, 0, stats["fetch_direct"].Errors)
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	svc := &Service{client: http.DefaultClient, logger: arbor.NewLogger()}
	_, err := svc.Fetch(context.Background(), "")
	assert.Error(t, err)
}
