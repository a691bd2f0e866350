package render

import (
	"bytes"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// Output is one rendered report file
type Output struct {
	Format      string
	ContentType string
	Data        []byte
}

// Service renders a finished markdown report into the published formats:
// markdown (as-is), standalone HTML, PDF, and DOCX.
type Service struct {
	md     goldmark.Markdown
	logger arbor.ILogger
}

// NewService creates the report render service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		logger: logger,
	}
}

// RenderAll produces every report format. A failure in one format fails the
// whole render; publishing is all-or-nothing.
func (s *Service) RenderAll(markdown, title string) ([]Output, error) {
	if markdown == "" {
		return nil, fmt.Errorf("report markdown is empty")
	}

	html, err := s.RenderHTML(markdown, title)
	if err != nil {
		return nil, fmt.Errorf("HTML render failed: %w", err)
	}

	pdf, err := s.RenderPDF(markdown, title)
	if err != nil {
		return nil, fmt.Errorf("PDF render failed: %w", err)
	}

	docx, err := RenderDOCX(markdown, title)
	if err != nil {
		return nil, fmt.Errorf("DOCX render failed: %w", err)
	}

	outputs := []Output{
		{Format: "md", ContentType: "text/markdown", Data: []byte(markdown)},
		{Format: "html", ContentType: "text/html", Data: html},
		{Format: "pdf", ContentType: "application/pdf", Data: pdf},
		{Format: "docx", ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Data: docx},
	}

	s.logger.Debug().
		Int("formats", len(outputs)).
		Int("markdown_len", len(markdown)).
		Msg("Report rendered")
	return outputs, nil
}

const htmlShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1a1a1a; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
code { background: #f4f4f4; padding: 0.1em 0.3em; border-radius: 3px; }
pre { background: #f4f4f4; padding: 1em; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.6em; }
a { color: #0b5394; }
</style>
</head>
<body>
%s</body>
</html>
`

// RenderHTML converts the report to a standalone HTML document.
func (s *Service) RenderHTML(markdown, title string) ([]byte, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("markdown conversion failed: %w", err)
	}
	return []byte(fmt.Sprintf(htmlShell, htmlEscape(title), body.String())), nil
}

func htmlEscape(text string) string {
	var b bytes.Buffer
	for _, r := range text {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
