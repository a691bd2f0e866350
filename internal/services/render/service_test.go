package render

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

const sampleReport = `# Research Report

## Executive Summary

The finding is **significant** [1](#ref-1).

## Analysis

- First point
- Second point

## References

1. <a id="ref-1"></a> [Example](https://example.com) (accessed 2026-08-24)
`

func TestRenderAllProducesAllFormats(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	outputs, err := svc.RenderAll(sampleReport, "Research Report")
	require.NoError(t, err)
	require.Len(t, outputs, 4)

	formats := map[string]Output{}
	for _, out := range outputs {
		formats[out.Format] = out
		assert.NotEmpty(t, out.Data, "format %s should have content", out.Format)
	}

	assert.Contains(t, string(formats["md"].Data), "# Research Report")
	assert.Contains(t, string(formats["html"].Data), "<h2")
	assert.Contains(t, string(formats["html"].Data), "ref-1")
	assert.True(t, bytes.HasPrefix(formats["pdf"].Data, []byte("%PDF")))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", formats["docx"].ContentType)
}

func TestRenderAllRejectsEmpty(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	_, err := svc.RenderAll("", "title")
	assert.Error(t, err)
}

func TestRenderHTMLEscapesTitle(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	html, err := svc.RenderHTML("content", `<script>bad</script>`)
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<script>bad")
}

func TestRenderDOCXIsValidZip(t *testing.T) {
	data, err := RenderDOCX(sampleReport, "Research Report")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var docXML string
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			docXML = string(content)
		}
	}
	require.NotEmpty(t, docXML, "document.xml missing from archive")
	assert.Contains(t, docXML, "Research Report")
	assert.Contains(t, docXML, "Heading1")
	assert.Contains(t, docXML, "significant")
}
