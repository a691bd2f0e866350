package render

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// RenderDOCX produces a minimal WordprocessingML document from the report
// markdown. Headings and paragraphs only; inline markup is flattened to
// text. The output opens in Word, LibreOffice, and Google Docs.
func RenderDOCX(markdown, title string) ([]byte, error) {
	var body strings.Builder
	for _, block := range splitBlocks(markdown) {
		level, text := blockHeading(block)
		if text == "" {
			continue
		}
		if level > 0 {
			body.WriteString(fmt.Sprintf(
				`<w:p><w:pPr><w:pStyle w:val="Heading%d"/></w:pPr><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
				level, xmlEscape(text)))
		} else {
			body.WriteString(fmt.Sprintf(
				`<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`,
				xmlEscape(text)))
		}
	}

	document := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>%s</w:body></w:document>`, body.String())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`,
		"word/document.xml": document,
	}

	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize docx: %w", err)
	}
	return buf.Bytes(), nil
}

// splitBlocks breaks markdown into paragraph-level blocks.
func splitBlocks(markdown string) []string {
	var blocks []string
	for _, block := range strings.Split(markdown, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				blocks = append(blocks, strings.TrimSpace(line))
			} else if strings.TrimSpace(line) != "" {
				if len(blocks) > 0 && !strings.HasPrefix(blocks[len(blocks)-1], "#") && !strings.HasSuffix(blocks[len(blocks)-1], "\x00") {
					blocks[len(blocks)-1] += " " + strings.TrimSpace(line)
				} else {
					blocks = append(blocks, strings.TrimSpace(line))
				}
			}
		}
		if len(blocks) > 0 {
			blocks[len(blocks)-1] += "\x00" // Block boundary marker
		}
	}
	for i := range blocks {
		blocks[i] = strings.TrimSuffix(blocks[i], "\x00")
	}
	return blocks
}

// blockHeading returns the heading level (0 for body text) and the plain
// text of a block, stripping markdown inline markup.
func blockHeading(block string) (int, string) {
	level := 0
	text := block
	for strings.HasPrefix(text, "#") {
		level++
		text = text[1:]
	}
	if level > 6 {
		level = 6
	}
	text = strings.TrimSpace(text)
	replacer := strings.NewReplacer("**", "", "*", "", "`", "")
	return level, replacer.Replace(text)
}

func xmlEscape(text string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	).Replace(text)
}
