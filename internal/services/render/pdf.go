package render

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RenderPDF converts the report markdown to a PDF byte slice. Report
// structure is headings, paragraphs, lists, emphasis, and code; tables are
// flattened to plain lines.
func (s *Service) RenderPDF(markdown, title string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetTitle(title, true)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 10)

	source := []byte(markdown)
	doc := s.md.Parser().Parse(text.NewReader(source))

	w := &pdfWriter{pdf: pdf, source: source}
	if err := ast.Walk(doc, w.walk); err != nil {
		return nil, fmt.Errorf("failed to walk markdown tree: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	pdf       *fpdf.Fpdf
	source    []byte
	bold      bool
	italic    bool
	listDepth int
}

func (w *pdfWriter) applyFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont("Arial", style, 10)
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			w.pdf.Ln(5)
			size := 15.0 - float64(node.Level)
			if size < 10 {
				size = 10
			}
			w.pdf.SetFont("Arial", "B", size)
		} else {
			w.pdf.Ln(6)
			w.applyFont()
		}

	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(6)
			if w.listDepth == 0 {
				w.pdf.Ln(2)
			}
		}

	case *ast.Text:
		if entering {
			w.pdf.Write(5, string(node.Text(w.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.pdf.Write(5, " ")
			}
		}

	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.applyFont()

	case *ast.CodeSpan:
		if entering {
			w.pdf.SetFont("Courier", "", 9)
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					w.pdf.Write(5, string(t.Segment.Value(w.source)))
				}
			}
			w.applyFont()
		}
		return ast.WalkSkipChildren, nil

	case *ast.FencedCodeBlock:
		if entering {
			w.writeCodeLines(node.Lines())
		}
		return ast.WalkSkipChildren, nil

	case *ast.CodeBlock:
		if entering {
			w.writeCodeLines(node.Lines())
		}
		return ast.WalkSkipChildren, nil

	case *ast.List:
		if entering {
			w.listDepth++
		} else {
			w.listDepth--
			if w.listDepth == 0 {
				w.pdf.Ln(2)
			}
		}

	case *ast.ListItem:
		if entering {
			w.pdf.Ln(5)
			w.pdf.SetX(15 + float64(w.listDepth)*4)
			w.pdf.Write(5, "- ")
		}

	case *ast.ThematicBreak:
		if entering {
			w.pdf.Ln(3)
			w.pdf.Line(15, w.pdf.GetY(), 195, w.pdf.GetY())
			w.pdf.Ln(3)
		}
	}

	return ast.WalkContinue, nil
}

func (w *pdfWriter) writeCodeLines(lines *text.Segments) {
	w.pdf.Ln(2)
	w.pdf.SetFont("Courier", "", 8)
	w.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.pdf.MultiCell(0, 4, string(seg.Value(w.source)), "", "L", true)
	}
	w.pdf.SetFillColor(255, 255, 255)
	w.applyFont()
	w.pdf.Ln(2)
}
