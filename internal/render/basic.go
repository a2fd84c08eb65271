package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BasicEngine lays out the text content of an HTML document with fpdf. It
// does not run scripts or apply CSS; it is the fallback when no browser-based
// renderer is configured.
type BasicEngine struct{}

// NewBasicEngine creates a BasicEngine.
func NewBasicEngine() *BasicEngine {
	return &BasicEngine{}
}

// Acquire returns a session. Basic sessions hold no resources.
func (e *BasicEngine) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return basicSession{}, nil
}

type basicSession struct{}

func (basicSession) Close() error { return nil }

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading1
	blockHeading2
	blockHeading3
	blockListItem
	blockPreformatted
	blockRule
)

type block struct {
	kind blockKind
	text string
}

var (
	colorText  = [3]int{33, 37, 41}
	colorMuted = [3]int{108, 117, 125}
	colorRule  = [3]int{206, 212, 218}
)

func (basicSession) Render(ctx context.Context, doc string, opts Options) ([]byte, error) {
	title, blocks, err := extractBlocks(doc)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	orientation := "P"
	if opts.Landscape {
		orientation = "L"
	}
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: opts.Page.Width, Ht: opts.Page.Height},
	})
	pdf.SetMargins(opts.Margins.Left, opts.Margins.Top, opts.Margins.Right)
	pdf.SetAutoPageBreak(true, opts.Margins.Bottom)
	if title != "" {
		pdf.SetTitle(title, true)
	}
	pdf.SetCreator("pdfforge", true)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pdf.SetTextColor(colorText[0], colorText[1], colorText[2])

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		writeBlock(pdf, tr, b, opts)
	}
	if len(blocks) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
		pdf.CellFormat(0, 6, tr("(empty document)"), "", 1, "L", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBlock(pdf *fpdf.Fpdf, tr func(string) string, b block, opts Options) {
	switch b.kind {
	case blockHeading1:
		pdf.SetFont("Helvetica", "B", 20)
		pdf.MultiCell(0, 9, tr(b.text), "", "L", false)
		pdf.Ln(3)
	case blockHeading2:
		pdf.SetFont("Helvetica", "B", 16)
		pdf.MultiCell(0, 8, tr(b.text), "", "L", false)
		pdf.Ln(2)
	case blockHeading3:
		pdf.SetFont("Helvetica", "B", 13)
		pdf.MultiCell(0, 7, tr(b.text), "", "L", false)
		pdf.Ln(1)
	case blockListItem:
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetX(opts.Margins.Left + 4)
		pdf.MultiCell(0, 6, tr("- "+b.text), "", "L", false)
	case blockPreformatted:
		pdf.SetFont("Courier", "", 9)
		if opts.PrintBackground {
			pdf.SetFillColor(246, 248, 250)
		}
		pdf.MultiCell(0, 4.5, tr(b.text), "", "L", opts.PrintBackground)
		pdf.Ln(2)
	case blockRule:
		w, _ := opts.PageDimensions()
		y := pdf.GetY() + 2
		pdf.SetDrawColor(colorRule[0], colorRule[1], colorRule[2])
		pdf.Line(opts.Margins.Left, y, w-opts.Margins.Right, y)
		pdf.Ln(5)
	default:
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr(b.text), "", "L", false)
		pdf.Ln(2)
	}
}

// extractBlocks walks the parsed document and flattens it into text blocks.
func extractBlocks(doc string) (string, []block, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", nil, err
	}

	var (
		title  string
		blocks []block
		buf    strings.Builder
		kind   = blockParagraph
	)

	flush := func() {
		text := collapseSpace(buf.String())
		buf.Reset()
		if text != "" {
			blocks = append(blocks, block{kind: kind, text: text})
		}
		kind = blockParagraph
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				title = findTitle(n)
				return
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Br:
				buf.WriteByte('\n')
				return
			case atom.Hr:
				flush()
				blocks = append(blocks, block{kind: blockRule})
				return
			case atom.Pre:
				flush()
				blocks = append(blocks, block{kind: blockPreformatted, text: strings.Trim(textOf(n), "\n")})
				return
			}
			if k, ok := blockKindOf(n.DataAtom); ok {
				flush()
				kind = k
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c)
				}
				flush()
				return
			}
		}
		if n.Type == html.TextNode {
			// Source newlines are plain whitespace; only <br> breaks a line.
			buf.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	flush()

	return title, blocks, nil
}

func blockKindOf(a atom.Atom) (blockKind, bool) {
	switch a {
	case atom.H1:
		return blockHeading1, true
	case atom.H2:
		return blockHeading2, true
	case atom.H3, atom.H4, atom.H5, atom.H6:
		return blockHeading3, true
	case atom.Li:
		return blockListItem, true
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.Blockquote, atom.Tr, atom.Ul, atom.Ol, atom.Table, atom.Main, atom.Nav:
		return blockParagraph, true
	}
	return 0, false
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Title {
			return strings.Join(strings.Fields(textOf(c)), " ")
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// collapseSpace folds runs of whitespace to single spaces, keeping explicit
// line breaks.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if f := strings.Join(strings.Fields(line), " "); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, "\n")
}
