// Package content turns captured page HTML into readable text.
package content

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// Document is the readable form of a page.
type Document struct {
	Title      string
	Text       string
	Paragraphs []string
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Main: true, atom.Blockquote: true,
	atom.Pre: true, atom.Tr: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Dd: true, atom.Dt: true, atom.Figcaption: true, atom.Header: true, atom.Hr: true,
}

// Extract parses page HTML. The main content root is the first <article>,
// then <main>, then <body>.
func Extract(page string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	doc := &Document{Title: findTitle(root)}

	start := findFirst(root, atom.Article)
	if start == nil {
		start = findFirst(root, atom.Main)
	}
	if start == nil {
		start = findFirst(root, atom.Body)
	}
	if start == nil {
		start = root
	}

	w := &textWriter{}
	w.walk(start)
	w.flush()

	doc.Paragraphs = w.paragraphs
	doc.Text = strings.Join(w.paragraphs, "\n\n")
	return doc, nil
}

// ExtractTitle returns the page <title>, or "" if there is none.
func ExtractTitle(page string) string {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	return findTitle(root)
}

func findTitle(root *html.Node) string {
	n := findFirst(root, atom.Title)
	if n == nil {
		return ""
	}

	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return normalize(b.String())
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

type textWriter struct {
	current    strings.Builder
	paragraphs []string
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.current.WriteString(n.Data)
		w.current.WriteByte(' ')
		return
	case html.ElementNode:
		if skipped[n.DataAtom] || hidden(n) {
			return
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.flush()
	}
}

func (w *textWriter) flush() {
	text := normalize(w.current.String())
	w.current.Reset()
	if text != "" {
		w.paragraphs = append(w.paragraphs, text)
	}
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		}
	}
	return false
}

// normalize applies NFC and collapses whitespace runs to single spaces.
func normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
