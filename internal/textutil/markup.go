package textutil

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P:  true,
	atom.H1: true,
	atom.H2: true,
	atom.H3: true,
	atom.H4: true,
	atom.H5: true,
	atom.H6: true,
	atom.Li: true,
}

// FlattenMarkup extracts narration text from chapter markup. Only the text of
// paragraphs, headings, and list items is kept, in document order, with
// whitespace collapsed and blocks joined by single spaces. Text nested in a
// block inside another block is emitted once. Markup without any block
// elements is treated as plain text.
func FlattenMarkup(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return collapse(markup)
	}

	f := &flattener{}
	f.walk(doc, false)
	f.flush()
	if !f.sawBlock {
		return collapse(textContent(doc))
	}
	return strings.Join(f.blocks, " ")
}

type flattener struct {
	blocks   []string
	current  strings.Builder
	sawBlock bool
}

func (f *flattener) walk(n *html.Node, inBlock bool) {
	switch n.Type {
	case html.TextNode:
		if inBlock {
			f.current.WriteString(n.Data)
		}
		return
	case html.ElementNode:
		switch {
		case n.DataAtom == atom.Script || n.DataAtom == atom.Style:
			return
		case n.DataAtom == atom.Br:
			if inBlock {
				f.current.WriteByte(' ')
			}
			return
		case blockElements[n.DataAtom]:
			f.sawBlock = true
			f.flush()
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				f.walk(c, true)
			}
			f.flush()
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		f.walk(c, inBlock)
	}
}

func (f *flattener) flush() {
	if text := collapse(f.current.String()); text != "" {
		f.blocks = append(f.blocks, text)
	}
	f.current.Reset()
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
