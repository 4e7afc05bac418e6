package fetch

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// boilerplate lists elements whose subtrees carry no readable content:
// scripting, chrome, and navigation.
var boilerplate = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Aside:    true,
	atom.Header:   true,
	atom.Footer:   true,
}

// blockLevel lists elements that separate paragraphs in the output.
var blockLevel = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Details: true,
	atom.Summary: true, atom.Hr: true,
}

// extractHTML parses a page and returns its title and readable text.
// When the document has an <article> or <main> landmark, only that
// subtree is rendered; otherwise the whole body is used.
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// html.Parse almost never fails, but tokenize as a last resort.
		return "", tokenizeText(raw)
	}

	title := nodeText(findElement(doc, atom.Title))

	root := findElement(doc, atom.Article)
	if root == nil {
		root = findElement(doc, atom.Main)
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	renderText(root, &b)
	return title, tidyWhitespace(b.String())
}

// findElement returns the first element of the given kind in document
// order, or nil.
func findElement(n *html.Node, kind atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == kind {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, kind); found != nil {
			return found
		}
	}
	return nil
}

// nodeText concatenates the text content of a subtree.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return strings.TrimSpace(b.String())
}

// renderText walks the subtree appending visible text, inserting
// paragraph breaks at block boundaries and line breaks for list items.
func renderText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if boilerplate[n.DataAtom] {
			return
		}
		if blockLevel[n.DataAtom] && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(c, b)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		b.WriteByte('\n')
	}
}

// tidyWhitespace collapses intra-line runs of whitespace and squeezes
// consecutive blank lines down to one.
func tidyWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// tokenizeText strips markup with the tokenizer, keeping text tokens
// only. Used when full parsing is unavailable.
func tokenizeText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				break
			}
			return tidyWhitespace(b.String())
		case html.TextToken:
			b.WriteString(z.Token().Data)
			b.WriteByte(' ')
		}
		if z.Err() != nil {
			return tidyWhitespace(b.String())
		}
	}
}
