// Package richtext handles the HTML markup the editor stores as document
// content: plain-text extraction for search and prompts, and sanitizing
// before the markup is rendered into exports.
package richtext

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Tr: true, atom.Hr: true,
}

var allowedElements = map[atom.Atom]bool{
	atom.P: true, atom.Br: true, atom.Hr: true, atom.Div: true, atom.Span: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Strong: true, atom.B: true, atom.Em: true, atom.I: true, atom.U: true, atom.S: true,
	atom.Sub: true, atom.Sup: true, atom.Mark: true, atom.Code: true, atom.Pre: true,
	atom.Blockquote: true, atom.Ul: true, atom.Ol: true, atom.Li: true, atom.A: true,
	atom.Table: true, atom.Thead: true, atom.Tbody: true, atom.Tr: true, atom.Th: true, atom.Td: true,
	atom.Img: true,
}

// dropped with their whole subtree
var strippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Form: true, atom.Noscript: true, atom.Template: true,
}

var allowedAttrs = map[string]bool{
	"href": true, "src": true, "alt": true, "title": true,
	"colspan": true, "rowspan": true, "style": true, "class": true,
}

// PlainText flattens markup to text, one line per block element.
func PlainText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return strings.TrimSpace(markup)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
			return
		case html.ElementNode:
			if strippedElements[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return collapse(b.String())
}

func collapse(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Sanitize keeps formatting markup and removes scripts, event handlers and
// javascript: URLs. Unknown elements are unwrapped, keeping their text.
func Sanitize(markup string) string {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return html.EscapeString(markup)
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		for _, clean := range sanitizeNode(n) {
			_ = html.Render(&buf, clean)
		}
	}
	return buf.String()
}

func sanitizeNode(n *html.Node) []*html.Node {
	switch n.Type {
	case html.TextNode:
		return []*html.Node{{Type: html.TextNode, Data: n.Data}}
	case html.ElementNode:
		if strippedElements[n.DataAtom] {
			return nil
		}
		children := sanitizeChildren(n)
		if !allowedElements[n.DataAtom] {
			return children
		}
		clean := &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom, Attr: cleanAttrs(n.Attr)}
		for _, c := range children {
			clean.AppendChild(c)
		}
		return []*html.Node{clean}
	default:
		return nil
	}
}

func sanitizeChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, sanitizeNode(c)...)
	}
	return out
}

func cleanAttrs(attrs []html.Attribute) []html.Attribute {
	out := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if !allowedAttrs[key] || a.Namespace != "" {
			continue
		}
		if (key == "href" || key == "src") && !safeURL(a.Val) {
			continue
		}
		if key == "style" && strings.Contains(strings.ToLower(a.Val), "url(") {
			continue
		}
		out = append(out, html.Attribute{Key: key, Val: a.Val})
	}
	return out
}

func safeURL(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, v)
	for _, scheme := range []string{"javascript:", "vbscript:", "data:text"} {
		if strings.HasPrefix(v, scheme) {
			return false
		}
	}
	return true
}

func bodyContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}
