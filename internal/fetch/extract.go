package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// skipElements are subtrees that never contribute readable text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     false, // walked for <title>, text suppressed separately
}

// blockElements get a newline after their text so structure survives
// flattening.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "blockquote": true, "pre": true,
}

// ExtractText parses an HTML document and returns its title and the
// flattened visible text. A parse failure degrades to returning the
// raw input as text; html.Parse is tolerant enough that this is rare.
func ExtractText(doc []byte) (title, text string) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", strings.TrimSpace(string(doc))
	}

	var b strings.Builder
	var inTitle, inHead bool

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skip, known := skipElements[n.Data]; known && skip {
				return
			}
			switch n.Data {
			case "title":
				inTitle = true
				defer func() { inTitle = false }()
			case "head":
				inHead = true
				defer func() { inHead = false }()
			}
		case html.TextNode:
			if inTitle {
				title += n.Data
				return
			}
			if inHead {
				return
			}
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return strings.TrimSpace(title), collapseBlankLines(b.String())
}

// collapseBlankLines trims trailing spaces and squeezes runs of blank
// lines down to one.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
