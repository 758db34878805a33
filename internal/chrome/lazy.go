package chrome

import (
	"strings"

	"golang.org/x/net/html"
)

// mediaScan summarizes the images in an element's markup.
type mediaScan struct {
	Images int
	// Lazy images will not load on their own: loading="lazy", or a data-src
	// with no src yet.
	Lazy int
}

// needsWait reports whether the page must be asked to settle media. Any
// image may still be downloading, lazy or not.
func (s mediaScan) needsWait() bool { return s.Images > 0 }

func scanMedia(markup string) (mediaScan, error) {
	var s mediaScan
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return s, err
	}
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == "img" {
			s.Images++
			if isLazy(node) {
				s.Lazy++
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return s, nil
}

func isLazy(n *html.Node) bool {
	var loading, src, dataSrc string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "loading":
			loading = strings.ToLower(strings.TrimSpace(a.Val))
		case "src":
			src = strings.TrimSpace(a.Val)
		case "data-src":
			dataSrc = strings.TrimSpace(a.Val)
		}
	}
	return loading == "lazy" || (dataSrc != "" && src == "")
}
