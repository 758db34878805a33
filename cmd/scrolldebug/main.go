// Command scrolldebug lists elements whose inline style makes them
// scrollable, the same candidates region mode offers in a live page.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

func main() {
	sel := flag.String("selector", "", "only report elements matching this selector")
	flag.Parse()
	src := "https://example.com/"
	if flag.NArg() > 0 {
		src = flag.Arg(0)
	}

	doc, err := load(src)
	if err != nil {
		log.Fatal(err)
	}
	var match cascadia.Matcher
	if *sel != "" {
		g, err := cascadia.ParseGroup(*sel)
		if err != nil {
			log.Fatalf("selector %q: %v", *sel, err)
		}
		match = g
	}
	for _, c := range scrollCandidates(doc, match) {
		fmt.Printf("%s overflow-x=%s overflow-y=%s\n", c.path, c.x, c.y)
	}
}

func load(src string) (*html.Node, error) {
	var r io.Reader
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		log.Printf("fetch %s", src)
		req, err := http.NewRequest(http.MethodGet, src, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "scrolldebug/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		r = resp.Body
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return html.Parse(r)
}

type candidate struct {
	path string
	x, y string
}

func scrollCandidates(doc *html.Node, match cascadia.Matcher) []candidate {
	var out []candidate
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && (match == nil || match.Match(n)) {
			if x, y, ok := inlineOverflow(attr(n, "style")); ok {
				out = append(out, candidate{path: cssPath(n), x: x, y: y})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return out
}

// inlineOverflow reports the overflow axes of a style attribute when either
// one scrolls.
func inlineOverflow(style string) (x, y string, ok bool) {
	if strings.TrimSpace(style) == "" {
		return "", "", false
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return "", "", false
	}
	x, y = "visible", "visible"
	for _, d := range decls {
		v := strings.ToLower(strings.TrimSpace(d.Value))
		switch strings.ToLower(d.Property) {
		case "overflow":
			parts := strings.Fields(v)
			if len(parts) == 0 {
				continue
			}
			x, y = parts[0], parts[0]
			if len(parts) > 1 {
				y = parts[1]
			}
		case "overflow-x":
			x = v
		case "overflow-y":
			y = v
		}
	}
	return x, y, scrolls(x) || scrolls(y)
}

func scrolls(v string) bool { return v == "auto" || v == "scroll" }

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// cssPath names n by id when it has one, else by its position under the
// nearest ancestor with an id.
func cssPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if id := attr(cur, "id"); id != "" {
			parts = append(parts, "#"+id)
			break
		}
		idx := 1
		for s := cur.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == cur.Data {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", cur.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}
