package main

import (
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

func TestInlineOverflow(t *testing.T) {
	cases := []struct {
		style string
		x, y  string
		ok    bool
	}{
		{style: "overflow: auto", x: "auto", y: "auto", ok: true},
		{style: "overflow: hidden scroll", x: "hidden", y: "scroll", ok: true},
		{style: "overflow-x: hidden; overflow-y: AUTO !important", x: "hidden", y: "auto", ok: true},
		{style: "color: red", x: "visible", y: "visible"},
		{style: "", x: "", y: ""},
	}
	for _, tc := range cases {
		x, y, ok := inlineOverflow(tc.style)
		if x != tc.x || y != tc.y || ok != tc.ok {
			t.Fatalf("inlineOverflow(%q) = %q %q %v", tc.style, x, y, ok)
		}
	}
}

func TestScrollCandidates(t *testing.T) {
	const page = `<html><body><div id="app"><ul style="overflow-y:scroll">x</ul><ul class="side" style="overflow:auto">y</ul></div><p style="overflow:hidden">z</p></body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	got := scrollCandidates(doc, nil)
	if len(got) != 2 {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}
	if got[0].path != "#app > ul:nth-of-type(1)" || got[1].path != "#app > ul:nth-of-type(2)" {
		t.Fatalf("paths = %q, %q", got[0].path, got[1].path)
	}

	only := scrollCandidates(doc, cascadia.MustCompile(".side"))
	if len(only) != 1 || only[0].path != "#app > ul:nth-of-type(2)" {
		t.Fatalf("filtered = %+v", only)
	}
}
