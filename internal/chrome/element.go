package chrome

import (
	"context"
	"errors"
	"strings"

	"github.com/aymerick/douceur/parser"

	"webcapture/capture"
)

var errForeignElement = errors.New("chrome: element does not belong to this tab")

// element refers to a node through the helper's id registry.
type element struct {
	tab *Tab
	id  int
}

func elementID(el capture.Element) int {
	if e, ok := el.(*element); ok && e != nil {
		return e.id
	}
	return 0
}

func (e *element) BoundingRect(ctx context.Context) (capture.Rect, error) {
	var r capture.Rect
	err := e.tab.call(ctx, &r, "rect", e.id)
	return r, err
}

func (e *element) ComputedStyle(ctx context.Context, props ...string) (map[string]string, error) {
	out := map[string]string{}
	err := e.tab.call(ctx, &out, "computed", e.id, props)
	return out, err
}

type inlineReply struct {
	Text     string `json:"text"`
	Value    string `json:"value"`
	Priority string `json:"priority"`
}

// InlineStyle prefers the value as written in the style attribute so a
// restore puts back the author's text. Longhands set only through a
// shorthand come from the browser's serialization.
func (e *element) InlineStyle(ctx context.Context, prop string) (capture.InlineStyle, error) {
	var r inlineReply
	if err := e.tab.call(ctx, &r, "inline", e.id, prop); err != nil {
		return capture.InlineStyle{}, err
	}
	if s, ok := declared(r.Text, prop); ok {
		return s, nil
	}
	return capture.InlineStyle{Value: r.Value, Priority: r.Priority, Present: r.Value != ""}, nil
}

// declared finds the last declaration of prop in a style attribute.
func declared(text, prop string) (capture.InlineStyle, bool) {
	if strings.TrimSpace(text) == "" {
		return capture.InlineStyle{}, false
	}
	decls, err := parser.ParseDeclarations(text)
	if err != nil {
		return capture.InlineStyle{}, false
	}
	var found capture.InlineStyle
	ok := false
	for _, d := range decls {
		if d == nil || !strings.EqualFold(strings.TrimSpace(d.Property), prop) {
			continue
		}
		value := strings.TrimSpace(d.Value)
		if value == "" {
			continue
		}
		found = capture.InlineStyle{Value: value, Present: true}
		if d.Important {
			found.Priority = "important"
		}
		ok = true
	}
	return found, ok
}

func (e *element) SetStyle(ctx context.Context, prop, value, priority string) error {
	return e.tab.call(ctx, nil, "setStyle", e.id, prop, value, priority)
}

func (e *element) RemoveStyle(ctx context.Context, prop string) error {
	return e.tab.call(ctx, nil, "removeStyle", e.id, prop)
}

func (e *element) ScrollMetrics(ctx context.Context) (capture.ScrollMetrics, error) {
	var m capture.ScrollMetrics
	err := e.tab.call(ctx, &m, "metrics", e.id)
	return m, err
}

func (e *element) ScrollTo(ctx context.Context, left, top float64) error {
	return e.tab.call(ctx, nil, "scrollElement", e.id, left, top)
}

// overlay is the in-page progress label.
type overlay struct {
	el *element
}

func (o *overlay) SetText(ctx context.Context, text string) error {
	return o.el.tab.call(ctx, nil, "overlayText", o.el.id, text)
}

func (o *overlay) SetVisible(ctx context.Context, visible bool) error {
	return o.el.tab.call(ctx, nil, "overlayVisible", o.el.id, visible)
}

func (o *overlay) Remove(ctx context.Context) error {
	return o.el.tab.call(ctx, nil, "overlayRemove", o.el.id)
}

func (o *overlay) Element() capture.Element { return o.el }
