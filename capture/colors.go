package capture

import (
	"context"
	"fmt"
	"log"
	"regexp"
)

var unsupportedColor = regexp.MustCompile(`(?i)(oklab|oklch|lab|lch|hwb|color)\s*\([^)]*\)`)

// colorProperties are the computed properties inspected for color functions
// an external renderer may not understand.
var colorProperties = []string{
	"color",
	"background-color",
	"border-color",
	"border-top-color",
	"border-right-color",
	"border-bottom-color",
	"border-left-color",
	"outline-color",
	"text-decoration-color",
	"fill",
	"stroke",
}

// NeedsNormalizing reports whether a computed value uses a color function
// outside the rgb/hsl family.
func NeedsNormalizing(value string) bool {
	return value != "" && unsupportedColor.MatchString(value)
}

// ColorNormalizer rewrites modern color syntax on a subtree into explicit
// rgba() inline styles before rendering.
type ColorNormalizer struct {
	page     Page
	resolver ColorResolver
	logger   *log.Logger
}

// NewColorNormalizer returns a normalizer; a nil resolver falls back to
// CSSColorResolver.
func NewColorNormalizer(page Page, resolver ColorResolver, logger *log.Logger) *ColorNormalizer {
	if resolver == nil {
		resolver = CSSColorResolver{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ColorNormalizer{page: page, resolver: resolver, logger: logger}
}

// Normalize overrides every matching color property under root with an
// important rgba() value. The returned ledger reverts them; it is never nil.
// Elements whose style cannot be read or whose value cannot be resolved are
// left untouched.
func (n *ColorNormalizer) Normalize(ctx context.Context, root Element) (*StyleLedger, error) {
	ledger := &StyleLedger{}
	elems, err := n.page.Subtree(ctx, root)
	if err != nil {
		return ledger, fmt.Errorf("color: list subtree: %w", err)
	}
	skipped := 0
	for _, el := range elems {
		if err := ctx.Err(); err != nil {
			return ledger, err
		}
		computed, err := el.ComputedStyle(ctx, colorProperties...)
		if err != nil {
			skipped++
			continue
		}
		var decls []Declaration
		for _, prop := range colorProperties {
			value := computed[prop]
			if !NeedsNormalizing(value) {
				continue
			}
			c, err := n.resolver.ResolveColor(ctx, value)
			if err != nil {
				skipped++
				continue
			}
			decls = append(decls, Declaration{Property: prop, Value: FormatRGBA(c)})
		}
		if err := ledger.OverrideAll(ctx, el, decls, "important"); err != nil {
			skipped++
		}
	}
	n.logger.Printf("COLOR normalized=%d skipped=%d elements=%d", ledger.Len(), skipped, len(elems))
	return ledger, nil
}
