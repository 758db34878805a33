package chrome

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// helperJS installs window.__webcapture, the in-page half of every call.
//
//go:embed helper.js
var helperJS string

const helperMissing = "webcapture helper missing"

// callExpr builds the expression invoking helper method m with args. It
// rejects when the helper is gone, which happens after a navigation.
func callExpr(m string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s args: %w", m, err)
	}
	return fmt.Sprintf(`(function (h) {
  if (!h) return Promise.reject(new Error(%q));
  return h[%q].apply(h, %s);
})(window.__webcapture)`, helperMissing, m, raw), nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (t *Tab) install(ctx context.Context) error {
	var ok bool
	if err := t.run(ctx, chromedp.Evaluate(helperJS, &ok)); err != nil {
		return fmt.Errorf("chrome: install helper: %w", err)
	}
	return nil
}

// call runs helper method m and decodes its result into res (nil discards
// it). The helper is reinstalled once if the page lost it.
func (t *Tab) call(ctx context.Context, res any, m string, args ...any) error {
	expr, err := callExpr(m, args...)
	if err != nil {
		return fmt.Errorf("chrome: %w", err)
	}
	err = t.run(ctx, chromedp.Evaluate(expr, res, awaitPromise))
	if err != nil && strings.Contains(err.Error(), helperMissing) {
		if ierr := t.install(ctx); ierr != nil {
			return ierr
		}
		err = t.run(ctx, chromedp.Evaluate(expr, res, awaitPromise))
	}
	if err != nil {
		return fmt.Errorf("chrome: %s: %w", m, err)
	}
	return nil
}
