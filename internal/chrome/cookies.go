package chrome

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// cookieParams converts jar cookies for u into DevTools cookie params.
func cookieParams(cookies []*http.Cookie, u *url.URL) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   cookieDomain(c, u),
			Path:     cookiePath(c),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			param.Expires = &exp
		}
		params = append(params, param)
	}
	return params
}

// syncCookies copies the browser's cookies for the current URL back into jar
// so the next tab for the same client starts logged in.
func (t *Tab) syncCookies(ctx context.Context, jar http.CookieJar) {
	u, err := url.Parse(t.url)
	if err != nil || u.Host == "" {
		return
	}
	var browserCookies []*network.Cookie
	err = t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		browserCookies, err = network.GetCookies().WithURLs([]string{t.url}).Do(ctx)
		return err
	}))
	if err != nil {
		t.logger.Printf("CONN cookie sync %s: %v", t.url, err)
		return
	}
	out := make([]*http.Cookie, 0, len(browserCookies))
	for _, c := range browserCookies {
		if hc := cookieFromNetwork(c); hc != nil {
			out = append(out, hc)
		}
	}
	if len(out) > 0 {
		jar.SetCookies(u, out)
	}
}

func cookieFromNetwork(c *network.Cookie) *http.Cookie {
	if c == nil {
		return nil
	}
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}

func cookieDomain(c *http.Cookie, u *url.URL) string {
	if c.Domain != "" {
		return c.Domain
	}
	if u != nil {
		return u.Hostname()
	}
	return ""
}

func cookiePath(c *http.Cookie) string {
	if c.Path != "" {
		return c.Path
	}
	return "/"
}
