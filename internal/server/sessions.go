package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"webcapture/capture"
	"webcapture/internal/chrome"
)

// Tab is a loaded page the server captures from.
type Tab interface {
	Host(sink capture.Sink) capture.Host
	URL() string
	Close()
}

// Browser opens tabs.
type Browser interface {
	Open(ctx context.Context, opt chrome.OpenOptions) (Tab, error)
}

type chromeBrowser struct {
	b *chrome.Browser
}

// ChromeBrowser adapts a headless Chrome browser.
func ChromeBrowser(b *chrome.Browser) Browser {
	return chromeBrowser{b: b}
}

func (c chromeBrowser) Open(ctx context.Context, opt chrome.OpenOptions) (Tab, error) {
	tab, err := c.b.Open(ctx, opt)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

var errNoPage = errors.New("no page loaded for this client; send a url")

// pageSession is one client's loaded page with its capture session. users
// counts requests between Get and their release; it is guarded by the slot.
type pageSession struct {
	tab     Tab
	session *capture.Session
	target  string
	expires time.Time
	users   int
}

func (p *pageSession) busy() bool {
	if p.users > 0 {
		return true
	}
	for _, m := range []capture.Mode{capture.ModeFullPage, capture.ModeVisible, capture.ModeManual, capture.ModeRegion} {
		if p.session.State(m) == capture.Running {
			return true
		}
	}
	return false
}

type slot struct {
	mu sync.Mutex
	ps *pageSession
}

// sessionStore keeps one page session per client key. Opening a page only
// locks that client's slot.
type sessionStore struct {
	mu    sync.Mutex
	slots map[string]*slot
	ttl   time.Duration
	clock func() time.Time
	open  func(ctx context.Context, key, target string) (*pageSession, error)
}

func newSessionStore(ttl time.Duration, clock func() time.Time, open func(ctx context.Context, key, target string) (*pageSession, error)) *sessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &sessionStore{slots: make(map[string]*slot), ttl: ttl, clock: clock, open: open}
}

// Get returns the client's session for target, loading it when the client
// has none, it expired, or it shows another page. An empty target reuses the
// current page. A page in use by another request is never replaced. The
// session counts as in use until release is called.
func (s *sessionStore) Get(ctx context.Context, key, target string) (ps *pageSession, release func(), err error) {
	s.sweep()
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	s.mu.Unlock()

	sl.mu.Lock()
	defer sl.mu.Unlock()
	now := s.clock()
	if cur := sl.ps; cur != nil {
		if target == "" || target == cur.target {
			cur.expires = now.Add(s.ttl)
			return cur, s.lease(sl, cur), nil
		}
		if cur.busy() {
			return nil, nil, capture.ErrBusy
		}
		cur.tab.Close()
		sl.ps = nil
	}
	if target == "" {
		return nil, nil, errNoPage
	}
	ps, err = s.open(ctx, key, target)
	if err != nil {
		return nil, nil, err
	}
	ps.target = target
	ps.expires = now.Add(s.ttl)
	sl.ps = ps
	return ps, s.lease(sl, ps), nil
}

// lease marks ps in use; sl.mu must be held.
func (s *sessionStore) lease(sl *slot, ps *pageSession) func() {
	ps.users++
	var once sync.Once
	return func() {
		once.Do(func() {
			sl.mu.Lock()
			ps.users--
			ps.expires = s.clock().Add(s.ttl)
			sl.mu.Unlock()
		})
	}
}

// sweep closes idle sessions past their expiry. Slots stay so a waiting Get
// never ends up holding a detached one.
func (s *sessionStore) sweep() {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if !sl.mu.TryLock() {
			continue
		}
		if sl.ps != nil && now.After(sl.ps.expires) && !sl.ps.busy() {
			sl.ps.tab.Close()
			sl.ps = nil
		}
		sl.mu.Unlock()
	}
}

// Len reports open sessions.
func (s *sessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.mu.TryLock() {
			if sl.ps != nil {
				n++
			}
			sl.mu.Unlock()
		} else {
			n++
		}
	}
	return n
}

func (s *sessionStore) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sl := range s.slots {
		sl.mu.Lock()
		if sl.ps != nil {
			sl.ps.tab.Close()
			sl.ps = nil
		}
		sl.mu.Unlock()
		delete(s.slots, key)
	}
}

// openSession loads target in a new tab using the host's site config and
// the client's cookie jar.
func (s *Server) openSession(ctx context.Context, key, target string) (*pageSession, error) {
	site := s.sites.Find(target)
	opt := chrome.OpenOptions{
		URL:               target,
		Jar:               s.cookieJars.Get(key),
		ViewportWidth:     s.cfg.ViewportWidth,
		ViewportHeight:    s.cfg.ViewportHeight,
		DeviceScaleFactor: s.cfg.DPR,
		Timeout:           s.cfg.LoadTimeout,
	}
	if site != nil {
		opt.Header = site.header()
		opt.WaitSelector = site.WaitSelector
		opt.NetworkIdle = site.networkIdle()
		opt.Settle = site.settle()
		opt.Scripts = site.Scripts
	}
	tab, err := s.cfg.Browser.Open(ctx, opt)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("CONN session %q opened %s", key, tab.URL())
	return &pageSession{tab: tab, session: capture.NewSession(tab.Host(s.out), s.cfg.Capture)}, nil
}
