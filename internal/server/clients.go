package server

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
)

// clientHeader lets a front end pin its own client key.
const clientHeader = "X-Webcapture-Client"

type cookieJarStore struct {
	mu   sync.Mutex
	jars map[string]http.CookieJar
}

func newCookieJarStore() *cookieJarStore {
	return &cookieJarStore{jars: make(map[string]http.CookieJar)}
}

func (s *cookieJarStore) Get(key string) http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars[key]; ok {
		return jar
	}
	jar, _ := cookiejar.New(nil)
	s.jars[key] = jar
	return jar
}

// deriveClientKey prefers the explicit header, then falls back to the
// remote address plus user agent.
func deriveClientKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(clientHeader)); v != "" {
		return v
	}
	host := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	if host == "" {
		var err error
		host, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil || host == "" {
			host = r.RemoteAddr
		}
	}
	return host + "|" + r.UserAgent()
}
