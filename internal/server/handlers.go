package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"

	"webcapture/capture"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

// captureRequest is the body of POST /capture: a trigger plus the page it
// applies to. An empty URL reuses the client's current page.
type captureRequest struct {
	URL string `json:"url"`
	capture.Trigger
}

type errorReply struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := parseCaptureRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}
	if err := s.applySettings(&req.Trigger); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorReply{Error: err.Error()})
		return
	}
	if err := validateTrigger(req.Trigger); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}
	target, err := normalizeTarget(req.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
		return
	}

	key := deriveClientKey(r)
	ps, release, err := s.sessions.Get(r.Context(), key, target)
	if err != nil {
		switch {
		case errors.Is(err, capture.ErrBusy):
			writeJSON(w, http.StatusConflict, errorReply{Error: capture.Message(err)})
			return
		case errors.Is(err, errNoPage):
			writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
			return
		}
		s.logger.Printf("CONN session %q: %v", key, err)
		writeJSON(w, http.StatusBadGateway, errorReply{Error: "could not load the page", Cause: err.Error()})
		return
	}
	defer release()
	s.logger.Printf("CAPTURE client=%q action=%s format=%s url=%s", key, req.Action, req.Format, ps.target)
	reply, err := ps.session.Handle(r.Context(), req.Trigger)
	if err != nil {
		writeJSON(w, captureStatus(err), errorReply{Error: capture.Message(err), Cause: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func captureStatus(err error) int {
	var failed *capture.CaptureFailedError
	switch {
	case errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &failed):
		var ns *capture.NotScrollableError
		if errors.As(err, &ns) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// parseCaptureRequest accepts JSON, or form fields where quality is a
// percentage like the stored settings.
func parseCaptureRequest(r *http.Request) (captureRequest, error) {
	var req captureRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("decode request: %w", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("parse form: %w", err)
	}
	req.URL = strings.TrimSpace(r.FormValue("url"))
	req.Action = capture.Action(strings.TrimSpace(r.FormValue("action")))
	req.Format = strings.TrimSpace(r.FormValue("format"))
	req.Selector = strings.TrimSpace(r.FormValue("selector"))
	if v := strings.TrimSpace(r.FormValue("quality")); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 100 {
			return req, fmt.Errorf("quality %q outside 1..100", v)
		}
		q := capture.QualityFromPercent(p)
		req.Quality = &q
	}
	if r.FormValue("width") != "" || r.FormValue("height") != "" {
		region, err := formRegion(r)
		if err != nil {
			return req, err
		}
		req.Region = &region
	}
	return req, nil
}

func formRegion(r *http.Request) (capture.Region, error) {
	var region capture.Region
	fields := []struct {
		name string
		dst  *float64
	}{
		{"left", &region.Left}, {"top", &region.Top},
		{"width", &region.Width}, {"height", &region.Height},
		{"scrollX", &region.ScrollX}, {"scrollY", &region.ScrollY},
	}
	for _, f := range fields {
		v := strings.TrimSpace(r.FormValue(f.name))
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return region, fmt.Errorf("region %s: %q is not a number", f.name, v)
		}
		*f.dst = n
	}
	return region, nil
}

// applySettings fills the action, format and quality a trigger left out from
// the stored settings.
func (s *Server) applySettings(t *capture.Trigger) error {
	if t.Action != "" && t.Format != "" && t.Quality != nil {
		return nil
	}
	st, err := s.settings.Get()
	if err != nil {
		return err
	}
	if t.Action == "" {
		t.Action = actionFor(st.CaptureMode, t)
	}
	if t.Format == "" {
		t.Format = string(st.Format)
	}
	if t.Quality == nil {
		q := capture.QualityFromPercent(st.Quality)
		t.Quality = &q
	}
	return nil
}

func actionFor(m capture.Mode, t *capture.Trigger) capture.Action {
	switch m {
	case capture.ModeVisible:
		return capture.ActionCaptureVisible
	case capture.ModeManual:
		return capture.ActionEnableManualSelector
	case capture.ModeRegion:
		if t.Selector != "" {
			return capture.ActionCaptureScrollableElement
		}
		return capture.ActionEnableRegionSelector
	}
	return capture.ActionStartCapture
}

// validateTrigger rejects malformed triggers before a page is loaded.
func validateTrigger(t capture.Trigger) error {
	if _, err := t.Options(); err != nil {
		return err
	}
	switch t.Action {
	case capture.ActionStartCapture, capture.ActionCaptureVisible, capture.ActionEnableRegionSelector:
	case capture.ActionEnableManualSelector:
		if t.Region == nil {
			return errors.New("manual capture needs a region")
		}
		return t.Region.Validate()
	case capture.ActionCaptureScrollableElement:
		return validateSelector(t.Selector)
	default:
		return fmt.Errorf("unknown action %q", t.Action)
	}
	return nil
}

func validateSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return errors.New("scrollable element capture needs a selector")
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}

// normalizeTarget accepts bare hosts and only http(s) URLs.
func normalizeTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(lower, "://") {
			return "", fmt.Errorf("unsupported url %q", raw)
		}
		s = "http://" + s
	}
	return s, nil
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.settings.Get()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodPut, http.MethodPost:
		var st Settings
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&st); err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
			return
		}
		st, err := s.settings.Put(st)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCaptures lists stored captures or serves one of them.
func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/captures/")
	if name == "" {
		list, err := s.out.List()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorReply{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	f, err := s.out.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
