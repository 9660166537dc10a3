// Package reportserver implements the optional reporting HTTP server:
// /browse, /content, /poll, /runs/<id>, /latestrunid, restricted to an
// allow-listed set of client IPs.
package reportserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lpar/gzipped/v2"
)

// Server is the reporting HTTP server. It is read-only: every route only
// ever reads infoDir.
type Server struct {
	InfoDir string
	Log     *log.Logger

	// Allow lists client IPs permitted to reach any route. A single
	// entry "ALL" disables the check entirely.
	Allow []string

	mux *http.ServeMux
}

// New constructs a Server rooted at infoDir.
func New(infoDir string, allow []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{InfoDir: infoDir, Allow: allow, Log: logger, mux: http.NewServeMux()}
	s.mux.Handle("/browse/", s.wrap(http.StripPrefix("/browse/", gzipped.FileServer(gzipped.Dir(infoDir)))))
	s.mux.HandleFunc("/content/", s.wrap(http.HandlerFunc(s.handleContent)).ServeHTTP)
	s.mux.HandleFunc("/poll", s.wrap(http.HandlerFunc(s.handlePoll)).ServeHTTP)
	s.mux.HandleFunc("/runs/", s.wrap(http.HandlerFunc(s.handleRun)).ServeHTTP)
	s.mux.HandleFunc("/latestrunid", s.wrap(http.HandlerFunc(s.handleLatestRunID)).ServeHTTP)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// wrap enforces the IP allow-list ahead of handler.
func (s *Server) wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) allowed(r *http.Request) bool {
	for _, a := range s.Allow {
		if a == "ALL" {
			return true
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	for _, a := range s.Allow {
		if a == host {
			return true
		}
	}
	return false
}

// handleContent implements /content/<path>?s=<from>&e=<to>: a byte-range
// read of a file beneath infoDir.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/content/")
	full, err := safeJoin(s.InfoDir, rel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := os.Open(full)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "stat failed", http.StatusInternalServerError)
		return
	}
	start, end := int64(0), info.Size()
	if v := r.URL.Query().Get("s"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			start = n
		}
	}
	if v := r.URL.Query().Get("e"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			end = n
		}
	}
	if start < 0 || end > info.Size() || start > end {
		http.Error(w, "invalid range", http.StatusBadRequest)
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}
	io.Copy(w, io.LimitReader(f, end-start))
}

// handlePoll implements /poll?q=<json>: a JSON map of
// path -> current byte length, so a client can diff successive polls.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	var paths []string
	if err := json.Unmarshal([]byte(q), &paths); err != nil {
		http.Error(w, "invalid q", http.StatusBadRequest)
		return
	}
	out := make(map[string]int64, len(paths))
	for _, rel := range paths {
		full, err := safeJoin(s.InfoDir, rel)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		out[rel] = info.Size()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleRun implements /runs/<id>: a minimal rendered view of one run's
// info/timings files.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	dir := filepath.Join(s.InfoDir, id)
	info, err := os.ReadFile(filepath.Join(dir, "info"))
	if err != nil {
		http.Error(w, "unknown run", http.StatusNotFound)
		return
	}
	cumulative, _ := os.ReadFile(filepath.Join(dir, "cumulative_timings"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(info)
	w.Write([]byte("\n--- cumulative_timings ---\n"))
	w.Write(cumulative)
}

// handleLatestRunID implements /latestrunid: returns the latest run's id,
// or "none" if no run has started yet (no "latest" symlink).
func (s *Server) handleLatestRunID(w http.ResponseWriter, r *http.Request) {
	target, err := os.Readlink(filepath.Join(s.InfoDir, "latest"))
	if err != nil {
		io.WriteString(w, "none")
		return
	}
	io.WriteString(w, target)
}

// safeJoin joins rel onto root, rejecting any result that escapes root.
func safeJoin(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	r, err := filepath.Rel(root, full)
	if err != nil || strings.HasPrefix(r, "..") {
		return "", errors.New("path escapes info_dir")
	}
	return full, nil
}
