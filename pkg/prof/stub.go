//go:build !profile

package prof

import "net/http"

// ErrSessionActive is never returned without the "profile" tag.
var ErrSessionActive error

// Session records nothing without the "profile" tag.
type Session struct{ dir string }

// Start returns an inert session.
func Start(dir string, _ ...Profile) (*Session, error) { return &Session{dir: dir}, nil }

// Stop does nothing.
func (s *Session) Stop() error { return nil }

// Dir returns the directory passed to Start.
func (s *Session) Dir() string { return s.dir }

// Handle registers nothing.
func Handle(*http.ServeMux) {}
