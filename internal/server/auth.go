package server

import (
	"net/http"
	"strings"
)

// authorized checks the bearer token on mutating endpoints. An empty
// configured token disables auth (local single-user setups).
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	return ok && token == s.token
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.authorized(r) {
		return true
	}
	s.writeError(w, http.StatusUnauthorized, "unauthorized")
	return false
}
