package main

import "net/http"

func enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// withMiddleware applies CORS, preflight handling and the per-client rate
// limit to a handler.
func (s *server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enableCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !s.limiter.allow(clientIP(r)) {
			s.writeError(w, r.URL.Path, &RateLimitError{})
			return
		}
		next(w, r)
	}
}
