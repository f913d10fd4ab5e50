package server

import (
	"log/slog"
	"net/http"
)

func (s *Server) logRequests(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.RequestURI),
			slog.String("remote_addr", r.RemoteAddr))
		handler.ServeHTTP(w, r)
	})
}

// cors lets a panel served from another origin use the api.
func cors(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
