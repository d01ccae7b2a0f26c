package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server for the verification API. Write timeouts are
// generous because document uploads run to several megabytes; per-request
// deadlines are enforced by the router's timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
