package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. WriteTimeout
// leaves room for approvals, which block on chain confirmation.
func New(addr string, handler http.Handler, confirmTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      confirmTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
