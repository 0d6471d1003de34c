package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. Write
// timeout is generous because audit exports stream whole chains.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}
