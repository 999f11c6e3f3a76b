// Package testsrv provides downstream GraphQL services used by the gateway
// tests.
package testsrv

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// Server is a running test service that counts the requests it receives.
type Server struct {
	*httptest.Server
	requests int64
}

func newServer(h http.Handler) *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requests, 1)
		h.ServeHTTP(w, r)
	}))
	return s
}

// Requests returns the number of requests received so far.
func (s *Server) Requests() int64 {
	return atomic.LoadInt64(&s.requests)
}

// ResetRequests sets the request counter back to zero.
func (s *Server) ResetRequests() {
	atomic.StoreInt64(&s.requests, 0)
}
