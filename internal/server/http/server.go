package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mister-Yo/whisper-protocol/internal/runtime"
	"github.com/Mister-Yo/whisper-protocol/internal/server/http/controllers"
	logpkg "github.com/Mister-Yo/whisper-protocol/pkg/log"
)

// Server is the public HTTP API: registry, groups, message pull/push, and
// operational endpoints.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// New wires the routes over the runtime.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	c := controllers.New(rt, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/registry/register", c.Register)
	mux.HandleFunc("/v1/registry/lookup", c.Lookup)
	mux.HandleFunc("/v1/groups/create", c.CreateGroup)
	mux.HandleFunc("/v1/groups/get", c.GetGroup)
	mux.HandleFunc("/v1/messages", c.Messages)
	mux.HandleFunc("/v1/messages/subscribe", c.SubscribeSSE)
	mux.HandleFunc("/v1/ws", c.SubscribeWS)
	mux.HandleFunc("/v1/healthz", c.Health)
	mux.HandleFunc("/v1/stats", c.Stats)
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics().Registry(), promhttp.HandlerOpts{}))
	return &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listener address, empty before ListenAndServe.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Close force-closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
