package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/host"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/observability"
	"github.com/GTrannoy/wr-node-core-software-sub001/internal/protocol"
)

// DefaultStreamWait is how long one stream poll waits before checking the
// client again.
const DefaultStreamWait = 250 * time.Millisecond

// Gateway is the HTTP surface over a host engine.
type Gateway struct {
	ID       string
	Addr     string
	Appeared time.Time
	// Target is the default core address; requests may override fields
	// with query parameters.
	Target     host.Target
	StreamWait time.Duration

	engine   *host.Engine
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func New(id, addr string, engine *host.Engine, target host.Target, corsOrigins []string) *Gateway {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.GatewayMiddleware(id, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Gateway{
		ID:         id,
		Addr:       addr,
		Appeared:   time.Now(),
		Target:     target,
		StreamWait: DefaultStreamWait,
		engine:     engine,
		router:     r,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) HTTPRouter() *gin.Engine {
	return g.router
}

// Serve runs the HTTP server until ctx is done.
func (g *Gateway) Serve(ctx context.Context) error {
	g.RegisterRoutes()
	srv := &http.Server{Addr: g.Addr, Handler: g.router}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("gateway", g.ID).Str("addr", g.Addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// statusFor maps transaction errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrSlotBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrUnexpectedReply), errors.Is(err, protocol.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, protocol.ErrFraming), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
