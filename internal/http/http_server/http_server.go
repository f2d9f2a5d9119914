package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pawnauction/internal/http/auctionhandler"
	"pawnauction/internal/services/auction"
	"pawnauction/internal/ws"
)

// HealthCheck reports whether one backing service is reachable.
type HealthCheck func(ctx context.Context) error

type httpServer struct {
	listenPort     uint16
	srv            http.Server
	ln             net.Listener
	auctionService auction.IAuctionService
	sweeper        auctionhandler.Sweeper
	wsSrv          *ws.WsServer
	checks         map[string]HealthCheck
	ctx            context.Context
}

// NewHttpServer wires the REST API. wsSrv may be nil when Redis is not
// configured, in which case /ws is not served.
func NewHttpServer(ctx context.Context, listenPort uint16, wsSrv *ws.WsServer, auctionService auction.IAuctionService,
	sweeper auctionhandler.Sweeper, checks map[string]HealthCheck) *httpServer {
	return &httpServer{
		listenPort:     listenPort,
		wsSrv:          wsSrv,
		auctionService: auctionService,
		sweeper:        sweeper,
		checks:         checks,
		ctx:            ctx,
	}
}

func (h *httpServer) routes() *gin.Engine {
	routerEngine := gin.New()
	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	routerEngine.GET("/healthz", h.health)

	// websocket endpoint
	if h.wsSrv != nil {
		routerEngine.GET("/ws", h.wsSrv.Handle)
	}

	// REST API
	ah := auctionhandler.New(h.auctionService, h.sweeper)
	ah.Register(routerEngine)

	return routerEngine
}

func (h *httpServer) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			out[name] = err.Error()
			continue
		}
		out[name] = "ok"
	}
	c.JSON(status, out)
}

// Start blocks serving until Dispose is called.
func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	h.srv = http.Server{
		Handler:           h.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	zap.L().Info("http.listening", zap.String("addr", listenAddr))
	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in‑flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn’t finish in time
	}
	return nil
}
