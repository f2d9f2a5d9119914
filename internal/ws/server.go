package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pawnauction/internal/services/auction"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 12 * time.Second
	pingPeriod     = 3 * time.Second // must be < pongWait
	maxMessageSize = 512
	handlerTimeout = 1900 * time.Millisecond
)

type WsServer struct {
	hub        *Hub
	subMgr     *subscriptionManager
	router     *Router
	upgrader   websocket.Upgrader
	auctionSvc auction.IAuctionService
}

func NewWsServer(h *Hub, rdc *redis.Client, auctionSvc auction.IAuctionService) *WsServer {
	srv := &WsServer{
		hub:    h,
		subMgr: newSubscriptionManager(rdc, h),
		router: NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev‑only
		},
		auctionSvc: auctionSvc,
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	auctionID := ginCtx.Query("auction_id")
	userID := ginCtx.Query("user_id")
	if auctionID == "" || userID == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "auction_id and user_id are required"})
		return
	}
	a, err := s.auctionSvc.GetAuction(ginCtx.Request.Context(), auctionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auction.ErrAuctionNotFound) {
			status = http.StatusNotFound
		}
		ginCtx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxMessageSize)
	_ = rawConn.SetReadDeadline(time.Now().Add(pongWait))
	rawConn.SetPongHandler(func(string) error {
		return rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// ─────────────────── Client joined ────────────────────────
	conn := newClientConn(rawConn, userID)
	if err := s.subMgr.Subscribe(auctionID); err != nil {
		zap.L().Warn("ws.subscribe", zap.String("auction_id", auctionID), zap.Error(err))
		conn.close()
		return
	}
	s.hub.Join(auctionID, conn)

	// Initial snapshot.
	if err := conn.writeJSON(gin.H{"event": "auctions/snapshot", "body": a}); err != nil {
		zap.L().Debug("ws.snapshot", zap.Error(err))
	}

	go s.reader(auctionID, conn)
	go s.pinger(conn)
}

// Close drops every Redis subscription held for connected clients.
func (s *WsServer) Close() {
	s.subMgr.Close()
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 auctions/bid ---------------------------------------------------------
	Register(
		s.router,
		"auctions/bid",
		func(ctx context.Context, cc *ConnContext, req BidRequest) (BidAck, error) {
			bid, err := s.auctionSvc.PlaceBid(ctx, cc.AuctionID, cc.UserID, req.Amount)
			if err != nil {
				return BidAck{}, err
			}
			return BidAck{BidID: bid.ID, Amount: bid.Amount}, nil
		},
	)
}

func (s *WsServer) reader(auctionID string, conn *clientConn) {
	defer func() {
		s.hub.Leave(auctionID, conn)
		s.subMgr.Unsubscribe(auctionID)
	}()

	cc := &ConnContext{AuctionID: auctionID, UserID: conn.userID}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			_ = conn.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: err.Error(), Reason: auction.Reason(err)},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		_ = conn.writeJSON(reply)
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}
		}
	}
}
