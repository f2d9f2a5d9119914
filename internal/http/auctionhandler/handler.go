package auctionhandler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pawnauction/internal/models"
	"pawnauction/internal/scheduler"
	"pawnauction/internal/services/auction"
)

// Sweeper runs one scheduler pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) scheduler.Result
}

type Handler struct {
	svc     auction.IAuctionService
	sweeper Sweeper
	now     func() time.Time
}

func New(svc auction.IAuctionService, sweeper Sweeper) *Handler {
	return &Handler{svc: svc, sweeper: sweeper, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/auctions", h.list)
	r.GET("/auctions/:id", h.info)
	r.GET("/auctions/:id/bids", h.bids)
	r.POST("/auctions/:id/bids", h.bid)
	r.POST("/auctions/:id/cancel", h.cancel)
	r.POST("/sweeps", h.sweep)
}

// @Summary		Get auction details
// @Description	Returns full information about a single auction.
// @Tags			Auctions
// @Param			id	path		string	true	"Auction ID"	default(auc123)
// @Success		200	{object}	models.Auction
// @Failure		404	{object}	ErrorResponse
// @Router			/auctions/{id} [get]
func (h *Handler) info(c *gin.Context) {
	a, err := h.svc.GetAuction(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// @Summary		List auctions
// @Description	Retrieves a paginated list of auctions, optionally filtered by status.
// @Tags			Auctions
// @Param			status	query		string	false	"Status filter"			Enums(SCHEDULED,ACTIVE,ENDED,CANCELLED)
// @Param			limit	query		int		false	"Max results (0‑100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		models.Auction
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/auctions [get]
func (h *Handler) list(c *gin.Context) {
	var q ListAuctionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.ListAuctions(c.Request.Context(), models.AuctionStatus(q.Status), q.Limit, q.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		List bids
// @Description	Bids of one auction, highest first.
// @Tags			Auctions
// @Param			id	path		string	true	"Auction ID"	default(auc123)
// @Success		200	{array}		models.Bid
// @Failure		404	{object}	ErrorResponse
// @Router			/auctions/{id}/bids [get]
func (h *Handler) bids(c *gin.Context) {
	out, err := h.svc.ListBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary		Place a bid
// @Description	Bidder places a higher bid. Rejections carry a reason code.
// @Tags			Auctions
// @Param			id		path		string			true	"Auction ID"	default(auc123)
// @Param			body	body		PlaceBidBody	true	"Bid payload"
// @Success		201		{object}	models.Bid
// @Failure		400		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Failure		409		{object}	ErrorResponse
// @Router			/auctions/{id}/bids [post]
func (h *Handler) bid(ginCtx *gin.Context) {
	var body PlaceBidBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error(), Reason: auction.ReasonInvalidBid})
		return
	}

	bid, err := h.svc.PlaceBid(ginCtx.Request.Context(), ginCtx.Param("id"), body.BidderID, body.Amount)
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusCreated, bid)
}

// @Summary		Cancel an auction
// @Description	Staff cancels a scheduled or active auction and returns the item to inventory.
// @Tags			Auctions
// @Param			id	path	string	true	"Auction ID"	default(auc123)
// @Success		202
// @Failure		404	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/auctions/{id}/cancel [post]
func (h *Handler) cancel(ginCtx *gin.Context) {
	if err := h.svc.CancelAuction(ginCtx.Request.Context(), ginCtx.Param("id")); err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.Status(http.StatusAccepted)
}

// @Summary		Run one sweep
// @Description	Activates due auctions, ends expired ones and settles them. Safe to call concurrently.
// @Tags			Scheduler
// @Success		200	{object}	SweepResponse
// @Router			/sweeps [post]
func (h *Handler) sweep(c *gin.Context) {
	// settlements outlive the request
	res := h.sweeper.Sweep(context.WithoutCancel(c.Request.Context()), h.now())
	out := SweepResponse{
		Activated: res.Activated,
		Ended:     res.Ended,
		Sold:      res.Sold,
		Returned:  res.Returned,
		Recovered: res.Recovered,
		Errors:    make([]string, 0, len(res.Errors)),
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, auction.ErrInvalidBid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Reason: auction.ReasonInvalidBid})
	case auction.Reason(err) != "":
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Reason: auction.Reason(err)})
	case errors.Is(err, auction.ErrAuctionFinished):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		zap.L().Error("http.internal_error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
