package auctionhandler

import (
	"github.com/shopspring/decimal"
)

type PlaceBidBody struct {
	BidderID string          `json:"bidder_id" binding:"required" example:"user123"`
	Amount   decimal.Decimal `json:"amount"    swaggertype:"string" example:"120.50"`
} // @name PlaceBidRequest

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
} // @name ErrorResponse

type ListAuctionsQuery struct {
	Status string `form:"status"  binding:"omitempty,oneof=SCHEDULED ACTIVE ENDED CANCELLED"`
	Limit  int    `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int    `form:"offset,default=0"  binding:"gte=0"`
} // @name ListAuctionsQuery

type SweepResponse struct {
	Activated int      `json:"activated"`
	Ended     int      `json:"ended"`
	Sold      int      `json:"sold"`
	Returned  int      `json:"returned"`
	Recovered int      `json:"recovered"`
	Errors    []string `json:"errors"`
} // @name SweepResponse
