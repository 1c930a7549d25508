package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/common"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/http/httputil"
	"github.com/hxuan190/hybrid-router/internal/services/ledger"
	"github.com/hxuan190/hybrid-router/internal/services/router"
)

// OrderRouter is the order surface of the router service.
type OrderRouter interface {
	SubmitOrder(ctx context.Context, req router.OrderRequest) (*domain.RoutingResult, error)
	Cancel(orderID string) error
	Order(orderID string) (*router.OrderView, error)
	GetOptimalRoute(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.OptimalRoute, error)
}

// FillReader is the read side of the fill ledger.
type FillReader interface {
	Fill(ctx context.Context, id string) (*domain.FillRecord, error)
	FillsByOrder(ctx context.Context, orderID string) ([]domain.Fill, error)
}

var orderErrors = []common.Mapping{
	{Err: router.ErrOrderNotFound, Into: common.HTTPErrorNotFound},
	{Err: router.ErrOrderActive, Into: common.HTTPErrorResourceConflict},
	{Err: router.ErrOrderFinished, Into: common.HTTPErrorResourceConflict},
	{Err: ledger.ErrFillNotFound, Into: common.HTTPErrorNotFound},
}

type OrderHandler struct {
	router OrderRouter
	fills  FillReader
}

func NewOrderHandler(r OrderRouter, fills FillReader) *OrderHandler {
	return &OrderHandler{router: r, fills: fills}
}

func (h *OrderHandler) Root() string {
	return "/orders"
}

func (h *OrderHandler) SetRoutes(pub *gin.RouterGroup, _ *gin.RouterGroup) {
	pub.POST("", h.submitOrder)
	pub.GET("/:id", h.getOrder)
	pub.DELETE("/:id", h.cancelOrder)
	pub.GET("/:id/fills", h.getOrderFills)
}

// SubmitOrderRequest is the body of POST /api/v1/orders.
type SubmitOrderRequest struct {
	// Optional client supplied id; a uuid is generated when empty
	ID string `json:"id" example:"6f1c2d9e-3b4a-4c5d-8e7f-0a1b2c3d4e5f"`

	// Taker account, hex encoded
	Account string `json:"account" binding:"required" example:"0x1111111111111111111111111111111111111111"`

	// Pair as BASE/QUOTE or BASE-QUOTE
	Pair string `json:"pair" binding:"required" example:"WETH/USDC"`

	Side string `json:"side" binding:"required" enums:"buy,sell" example:"buy"`

	// market (default) or limit; a limitPrice implies limit
	Kind string `json:"kind" enums:"market,limit" example:"market"`

	// Base asset amount in human units
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"1.5"`

	// Worst acceptable quote per base
	LimitPrice decimal.Decimal `json:"limitPrice" swaggertype:"string" example:"2000"`
}

// @Summary Submit an order
// @Description Routes the order chunk by chunk across the AMM and the order book and
// @Description returns once routing stops. The result always carries the fills made so far
// @Description and the stop reason, even when the order under-filled.
// @Tags orders
// @Accept json
// @Produce json
// @Param order body SubmitOrderRequest true "Order"
// @Success 200 {object} httputil.Response{data=domain.RoutingResult}
// @Failure 400 {object} httputil.Response "Invalid order"
// @Failure 409 {object} httputil.Response "Order id already used"
// @Router /api/v1/orders [post]
func (h *OrderHandler) submitOrder(c *gin.Context) {
	var body SubmitOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, "invalid body: "+err.Error())
		return
	}
	pair, err := domain.ParsePair(body.Pair)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	// a dropped connection does not cancel the order; DELETE does
	res, err := h.router.SubmitOrder(context.WithoutCancel(c.Request.Context()), router.OrderRequest{
		ID:         body.ID,
		Account:    body.Account,
		Pair:       pair,
		Side:       domain.Side(body.Side),
		Kind:       domain.OrderKind(body.Kind),
		Amount:     body.Amount,
		LimitPrice: body.LimitPrice,
	})
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, orderErrors...))
		return
	}
	httputil.Success(c, res)
}

// @Summary Get an order
// @Description Active orders report progress so far; finished orders carry their routing result.
// @Tags orders
// @Produce json
// @Param id path string true "Order id"
// @Success 200 {object} httputil.Response{data=router.OrderView}
// @Failure 404 {object} httputil.Response
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) getOrder(c *gin.Context) {
	view, err := h.router.Order(c.Param("id"))
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, orderErrors...))
		return
	}
	httputil.Success(c, view)
}

// @Summary Cancel an order
// @Description The chunk in flight completes; routing stops before the next one.
// @Tags orders
// @Produce json
// @Param id path string true "Order id"
// @Success 200 {object} httputil.Response
// @Failure 404 {object} httputil.Response
// @Failure 409 {object} httputil.Response "Order already finished"
// @Router /api/v1/orders/{id} [delete]
func (h *OrderHandler) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := h.router.Cancel(id); err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, orderErrors...))
		return
	}
	httputil.Success(c, gin.H{"orderId": id, "cancelRequested": true})
}

// @Summary List recorded fills of an order
// @Tags orders
// @Produce json
// @Param id path string true "Order id"
// @Success 200 {object} httputil.Response{data=[]domain.Fill}
// @Router /api/v1/orders/{id}/fills [get]
func (h *OrderHandler) getOrderFills(c *gin.Context) {
	fills, err := h.fills.FillsByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, orderErrors...))
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	httputil.Success(c, fills)
}

// FillHandler serves single ledger records.
type FillHandler struct {
	fills FillReader
}

func NewFillHandler(fills FillReader) *FillHandler {
	return &FillHandler{fills: fills}
}

func (h *FillHandler) Root() string {
	return "/fills"
}

func (h *FillHandler) SetRoutes(pub *gin.RouterGroup, _ *gin.RouterGroup) {
	pub.GET("/:id", h.getFill)
}

// @Summary Get a fill with its settlement records
// @Tags orders
// @Produce json
// @Param id path string true "Fill id"
// @Success 200 {object} httputil.Response{data=domain.FillRecord}
// @Failure 404 {object} httputil.Response
// @Router /api/v1/fills/{id} [get]
func (h *FillHandler) getFill(c *gin.Context) {
	rec, err := h.fills.Fill(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, orderErrors...))
		return
	}
	httputil.Success(c, rec)
}
