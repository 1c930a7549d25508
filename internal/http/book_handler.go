package http

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/adapters/orderbook"
	"github.com/hxuan190/hybrid-router/internal/common"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/http/httputil"
)

const (
	defaultDepth = 10
	maxDepth     = 100
)

// BookReader serves depth snapshots from either the local or a remote book.
type BookReader interface {
	Depth(ctx context.Context, pair domain.Pair, levels int) (*domain.BookDepth, error)
}

// BookAdmin manages resting orders of the in-process book.
type BookAdmin interface {
	Place(ctx context.Context, order orderbook.LimitOrder) (string, []domain.BookTrade, error)
	Cancel(ctx context.Context, pair domain.Pair, orderID string) error
}

var bookErrors = []common.Mapping{
	{Err: orderbook.ErrInvalidOrder, Into: common.HTTPErrorBadRequest},
	{Err: orderbook.ErrOrderNotFound, Into: common.HTTPErrorNotFound},
}

type BookHandler struct {
	reader BookReader
	admin  BookAdmin
}

// NewBookHandler mounts admin routes only when admin is not nil.
func NewBookHandler(reader BookReader, admin BookAdmin) *BookHandler {
	return &BookHandler{reader: reader, admin: admin}
}

func (h *BookHandler) Root() string {
	return "/book"
}

func (h *BookHandler) SetRoutes(pub *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/:pair", h.getDepth)
	if h.admin != nil {
		admin.POST("/orders", h.placeOrder)
		admin.DELETE("/orders/:pair/:id", h.cancelOrder)
	}
}

// @Summary Order book depth
// @Tags book
// @Produce json
// @Param pair path string true "Pair as BASE-QUOTE" example(WETH-USDC)
// @Param depth query int false "Levels per side" default(10)
// @Success 200 {object} httputil.Response{data=domain.BookDepth}
// @Router /api/v1/book/{pair} [get]
func (h *BookHandler) getDepth(c *gin.Context) {
	pair, err := domain.ParsePair(c.Param("pair"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	levels := defaultDepth
	if raw := c.Query("depth"); raw != "" {
		levels, err = strconv.Atoi(raw)
		if err != nil || levels <= 0 || levels > maxDepth {
			httputil.BadRequest(c, "invalid depth: must be between 1 and 100")
			return
		}
	}
	depth, err := h.reader.Depth(c.Request.Context(), pair, levels)
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, bookErrors...))
		return
	}
	httputil.Success(c, depth)
}

type PlaceBookOrderRequest struct {
	Account string          `json:"account" binding:"required" example:"0x2222222222222222222222222222222222222222"`
	Pair    string          `json:"pair" binding:"required" example:"WETH/USDC"`
	Side    string          `json:"side" binding:"required" enums:"buy,sell" example:"sell"`
	Price   decimal.Decimal `json:"price" swaggertype:"string" example:"2000"`
	Amount  decimal.Decimal `json:"amount" swaggertype:"string" example:"5"`
}

type PlaceBookOrderResponse struct {
	OrderID string             `json:"orderId"`
	Trades  []domain.BookTrade `json:"trades"`
}

// @Summary Place a resting limit order on the local book
// @Tags book
// @Accept json
// @Produce json
// @Param order body PlaceBookOrderRequest true "Limit order"
// @Success 201 {object} httputil.Response{data=PlaceBookOrderResponse}
// @Failure 400 {object} httputil.Response
// @Router /api/v1/admin/book/orders [post]
func (h *BookHandler) placeOrder(c *gin.Context) {
	var body PlaceBookOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.BadRequest(c, "invalid body: "+err.Error())
		return
	}
	pair, err := domain.ParsePair(body.Pair)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	id, trades, err := h.admin.Place(c.Request.Context(), orderbook.LimitOrder{
		Account: body.Account,
		Pair:    pair,
		Side:    domain.Side(body.Side),
		Price:   body.Price,
		Amount:  body.Amount,
	})
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, bookErrors...))
		return
	}
	if trades == nil {
		trades = []domain.BookTrade{}
	}
	httputil.Created(c, PlaceBookOrderResponse{OrderID: id, Trades: trades})
}

// @Summary Cancel a resting order on the local book
// @Tags book
// @Produce json
// @Param pair path string true "Pair as BASE-QUOTE"
// @Param id path string true "Book order id"
// @Success 200 {object} httputil.Response
// @Failure 404 {object} httputil.Response
// @Router /api/v1/admin/book/orders/{pair}/{id} [delete]
func (h *BookHandler) cancelOrder(c *gin.Context) {
	pair, err := domain.ParsePair(c.Param("pair"))
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}
	id := c.Param("id")
	if err := h.admin.Cancel(c.Request.Context(), pair, id); err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, bookErrors...))
		return
	}
	httputil.Success(c, gin.H{"orderId": id, "cancelled": true})
}
