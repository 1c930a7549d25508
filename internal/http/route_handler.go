package http

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/common"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/http/httputil"
)

type RouteHandler struct {
	router OrderRouter
}

func NewRouteHandler(r OrderRouter) *RouteHandler {
	return &RouteHandler{router: r}
}

func (h *RouteHandler) Root() string {
	return "/route"
}

func (h *RouteHandler) SetRoutes(pub *gin.RouterGroup, _ *gin.RouterGroup) {
	pub.GET("", h.getOptimalRoute)
}

type RouteRequest struct {
	Base   string `form:"base" binding:"required" example:"WETH"`
	Quote  string `form:"quote" binding:"required" example:"USDC"`
	Side   string `form:"side" binding:"required" enums:"buy,sell" example:"buy"`
	Amount string `form:"amount" binding:"required" example:"10"`
}

// @Summary Estimate a route
// @Description Dry run: reads both venues and estimates how an order of this size would be
// @Description split. Nothing is executed.
// @Tags route
// @Produce json
// @Param base query string true "Base token symbol" example(WETH)
// @Param quote query string true "Quote token symbol" example(USDC)
// @Param side query string true "buy or sell" Enums(buy, sell)
// @Param amount query string true "Base amount in human units" example(10)
// @Success 200 {object} httputil.Response{data=domain.OptimalRoute}
// @Failure 400 {object} httputil.Response
// @Router /api/v1/route [get]
func (h *RouteHandler) getOptimalRoute(c *gin.Context) {
	var req RouteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httputil.BadRequest(c, "invalid query parameters: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.BadRequest(c, "invalid amount: must be a decimal number")
		return
	}
	pair, err := domain.ParsePair(req.Base + "/" + req.Quote)
	if err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	route, err := h.router.GetOptimalRoute(c.Request.Context(), pair, domain.Side(req.Side), amount)
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err))
		return
	}
	httputil.Success(c, route)
}
