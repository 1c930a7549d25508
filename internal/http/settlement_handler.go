package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/hybrid-router/internal/common"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/http/httputil"
	"github.com/hxuan190/hybrid-router/internal/services/settlement"
)

// SettlementQueue is the operator surface of the settlement coordinator.
type SettlementQueue interface {
	Pending() []domain.PendingTrade
	FailedTrades() []domain.FailedSettlement
	Requeue(tradeID string) error
	Stats() settlement.Stats
	Drain(ctx context.Context) (settlement.DrainResult, error)
}

var settlementErrors = []common.Mapping{
	{Err: settlement.ErrUnknownTrade, Into: common.HTTPErrorNotFound},
	{Err: settlement.ErrDrainInProgress, Into: common.HTTPErrorResourceConflict},
}

type SettlementHandler struct {
	queue SettlementQueue
}

func NewSettlementHandler(queue SettlementQueue) *SettlementHandler {
	return &SettlementHandler{queue: queue}
}

func (h *SettlementHandler) Root() string {
	return "/settlement"
}

func (h *SettlementHandler) SetRoutes(pub *gin.RouterGroup, admin *gin.RouterGroup) {
	pub.GET("/pending", h.getPending)
	pub.GET("/failed", h.getFailed)
	pub.GET("/stats", h.getStats)

	admin.POST("/requeue/:tradeId", h.requeue)
	admin.POST("/drain", h.drain)
}

// @Summary Trades waiting for settlement
// @Tags settlement
// @Produce json
// @Success 200 {object} httputil.Response{data=[]domain.PendingTrade}
// @Router /api/v1/settlement/pending [get]
func (h *SettlementHandler) getPending(c *gin.Context) {
	httputil.Success(c, h.queue.Pending())
}

// @Summary Trades whose settlement failed
// @Description Failed trades are never retried automatically. Use the admin requeue endpoint
// @Description once the cause is understood.
// @Tags settlement
// @Produce json
// @Success 200 {object} httputil.Response{data=[]domain.FailedSettlement}
// @Router /api/v1/settlement/failed [get]
func (h *SettlementHandler) getFailed(c *gin.Context) {
	httputil.Success(c, h.queue.FailedTrades())
}

// @Summary Settlement counters
// @Tags settlement
// @Produce json
// @Success 200 {object} httputil.Response{data=settlement.Stats}
// @Router /api/v1/settlement/stats [get]
func (h *SettlementHandler) getStats(c *gin.Context) {
	httputil.Success(c, h.queue.Stats())
}

// @Summary Requeue a failed trade
// @Tags settlement
// @Produce json
// @Param tradeId path string true "Trade id"
// @Success 200 {object} httputil.Response
// @Failure 404 {object} httputil.Response "Trade is not in the failed list"
// @Router /api/v1/admin/settlement/requeue/{tradeId} [post]
func (h *SettlementHandler) requeue(c *gin.Context) {
	id := c.Param("tradeId")
	if err := h.queue.Requeue(id); err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, settlementErrors...))
		return
	}
	httputil.Success(c, gin.H{"tradeId": id, "requeued": true})
}

// @Summary Run one drain now
// @Tags settlement
// @Produce json
// @Success 200 {object} httputil.Response{data=settlement.DrainResult}
// @Failure 409 {object} httputil.Response "A drain is already running"
// @Router /api/v1/admin/settlement/drain [post]
func (h *SettlementHandler) drain(c *gin.Context) {
	res, err := h.queue.Drain(c.Request.Context())
	if err != nil {
		httputil.Fail(c, common.HTTPErrorFrom(err, settlementErrors...))
		return
	}
	httputil.Success(c, res)
}
