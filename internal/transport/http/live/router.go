package livehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scalpguard/internal/logger"
	symbolpkg "scalpguard/internal/pkg/symbol"
	"scalpguard/internal/trader"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Router 暴露风控、持仓与价格相关接口。
type Router struct {
	Governor  GovernorAPI
	Positions PositionAPI
	Prices    PriceAPI
	Profiles  ProfileAPI
	History   HistoryAPI
}

// NewRouter 构造 live HTTP router。
func NewRouter(gov GovernorAPI, positions PositionAPI, prices PriceAPI, profiles ProfileAPI, history HistoryAPI) *Router {
	return &Router{Governor: gov, Positions: positions, Prices: prices, Profiles: profiles, History: history}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/governor/stats", r.handleGovernorStats)
	group.GET("/governor/can-trade", r.handleCanTrade)
	group.GET("/governor/halt", r.handleHaltStatus)
	group.POST("/governor/halt", r.handleHalt)
	group.POST("/governor/reset", r.handleReset)
	if r.Prices != nil {
		group.GET("/prices", r.handleListPrices)
		group.POST("/prices", r.handlePublishPrice)
	}
	if r.Positions != nil {
		group.GET("/positions", r.handleListPositions)
		group.POST("/positions", r.handleOpenPosition)
		group.DELETE("/positions/:id", r.handleClosePosition)
	}
	if r.Profiles != nil {
		group.GET("/profiles", r.handleProfiles)
	}
	if r.History != nil {
		group.GET("/outcomes", r.handleOutcomes)
		group.GET("/governor/events", r.handleGovernorEvents)
	}
}

func (r *Router) handleGovernorStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.Governor.Stats())
}

// handleCanTrade 与开仓前的检查走同一路径，可能因此触发暂停。
func (r *Router) handleCanTrade(c *gin.Context) {
	d := r.Governor.CanTrade()
	if !d.CanTrade {
		logger.Infof("[api] can-trade denied ip=%s reason=%s", c.ClientIP(), d.Reason)
	}
	c.JSON(http.StatusOK, d)
}

func (r *Router) handleHaltStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Governor.IsSessionHalted())
}

func (r *Router) handleHalt(c *gin.Context) {
	var req haltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	logger.Warnf("[api] manual halt ip=%s reason=%s", c.ClientIP(), reason)
	r.Governor.HaltSession("manual: " + reason)
	c.JSON(http.StatusOK, r.Governor.IsSessionHalted())
}

func (r *Router) handleReset(c *gin.Context) {
	logger.Warnf("[api] governor reset ip=%s", c.ClientIP())
	r.Governor.Reset()
	c.JSON(http.StatusOK, r.Governor.Stats())
}

func (r *Router) handleListPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"quotes": r.Prices.Quotes()})
}

func (r *Router) handlePublishPrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	symbol := symbolpkg.Normalize(req.Symbol)
	if symbol == "" || req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and positive price are required"})
		return
	}
	at := time.Now()
	if req.TsMs > 0 {
		at = time.UnixMilli(req.TsMs)
	}
	if !r.Prices.Publish(symbol, req.Price, at) {
		c.JSON(http.StatusConflict, gin.H{"error": "quote is older than the current one"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": req.Price, "at": at})
}

func (r *Router) handleListPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.Positions.Positions()})
}

func (r *Router) handleOpenPosition(c *gin.Context) {
	var req trader.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	view, err := r.Positions.Open(c.Request.Context(), req)
	if err != nil {
		var denied *trader.DeniedError
		switch {
		case errors.As(err, &denied):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "decision": denied.Decision})
		case errors.Is(err, trader.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, trader.ErrNoPrice):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, trader.ErrStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			logger.Errorf("[api] open position failed ip=%s err=%v", c.ClientIP(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (r *Router) handleClosePosition(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	res, err := r.Positions.Close(ctx, id)
	if err != nil {
		if errors.Is(err, trader.ErrUnknownPosition) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] close position failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "result": res})
}

func (r *Router) handleProfiles(c *gin.Context) {
	snap := r.Profiles.Snapshot()
	profiles := make([]any, 0, len(snap.Profiles))
	for _, id := range snap.IDs() {
		profiles = append(profiles, snap.Profiles[id])
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"profiles":  profiles,
	})
}

func (r *Router) handleOutcomes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	rows, err := r.History.RecentOutcomes(ctx, parseLimit(c))
	if err != nil {
		logger.Errorf("[api] list outcomes failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": rows})
}

func (r *Router) handleGovernorEvents(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	rows, err := r.History.RecentGovernorEvents(ctx, parseLimit(c))
	if err != nil {
		logger.Errorf("[api] list governor events failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func parseLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
