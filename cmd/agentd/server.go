package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/phenomenon0/injective-agents/core"
	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"
	"github.com/phenomenon0/injective-agents/pkg/trader/paper"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// router serves the status API, metrics, the event stream and tool calls.
func (a *app) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{})))
	r.GET("/ws", gin.WrapF(a.hub.ServeWS))

	tools := r.Group("/tools")
	tools.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.registry.Tools())
	})
	tools.POST("/:name", a.handleInvoke)

	paperAPI := r.Group("/paper")
	paperAPI.GET("/account", a.handlePaperAccount)
	paperAPI.GET("/orders", a.handlePaperOrders)
	paperAPI.POST("/reset", a.handlePaperReset)

	return r
}

func (a *app) handleInvoke(c *gin.Context) {
	name := c.Param("name")
	if _, ok := a.registry.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool " + name})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON"})
		return
	}
	body = withNetwork(body, a.net.String())

	res := a.registry.Invoke(c.Request.Context(), core.NewToolRequest(name, body))
	if res.Failed() {
		a.hub.BroadcastError(errors.New(res.Error), name)
	}
	c.JSON(resultStatus(res), res)
}

// resultStatus maps a tool result onto an HTTP status.
func resultStatus(res *core.ToolExecResult) int {
	switch res.Status {
	case core.ToolComplete:
		return http.StatusOK
	case core.ToolCanceled:
		return http.StatusGatewayTimeout
	}

	kind, _ := res.Metadata["kind"].(string)
	switch derivative.Kind(kind) {
	case derivative.KindValidation:
		return http.StatusBadRequest
	case derivative.KindLookup:
		return http.StatusNotFound
	case derivative.KindLiquidity:
		return http.StatusUnprocessableEntity
	case derivative.KindPolicy:
		return http.StatusForbidden
	case derivative.KindUpstream, derivative.KindBroadcast:
		return http.StatusBadGateway
	}
	// Registry-level failures: budget exhausted or rate limited.
	return http.StatusTooManyRequests
}

func (a *app) handlePaperAccount(c *gin.Context) {
	engine := a.paperEngine()
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in paper mode"})
		return
	}
	out := paperBalance(engine)
	out["network"] = a.net
	out["stats"] = engine.GetStats()
	c.JSON(http.StatusOK, out)
}

// paperBalance reports the balance in USDT, as /status does, alongside the
// raw quote base units the engine keeps.
func paperBalance(engine *paper.Engine) gin.H {
	raw := engine.GetBalance()
	return gin.H{
		"balance":            raw.Shift(-derivative.DefaultQuoteDecimals).StringFixed(2),
		"balance_base_units": raw.String(),
	}
}

func (a *app) handlePaperOrders(c *gin.Context) {
	engine := a.paperEngine()
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in paper mode"})
		return
	}
	c.JSON(http.StatusOK, engine.GetOpenOrders())
}

func (a *app) handlePaperReset(c *gin.Context) {
	engine := a.paperEngine()
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not in paper mode"})
		return
	}
	engine.Reset()
	a.logger.WithField("network", a.net).Info("paper account reset")
	a.hub.BroadcastStatus(a.status())
	out := paperBalance(engine)
	out["status"] = "reset"
	c.JSON(http.StatusOK, out)
}
