// Package api is the kiosk control surface: a small JSON API over the
// scanner state machine, the scan history and the check-in store.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"checkin-go/internal/config"
	"checkin-go/internal/mw"
	"checkin-go/internal/scanner"
)

// Service is what the API needs from the application.
type Service interface {
	Machine() *scanner.Machine
	History(ctx context.Context, limit int) ([]scanner.HistoryEntry, error)
	Checkins(ctx context.Context, eventID string) ([]scanner.Checkin, error)
}

// CardSource exposes the last shared card so the attached display can show
// it.
type CardSource interface {
	Last() (scanner.ShareCard, bool)
}

// NewRouter creates the gin engine. The history cache is flushed on every
// scanner change until ctx is done.
func NewRouter(ctx context.Context, svc Service, cards CardSource, cfg config.ServerConfig, logger scanner.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(logger))

	h := &Handler{svc: svc, cards: cards, logger: logger}

	ttl := time.Duration(cfg.HistoryCacheSeconds) * time.Second
	historyCache := cache.New(ttl, 2*ttl+time.Minute)
	caching := mw.Cache(historyCache, ttl, mw.InvalidatedBy(svc.Machine().Changes))
	go invalidateOnChange(ctx, svc.Machine(), historyCache)

	api := r.Group("/api")
	api.Use(mw.RateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	{
		api.GET("/scanner", h.GetStatus)
		api.POST("/scanner/start", h.Start)
		api.POST("/scanner/cancel", h.Cancel)
		api.POST("/scanner/dismiss", h.Dismiss)
		api.POST("/scanner/retry", h.Retry)
		api.POST("/scanner/torch", h.ToggleTorch)
		api.POST("/scanner/result/:action", h.RunAction)

		api.GET("/history", caching, h.GetHistory)
		api.GET("/events/:event_id/checkins", h.GetCheckins)
	}

	return r
}

func invalidateOnChange(ctx context.Context, m *scanner.Machine, store *cache.Cache) {
	for {
		select {
		case <-m.Changes():
			store.Flush()
		case <-ctx.Done():
			return
		}
	}
}
