// Package api serves the local admin/status HTTP API: engine state and
// traffic counters for a UI to poll, a websocket stream of the 1Hz
// accounting ticks, host system information, and config read/update with
// engine restart control.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bridgelab/relaybridge/config"
	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/bruteguard"
	"github.com/bridgelab/relaybridge/internal/engine"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/store"
)

var log = logx.New(logx.WithPrefix("api"))

// Server wires the admin API over a running (or stopped) engine. DB is
// optional; with no store the history endpoint reports 404.
type Server struct {
	Cfg    *config.Config
	Engine *engine.Engine
	DB     *store.DB
	Guard  *bruteguard.Guard

	// BaseCtx is the lifetime handed to engines started over the API;
	// nil falls back to context.Background().
	BaseCtx context.Context

	hub *wsHub

	httpSrv *http.Server
}

// New builds a Server and subscribes its websocket hub to the engine's
// accounting ticks.
func New(cfg *config.Config, eng *engine.Engine, db *store.DB) *Server {
	s := &Server{
		Cfg:    cfg,
		Engine: eng,
		DB:     db,
		Guard:  bruteguard.New(bruteguard.Config{}),
		hub:    newWSHub(),
	}
	eng.Observe(func(snap accounting.Snapshot) {
		s.hub.publish(snap, eng.Registry.InboundCount())
	})
	return s
}

// Router builds the gin engine. Split out from Start for tests.
func (s *Server) Router() *gin.Engine {
	logx.HookGin()
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())

	api := r.Group("/api")
	{
		api.POST("/login", s.login)
	}

	auth := api.Group("/")
	auth.Use(s.AuthRequired())
	{
		auth.GET("/status", s.status)
		auth.GET("/traffic", s.traffic)
		auth.GET("/traffic/history", s.trafficHistory)
		auth.GET("/systemInfo", s.systemInfo)

		auth.GET("/config", s.configRead)
		auth.PUT("/config", s.configUpdate)

		auth.POST("/start", s.engineStart)
		auth.POST("/stop", s.engineStop)
	}

	// The websocket handshake carries the token as a query parameter
	// since browsers can't set Authorization on a ws dial.
	r.GET("/ws/traffic", s.trafficWS)

	return r
}

// Start serves the API on cfg.Admin.Listen until Shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.Cfg.Admin.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("admin api listening on %s", s.Cfg.Admin.Listen)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin api: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and drops websocket clients.
func (s *Server) Shutdown(ctx context.Context) {
	s.hub.closeAll()
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
}
