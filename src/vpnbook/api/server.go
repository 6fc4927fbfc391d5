package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
	"github.com/ICKelin/vpnbook/src/vpnbook/scrape"
	"github.com/ICKelin/vpnbook/src/vpnbook/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	metrics "github.com/rcrowley/go-metrics"
)

const DefaultListen = "127.0.0.1:8788"

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Controller is the orchestrator as seen from the API.
type Controller interface {
	State() session.State
	Credential() string
	Catalog() catalog.Catalog
	Connect(ctx context.Context, target catalog.Entry, credential string) error
	ConnectFastest(ctx context.Context, credential string) error
	Disconnect(ctx context.Context) error
	Refresh(ctx context.Context) []probe.Measurement
	ResolveCredential(ctx context.Context) (string, error)
	ResolveCredentialImage(ctx context.Context) (*scrape.Image, error)
}

// Latencies is the prober's latest table and metrics.
type Latencies interface {
	Latency(entry catalog.Entry) (probe.Measurement, bool)
	Registry() metrics.Registry
}

type Server struct {
	listen   string
	ctl      Controller
	lat      Latencies
	hub      *Hub
	engine   *gin.Engine
	srv      *http.Server
	upgrader websocket.Upgrader

	closeOnce sync.Once
	closing   chan struct{}
}

func NewServer(listen string, ctl Controller, lat Latencies, hub *Hub) *Server {
	if listen == "" {
		listen = DefaultListen
	}

	s := &Server{
		listen:  listen,
		ctl:     ctl,
		lat:     lat,
		hub:     hub,
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	if err := lat.Registry().Register("events.dropped", hub.dropped); err != nil {
		logs.Warn("register events.dropped fail: %v", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog())

	v1 := engine.Group("/api/v1")
	v1.GET("/state", s.onState)
	v1.GET("/servers", s.onServers)
	v1.POST("/servers/refresh", s.onRefresh)
	v1.POST("/connect", s.onConnect)
	v1.POST("/connect/fastest", s.onConnectFastest)
	v1.POST("/disconnect", s.onDisconnect)
	v1.POST("/credential/resolve", s.onResolve)
	v1.GET("/credential/image", s.onImage)
	v1.GET("/metrics", s.onMetrics)
	v1.GET("/events", s.onEvents)

	s.engine = engine
	s.srv = &http.Server{
		Addr:              listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		logs.Debug("api %s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(begin))
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until Shutdown.
func (s *Server) Run() error {
	logs.Info("api listen %s", s.listen)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and ends the event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.srv.Shutdown(ctx)
}
