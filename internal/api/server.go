package api

import (
	"context"
	"net/http"

	"github.com/example/ec-ordering/internal/api/middleware"
	"github.com/example/ec-ordering/internal/auth"
	"github.com/example/ec-ordering/internal/command"
	"github.com/example/ec-ordering/internal/query"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Commands *command.Handler
	Queries  *query.Handler
	// JWT is optional; nil serves every route without authentication.
	JWT      *auth.JWTService
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(d.Log))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	h := &orderHandlers{cmds: d.Commands, queries: d.Queries, log: d.Log}

	v1 := e.Group("/api/v1", middleware.JWTMiddleware(d.JWT))
	v1.POST("/orders", h.create)
	v1.GET("/orders/:id", h.get)
	v1.PUT("/orders/:id", h.update)
	v1.DELETE("/orders/:id", h.delete)
	v1.GET("/orders/:id/history", h.history)
	v1.GET("/customers/:id/orders", h.listByCustomer, middleware.RequireSelfOrAdmin("id"))

	return &Server{e: e, log: d.Log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Debug("http request", fields...)
			return nil
		},
	})
}
