// Package handler exposes the attendance system over HTTP with gin.
package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classbeacon/internal/attendance"
	"classbeacon/internal/auth"
	"classbeacon/internal/checkin"
	"classbeacon/internal/httpmiddleware"
	"classbeacon/internal/window"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler holds the collaborators every route needs.
type Handler struct {
	att          *attendance.Service
	win          *window.Window
	sessions     *checkin.Service
	issuer       *auth.Issuer
	log          *slog.Logger
	pollInterval time.Duration
	checks       map[string]HealthCheck
	accessLog    io.Writer
}

// Deps groups the arguments to New.
type Deps struct {
	Attendance   *attendance.Service
	Window       *window.Window
	Sessions     *checkin.Service
	Issuer       *auth.Issuer
	Logger       *slog.Logger
	PollInterval time.Duration
	Checks       map[string]HealthCheck
	// AccessLog receives gin's request log. Nil means gin.DefaultWriter.
	AccessLog io.Writer
}

// New builds a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.PollInterval <= 0 {
		d.PollInterval = window.DefaultPollInterval
	}
	return &Handler{
		att:          d.Attendance,
		win:          d.Window,
		sessions:     d.Sessions,
		issuer:       d.Issuer,
		log:          d.Logger,
		pollInterval: d.PollInterval,
		checks:       d.Checks,
		accessLog:    d.AccessLog,
	}
}

// Router builds the gin engine with middleware and every route. A nil
// limiter disables rate limiting.
func (h *Handler) Router(limiter *httpmiddleware.TokenBucket) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: accessLogLine,
		Output:    h.accessLog,
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	if limiter != nil {
		r.Use(limiter.GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/identities", h.RegisterIdentity)
	v1.POST("/auth/refresh", h.Refresh)

	authed := v1.Group("", auth.Bearer(h.issuer))

	authed.GET("/window", auth.Require(auth.CapViewWindow), h.GetWindow)
	authed.GET("/window/stream", auth.Require(auth.CapViewWindow), h.StreamWindow)
	authed.POST("/window", auth.Require(auth.CapManageWindow), h.OpenWindow)
	authed.DELETE("/window", auth.Require(auth.CapManageWindow), h.CloseWindow)

	authed.GET("/subjects", auth.Require(auth.CapListSubjects), h.ListSubjects)
	authed.POST("/subjects", auth.Require(auth.CapManageSubjects), h.CreateSubject)
	authed.GET("/subjects/:id/records", auth.Require(auth.CapViewRecords), h.ListRecords)

	sess := authed.Group("/sessions", auth.Require(auth.CapCheckIn))
	sess.POST("", h.CreateSession)
	sess.GET("/:id", h.GetSession)
	sess.POST("/:id/camera", h.AcquireCamera)
	sess.POST("/:id/beacon", h.ToggleBeacon)
	sess.PUT("/:id/subject", h.SelectSubject)
	sess.POST("/:id/checkin", h.Submit)

	return r
}

// accessLogLine is gin's default line without the query string, which can
// carry an access token on websocket upgrades.
func accessLogLine(p gin.LogFormatterParams) string {
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		p.Request.URL.Path,
		p.ErrorMessage,
	)
}

// Healthz reports every configured dependency check.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
