// Package admin exposes the out-of-band HTTP surface of the server daemon:
// health, readiness, runtime stats and prometheus metrics. It never touches
// the domain store or the multiplexer's live set.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/ratewire/internal/observability"
)

// StatsFunc supplies extra fields for the /stats payload.
type StatsFunc func() map[string]any

type Config struct {
	ListenAddr  string
	Service     string
	CORSOrigins []string
	Stats       StatsFunc
}

type Server struct {
	cfg       Config
	router    *gin.Engine
	startedAt time.Time
}

func New(cfg Config) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, router: r, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": s.cfg.Service,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.startedAt).String(),
			"service": s.cfg.Service,
		})
	})

	s.router.GET("/stats", func(c *gin.Context) {
		payload := gin.H{
			"service": s.cfg.Service,
			"uptime":  time.Since(s.startedAt).String(),
		}
		if s.cfg.Stats != nil {
			for k, v := range s.cfg.Stats() {
				payload[k] = v
			}
		}
		c.JSON(http.StatusOK, payload)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves the admin surface; blocks until the listener fails.
func (s *Server) Run() error {
	return s.router.Run(s.cfg.ListenAddr)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, raw := range origins {
		o := strings.TrimSpace(raw)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:3000"}
	}
	return out
}
