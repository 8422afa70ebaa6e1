// Package httpapi exposes the driver's live state over a small HTTP API:
// latest readings per sensor, active batch policies, and routing metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/stream"
)

// Server serves the status API for one router.
type Server struct {
	router *stream.Router
	reg    *band.Registry
	logger *logrus.Logger
	engine *gin.Engine
	srv    *http.Server
}

// New creates the API server around a router.
func New(r *stream.Router, hw band.Hardware, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		router: r,
		reg:    band.NewRegistry(hw),
		logger: logger,
		engine: engine,
	}

	api := engine.Group("/api/v1")
	api.GET("/latest", s.handleLatestAll)
	api.GET("/latest/:sensor", s.handleLatest)
	api.GET("/status", s.handleStatus)

	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves the API until Shutdown. Blocks; run it in a goroutine.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("HTTP status API listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLatestAll(c *gin.Context) {
	out := make(map[string]interface{})
	s.reg.Each(func(d band.Descriptor) {
		if rd, ok := s.router.Latest(d.Type); ok {
			out[d.Type.String()] = rd
		}
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleLatest(c *gin.Context) {
	t, err := band.ParseSensorType(c.Param("sensor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rd, ok := s.router.Latest(t)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading received yet", "sensor": t.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sensor": t.String(), "reading": rd})
}

func (s *Server) handleStatus(c *gin.Context) {
	sensors := make(map[string]interface{})
	s.reg.Each(func(d band.Descriptor) {
		entry := gin.H{
			"sampleRate": d.SampleRate,
			"maxBatch":   d.MaxBatch(),
			"configured": false,
		}
		if policy, ok := s.router.ActivePolicy(d.Type); ok {
			entry["configured"] = true
			entry["policy"] = policy.String()
		}
		sensors[d.Type.String()] = entry
	})

	c.JSON(http.StatusOK, gin.H{
		"sensors": sensors,
		"metrics": s.router.Metrics(),
	})
}
