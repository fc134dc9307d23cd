package httpServer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"edgecast/internal/pipeline"
	"edgecast/internal/render"
	"edgecast/pkg/models"
)

// Pipeline is the part of the session the API controls
type Pipeline interface {
	StartPublishing(selector string) (string, error)
	StartSubscribing(selector string) (string, error)
	Stop(dir models.Direction) error
	Status() pipeline.Status
	LocalCanvas() *render.Canvas
	RemoteCanvas() *render.Canvas
}

// Server wraps the HTTP server with dependencies
type Server struct {
	router   *gin.Engine
	pipeline Pipeline
	gatherer prometheus.Gatherer
	log      *logrus.Entry
}

// New creates a new HTTP server
func New(p Pipeline, gatherer prometheus.Gatherer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		pipeline: p,
		gatherer: gatherer,
		log:      log.WithField("component", "http"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/v1/streams", s.handleStatus)
		api.POST("/v1/publish", s.handleSelect(models.DirectionPublish))
		api.POST("/v1/subscribe", s.handleSelect(models.DirectionSubscribe))
		api.POST("/v1/streams/:direction/stop", s.handleStop)
	}

	live := router.Group("/live")
	{
		live.GET("/local.png", s.handleCanvas(s.pipeline.LocalCanvas))
		live.GET("/remote.png", s.handleCanvas(s.pipeline.RemoteCanvas))
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.router = router
}

// Handler returns the HTTP handler, for embedding in an http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleSelect(dir models.Direction) gin.HandlerFunc {
	start := s.pipeline.StartPublishing
	if dir == models.DirectionSubscribe {
		start = s.pipeline.StartSubscribing
	}

	return func(c *gin.Context) {
		var req models.SelectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}

		streamID, err := start(req.Selector)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, models.ErrInvalidSelector):
				status = http.StatusBadRequest
			case errors.Is(err, models.ErrClosed):
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, models.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, models.SelectResponse{
			Direction: dir,
			StreamID:  streamID,
		})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	dir, err := models.ParseDirection(c.Param("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.pipeline.Stop(dir); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "connection closed",
		"direction": dir,
	})
}

func (s *Server) handleCanvas(canvas func() *render.Canvas) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := canvas().PNG()
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
			return
		}

		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Header("Access-Control-Allow-Origin", "*")

		c.Data(http.StatusOK, "image/png", data)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"client":   c.ClientIP(),
		}).Debug("Request handled")
	}
}
