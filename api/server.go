package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sosmesh "github.com/opd-ai/sosmesh"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/messaging"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/sirupsen/logrus"
)

// Node is the part of a mesh node the API serves. *sosmesh.Mesh implements it.
type Node interface {
	PeerID() transport.PeerID
	Nickname() string
	Peers() []sosmesh.Peer
	Router() *emergency.Router
	DeliveryStatus(messageID string) (messaging.DeliveryStatus, bool)
	SendSOS(ctx context.Context, req sosmesh.SOSRequest) (*emergency.SOSMessage, error)
	RespondToSOS(sosID string, responseType emergency.ResponseType, message string, capabilities []string) (*emergency.SOSResponse, error)
	DeactivateSOS(sosID string) error
}

var _ Node = (*sosmesh.Mesh)(nil)

// Server represents the local HTTP status API of a mesh node.
type Server struct {
	node       Node
	router     *gin.Engine
	config     *Config
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	ListenAddr   string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// SOSTimeout bounds POST /sos, which may wait for a location fix.
	SOSTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:8080",
		EnableCORS:   true,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		SOSTimeout:   20 * time.Second,
	}
}

// NewServer creates a new HTTP API server
func NewServer(node Node, config *Config) (*Server, error) {
	if node == nil {
		return nil, errors.New("node is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		node:   node,
		router: gin.New(),
		config: config,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		sos := v1.Group("/sos")
		{
			sos.GET("", s.handleListSOS)
			sos.POST("", s.handleCreateSOS)
			sos.GET("/:id", s.handleGetSOS)
			sos.POST("/:id/deactivate", s.handleDeactivateSOS)
			sos.GET("/:id/responses", s.handleListResponses)
			sos.POST("/:id/responses", s.handleCreateResponse)
		}

		services := v1.Group("/services")
		{
			services.GET("", s.handleListServices)
			services.GET("/nearby", s.handleNearbyServices)
		}

		v1.GET("/peers", s.handlePeers)
		v1.GET("/delivery/:id", s.handleDelivery)
		v1.GET("/stats", s.handleStats)
		v1.GET("/health", s.handleHealth)
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Start",
			"addr":     s.config.ListenAddr,
		}).Info("HTTP API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.WithField("function", "Server.Start").Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
