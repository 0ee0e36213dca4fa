// Package daemon provides the HTTP surface of the tracker: the keep-alive
// liveness endpoints, a status dashboard, and the roster administration API.
package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/guildtrack/tracker/internal/audit"
	"github.com/guildtrack/tracker/internal/backup"
	"github.com/guildtrack/tracker/internal/config"
	"github.com/guildtrack/tracker/internal/display"
	"github.com/guildtrack/tracker/internal/models"
)

// Server is the web service wrapping the roster store and the reconciliation
// collaborators for administrative operations.
type Server struct {
	Config    *config.Config
	Store     models.RosterStore
	Source    models.VerificationSource
	Sync      *display.Synchronizer
	Audit     *audit.Logger
	Backups   *backup.Runner
	StartTime time.Time

	server *http.Server
}

func NewServer(cfg *config.Config, store models.RosterStore, source models.VerificationSource, sync *display.Synchronizer, auditLog *audit.Logger, backups *backup.Runner) *Server {
	return &Server{
		Config:    cfg,
		Store:     store,
		Source:    source,
		Sync:      sync,
		Audit:     auditLog,
		Backups:   backups,
		StartTime: time.Now().UTC(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	// Keep-alive endpoints polled by external uptime monitors.
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Bot is alive!")
	})
	router.GET("/alive", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)

		api.GET("/groups/:id", s.handleGetGroup)
		api.PUT("/groups/:id", s.handleSaveGroup)
		api.PUT("/groups/:id/autoremove", s.handleAutoRemove)

		api.POST("/groups/:id/members", s.handleAddMembers)
		api.DELETE("/groups/:id/members/:name", s.handleRemoveMember)
		api.POST("/groups/:id/refresh", s.handleRefresh)

		api.GET("/characters/:name/id", s.handleCharacterID)
	}

	return router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.Config.Server.Addr(),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"addr": s.server.Addr,
		}).Infoln("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
