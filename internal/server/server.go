package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wemirror/internal/dispatch"
	"wemirror/internal/mirror"
)

// Server exposes the event ingest endpoints and the per-owner read API
// over HTTP. Ingest validates and enqueues; the dispatcher owns delivery.
// Reads go straight to the secondary store.
type Server struct {
	router     *gin.Engine
	dispatcher *dispatch.Dispatcher
	store      mirror.Store
	logger     mirror.Logger
}

// New creates a Server with its routes registered.
func New(dispatcher *dispatch.Dispatcher, store mirror.Store, logger mirror.Logger) *Server {
	s := &Server{
		router:     gin.New(),
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/v1")
	v1.POST("/events/identity-created", s.ingestIdentityCreated)
	v1.POST("/events/document-changed", s.ingestDocumentChange)
	v1.GET("/users/:uid/profile", s.getProfile)
	v1.GET("/users/:uid/pages", s.listPages)
	v1.GET("/users/:uid/pages/:id", s.getPage)
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on addr until ctx is cancelled, then shuts down
// gracefully with a short drain window.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "wemirrord",
	})
}

func (s *Server) ingestIdentityCreated(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := mirror.DecodeIdentityCreated(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deliveryID, err := s.dispatcher.SubmitIdentityCreated(ev)
	if err != nil {
		s.respondSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery": deliveryID})
}

func (s *Server) ingestDocumentChange(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := mirror.DecodeDocumentChange(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deliveryID, err := s.dispatcher.SubmitDocumentChange(ev)
	if err != nil {
		s.respondSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "delivery": deliveryID})
}

func (s *Server) respondSubmitError(c *gin.Context, err error) {
	if errors.Is(err, dispatch.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) getProfile(c *gin.Context) {
	uid := c.Param("uid")
	rec, ok, err := s.store.Get(c.Request.Context(), mirror.ProfilePath(uid))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) listPages(c *gin.Context) {
	uid := c.Param("uid")
	prefix := mirror.EntriesPrefix(uid)

	records, err := s.store.List(c.Request.Context(), prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Key the response by page id rather than full store path.
	pages := make(map[string]map[string]any, len(records))
	for path, rec := range records {
		pages[strings.TrimPrefix(path, prefix)] = rec
	}
	c.JSON(http.StatusOK, pages)
}

func (s *Server) getPage(c *gin.Context) {
	uid := c.Param("uid")
	id := c.Param("id")

	rec, ok, err := s.store.Get(c.Request.Context(), mirror.EntryPath(uid, id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "page not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
