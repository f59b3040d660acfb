// internal/api/server.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/bedtime/internal/ratelimit"
	"github.com/user/bedtime/internal/story"
)

// Options configure the HTTP surface.
type Options struct {
	// MediaRoot is served under /media when set.
	MediaRoot string
	// LLMConfigured and TTSConfigured are reported by the health endpoint.
	LLMConfigured bool
	TTSConfigured bool
}

// Server is the JSON HTTP API over the story service.
type Server struct {
	stories *story.Service
	limiter *ratelimit.Limiter
	opts    Options
	started time.Time
	engine  *gin.Engine
}

// NewServer builds the router. A nil limiter admits everything under the
// default rules.
func NewServer(stories *story.Service, limiter *ratelimit.Limiter, opts Options) *Server {
	if limiter == nil {
		limiter = ratelimit.New(nil, nil)
	}
	s := &Server{
		stories: stories,
		limiter: limiter,
		opts:    opts,
		started: time.Now(),
		engine:  gin.New(),
	}
	s.engine.SetTrustedProxies(nil)
	s.engine.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	general := s.limit(ratelimit.General)
	generation := s.limit(ratelimit.Generation)

	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/generate-story", general, generation, s.handleGenerate)
	api.POST("/save-story", general, s.handleSave)
	api.GET("/stories", s.handleListStories)
	api.GET("/user-stories", s.handleUserStories)
	api.GET("/story/:id", s.handleGetStory)
	api.PUT("/story/:id", generation, s.handleEditStory)
	api.DELETE("/story/:id", general, s.handleDeleteStory)
	api.PATCH("/story/:id/tags", s.handleUpdateTags)
	api.PATCH("/story/:id/categories", s.handleUpdateCategories)
	api.GET("/tags", s.handleTags)
	api.GET("/categories", s.handleCategories)
	api.POST("/generate-audio", general, s.handleGenerateAudio)
	api.GET("/list-voices", s.handleListVoices)

	if s.opts.MediaRoot != "" {
		s.engine.StaticFS("/media", gin.Dir(s.opts.MediaRoot, false))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no such route"})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}
