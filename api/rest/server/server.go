package server

import (
	"github.com/gin-gonic/gin"

	"github.com/reporun/reporun/internal/cache"
	"github.com/reporun/reporun/internal/eventlog"
	"github.com/reporun/reporun/internal/logstore"
	"github.com/reporun/reporun/internal/repository"
)

// Server is the gateway HTTP server plus the dependencies its handlers
// translate requests onto: the event log for writes, the run store and
// the read-accelerator cache for reads.
type Server struct {
	Addr   string
	Engine *gin.Engine

	Log   eventlog.Log
	Runs  repository.RunRepository
	Cache *cache.RedisCache
	Logs  logstore.LogStore
}

func NewServer(addr string, log eventlog.Log, runs repository.RunRepository, cache *cache.RedisCache, logs logstore.LogStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		Addr:   addr,
		Engine: gin.Default(),
		Log:    log,
		Runs:   runs,
		Cache:  cache,
		Logs:   logs,
	}

	return s
}

func (s *Server) Run() error {
	return s.Engine.Run(s.Addr)
}
