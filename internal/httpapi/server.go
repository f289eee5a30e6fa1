package httpapi

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/blobstore"
	"github.com/sammcj/batchserve/internal/config"
	"github.com/sammcj/batchserve/internal/logging"
	"github.com/sammcj/batchserve/internal/scheduler"
	"github.com/sammcj/batchserve/internal/store"
)

// Server wires the OpenAI-compatible HTTP surface to the metadata
// store, blob store and scheduler. It never touches the GPU or the
// worker's execution loop directly; the scheduler is its only write
// path into the batch pipeline, matching spec section 5's "HTTP
// handlers never block on the scheduler or worker" boundary (Admit
// does not block either: it takes a free queue slot or rejects the job
// at once).
type Server struct {
	cfg       config.Config
	store     store.MetadataStore
	blobs     *blobstore.Store
	scheduler *scheduler.Scheduler
	heartbeat *scheduler.HeartbeatMonitor
	logger    logging.Logger

	fasthttp *fasthttp.Server
}

func NewServer(cfg config.Config, st store.MetadataStore, blobs *blobstore.Store, sched *scheduler.Scheduler, heartbeat *scheduler.HeartbeatMonitor, logger logging.Logger) *Server {
	return &Server{cfg: cfg, store: st, blobs: blobs, scheduler: sched, heartbeat: heartbeat, logger: logger}
}

func (s *Server) engineModel() string {
	_, loadedModel, _, _ := s.heartbeat.Snapshot()
	return loadedModel
}

// Handler builds the routed fasthttp handler, with logging and
// optional bearer-auth middleware wrapping every route.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	mws := []middleware{loggingMiddleware(s.logger), authMiddleware(s.cfg.APIKey, s.logger)}
	wrap := func(h fasthttp.RequestHandler) fasthttp.RequestHandler { return chainMiddlewares(h, mws...) }

	r.POST("/v1/files", wrap(s.uploadFile))
	r.GET("/v1/files", wrap(s.listFiles))
	r.GET("/v1/files/{id}", wrap(s.getFile))
	r.GET("/v1/files/{id}/content", wrap(s.getFileContent))
	r.DELETE("/v1/files/{id}", wrap(s.deleteFile))

	r.POST("/v1/batches", wrap(s.createBatch))
	r.GET("/v1/batches", wrap(s.listBatches))
	r.GET("/v1/batches/{id}", wrap(s.getBatch))
	r.POST("/v1/batches/{id}/cancel", wrap(s.cancelBatch))
	r.GET("/v1/batches/{id}/results", wrap(s.getBatchResults))

	r.GET("/v1/models", wrap(s.listModels))

	r.GET("/health", wrap(s.getHealth))
	r.GET("/liveness", wrap(s.getLiveness))
	r.GET("/readiness", wrap(s.getReadiness))

	return r.Handler
}

// ListenAndServe starts the fasthttp server on host:port, blocking
// until the listener returns (on shutdown or fatal error).
func (s *Server) ListenAndServe(addr string) error {
	s.fasthttp = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "batchserve",
	}
	return s.fasthttp.ListenAndServe(addr)
}

// Shutdown gracefully stops the HTTP listener, letting in-flight
// requests finish. A nil receiver-less call before ListenAndServe is a
// no-op.
func (s *Server) Shutdown() error {
	if s.fasthttp == nil {
		return nil
	}
	return s.fasthttp.Shutdown()
}
