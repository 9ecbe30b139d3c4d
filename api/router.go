package api

import (
	"net/http"
	"os"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lead-relay/logging"
	"lead-relay/metrics"
	"lead-relay/middleware"
)

type RouterOptions struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	StaticDir    string
	MaxBodyBytes int64
}

// NewRouter wires the handlers onto a gin engine. Unmatched GET and HEAD
// requests are served from StaticDir.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()

	router.Use(
		logging.Recovery(opts.Logger),
		middleware.RequestID(),
		logging.RequestLogger(opts.Logger),
		opts.Metrics.Middleware(),
	)

	router.POST("/test", h.Test)
	router.POST("/send-email", middleware.BodyLimit(opts.MaxBodyBytes), h.SendEmail)
	router.GET("/health", h.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	router.NoRoute(staticFallback(opts.StaticDir))

	return router
}

func staticFallback(dir string) gin.HandlerFunc {
	if dir == "" {
		return func(c *gin.Context) {
			c.String(http.StatusNotFound, "404 page not found")
		}
	}

	files := http.FileServer(indexOnlyFS{http.Dir(dir)})
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.String(http.StatusNotFound, "404 page not found")
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

// indexOnlyFS hides directories that have no index.html, so the file server
// answers 404 instead of rendering a listing.
type indexOnlyFS struct {
	root http.FileSystem
}

func (fsys indexOnlyFS) Open(name string) (http.File, error) {
	f, err := fsys.root.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.IsDir() {
		return f, nil
	}

	index, err := fsys.root.Open(path.Join(name, "index.html"))
	if err != nil {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	_ = index.Close()
	return f, nil
}
