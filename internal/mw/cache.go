package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// CacheOption tunes Cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	changes func() <-chan struct{}
}

// InvalidatedBy drops a response instead of storing it when the channel
// returned by changes is closed while the response is built. changes must
// hand out a fresh channel after each close, as scanner.Machine.Changes
// does.
func InvalidatedBy(changes func() <-chan struct{}) CacheOption {
	return func(cfg *cacheConfig) { cfg.changes = changes }
}

// Cache serves repeated GET requests for the same URI from store for
// duration. Only 2xx responses are kept. Callers invalidate with
// store.Flush.
func Cache(store *cache.Cache, duration time.Duration, opts ...CacheOption) gin.HandlerFunc {
	var cfg cacheConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || duration <= 0 {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if resp, found := store.Get(key); found {
			cached := resp.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.Header().Set("X-Cache", "hit")
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		var changed <-chan struct{}
		if cfg.changes != nil {
			changed = cfg.changes()
		}

		w := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		if changed != nil {
			select {
			case <-changed:
				return
			default:
			}
		}
		if w.Status() >= 200 && w.Status() < 300 {
			store.Set(key, cachedResponse{
				status:  w.Status(),
				headers: w.Header().Clone(),
				body:    w.body.Bytes(),
			}, duration)
		}
	}
}
