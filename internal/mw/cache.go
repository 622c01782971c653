package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const cacheHeader = "X-Cache"

// snapshot is a complete response kept for replay.
type snapshot struct {
	status int
	header http.Header
	body   []byte
}

func (s snapshot) replay(c *gin.Context) {
	h := c.Writer.Header()
	for k, v := range s.header {
		h[k] = v
	}
	h.Set(cacheHeader, "HIT")
	c.Writer.WriteHeader(s.status)
	_, _ = c.Writer.Write(s.body)
}

// teeWriter copies everything the handler writes so it can be stored afterwards.
type teeWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves repeated GETs of the same URI from memory for ttl. Only 2xx responses are kept.
// Mount it only on routes whose body does not depend on the caller; Invalidate empties it.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ttl <= 0 || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if v, ok := store.Get(key); ok {
			v.(snapshot).replay(c)
			c.Abort()
			return
		}

		c.Header(cacheHeader, "MISS")
		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee
		c.Next()

		if status := tee.Status(); status >= http.StatusOK && status < http.StatusMultipleChoices {
			store.Set(key, snapshot{status: status, header: tee.Header().Clone(), body: tee.buf.Bytes()}, ttl)
		}
	}
}

// Invalidate flushes the response cache after every successful write, so a decision or
// inventory change is visible on the next read instead of after the cache TTL.
func Invalidate(store *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			return
		}
		if status := c.Writer.Status(); status >= http.StatusOK && status < http.StatusMultipleChoices {
			store.Flush()
		}
	}
}
