package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a rendered catalog response kept between requests.
type snapshot struct {
	status  int
	headers http.Header
	body    []byte
}

// teeWriter copies everything the handler writes into buf.
type teeWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w teeWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache serves repeated GETs of connection-independent data, such as the
// dosage form and unit catalog, from memory. Never mount it on routes whose
// body depends on the caller's token: the key is the request URI alone.
// Only 2xx responses are kept. X-Cache reports HIT or MISS.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if v, found := store.Get(key); found {
			snap := v.(snapshot)
			h := c.Writer.Header()
			for k, vals := range snap.headers {
				h[k] = vals
			}
			h.Set("X-Cache", "HIT")
			c.Writer.WriteHeader(snap.status)
			_, _ = c.Writer.Write(snap.body)
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-Cache", "MISS")
		tee := &teeWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = tee

		c.Next()

		status := tee.Status()
		if status < 200 || status >= 300 {
			return
		}
		headers := tee.Header().Clone()
		headers.Del("X-Cache")
		store.Set(key, snapshot{status: status, headers: headers, body: tee.buf.Bytes()}, ttl)
	}
}
