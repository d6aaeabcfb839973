package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Authorization, Content-Type, X-Request-ID"
	// Export downloads are named through Content-Disposition.
	exposedHeaders = "Content-Disposition, X-Request-ID"
)

// Options configures the gradebook CORS policy.
type Options struct {
	// AllowedOrigins lists the LMS front-ends allowed to call the API. Empty
	// means any origin, without credentials.
	AllowedOrigins []string
	MaxAge         time.Duration
}

type policy struct {
	origins map[string]struct{}
	maxAge  string
}

// New returns the CORS middleware. Preflights from origins outside the list are
// answered with 403 so browsers fail fast.
func New(opts Options) gin.HandlerFunc {
	p := policy{origins: make(map[string]struct{}, len(opts.AllowedOrigins))}
	for _, origin := range opts.AllowedOrigins {
		p.origins[normalize(origin)] = struct{}{}
	}
	if opts.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(opts.MaxAge / time.Second))
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Add("Vary", "Origin")
		origin := c.GetHeader("Origin")
		allowed := p.allows(origin)

		switch {
		case origin == "":
		case len(p.origins) == 0:
			header.Set("Access-Control-Allow-Origin", "*")
		case allowed:
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		if allowed && origin != "" {
			header.Set("Access-Control-Expose-Headers", exposedHeaders)
		}

		if c.Request.Method != http.MethodOptions || c.GetHeader("Access-Control-Request-Method") == "" {
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		header.Set("Access-Control-Allow-Methods", allowedMethods)
		header.Set("Access-Control-Allow-Headers", allowedHeaders)
		if p.maxAge != "" {
			header.Set("Access-Control-Max-Age", p.maxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func (p policy) allows(origin string) bool {
	if len(p.origins) == 0 {
		return true
	}
	_, ok := p.origins[normalize(origin)]
	return ok
}

func normalize(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
