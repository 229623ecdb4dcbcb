// Package paging reads limit/offset query parameters for list endpoints.
package paging

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Page is a clamped window into a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// FromQuery parses ?limit and ?offset. Garbage falls back to the defaults,
// negatives clamp to zero and limit never exceeds MaxLimit.
func FromQuery(c *gin.Context) Page {
	p := Page{
		Limit:  intParam(c, "limit", DefaultLimit),
		Offset: intParam(c, "offset", 0),
	}
	p.Limit = min(max(p.Limit, 0), MaxLimit)
	p.Offset = max(p.Offset, 0)
	return p
}

func intParam(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
