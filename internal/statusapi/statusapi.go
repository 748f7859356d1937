// Package statusapi implements C12: a small read-only HTTP surface for
// observing a running scan — current cursor, owned-output count, and
// whether a Watcher is running — without touching any of the engine's
// write paths.
//
// Grounded on leanlp-BTC-coinjoin's internal/api/routes.go (gin.Default(),
// a versioned route group, simple gin.H JSON handlers) trimmed down to
// only the public, auth-free surface this engine needs: there is no
// mutating endpoint here, so the teacher's AuthMiddleware/rate-limiter
// stack has nothing to protect.
package statusapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// CursorFunc returns the last recorded scan cursor.
type CursorFunc func() (scantypes.ScanCursor, error)

// OwnedCountFunc returns the number of outputs currently tracked as owned.
type OwnedCountFunc func() (int, error)

// RunningFunc reports whether a continuous Watcher is currently active.
type RunningFunc func() bool

// NewRouter builds the gin.Engine serving /api/v1/health and
// /api/v1/status. Any of the funcs may be nil, in which case the
// corresponding field is omitted from the status response.
func NewRouter(getCursor CursorFunc, getOwnedCount OwnedCountFunc, isRunning RunningFunc) *gin.Engine {
	r := gin.Default()

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handleHealth)
		v1.GET("/status", handleStatus(getCursor, getOwnedCount, isRunning))
	}

	return r
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func handleStatus(getCursor CursorFunc, getOwnedCount OwnedCountFunc, isRunning RunningFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{}

		if getCursor != nil {
			cursor, err := getCursor()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp["cursor"] = gin.H{
				"start":   cursor.Start,
				"current": cursor.Current,
				"end":     cursor.End,
			}
		}

		if getOwnedCount != nil {
			count, err := getOwnedCount()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp["owned_count"] = count
		}

		if isRunning != nil {
			resp["watching"] = isRunning()
		}

		c.JSON(http.StatusOK, resp)
	}
}
