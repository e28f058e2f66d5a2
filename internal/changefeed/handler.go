package changefeed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/metrics"
)

var errForeignPath = apperr.New(apperr.ErrForbidden, "forbidden", "path belongs to another user or a module you cannot access")

const heartbeatInterval = 25 * time.Second

// HandleStream serves GET /api/stream?path=... as server-sent events. The
// first event is the current snapshot; each later "change" event is one
// committed write, including the caller's own.
func HandleStream(store docstore.Store, feed Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := docstore.Parse(c.Query("path"))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		user := auth.CurrentUser(c)
		if user == nil || user.UID != path.UID || !user.CanAccess(path.Module) {
			apperr.Respond(c, errForeignPath)
			return
		}

		// Subscribe before reading the snapshot so nothing falls in between.
		sub, err := feed.Subscribe(c.Request.Context(), path.String())
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		defer sub.Close()

		snapshot, err := loadSnapshot(c.Request.Context(), store, path)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		metrics.LiveSubscriptions.Inc()
		defer metrics.LiveSubscriptions.Dec()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.SSEvent("snapshot", snapshot)
		c.Writer.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case change, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent("change", change)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

// snapshot is the first event of a stream.
type snapshot struct {
	Path      string               `json:"path"`
	Document  *docstore.Document   `json:"document,omitempty"`
	Documents []*docstore.Document `json:"documents,omitempty"`
}

func loadSnapshot(ctx context.Context, store docstore.Store, path docstore.Path) (snapshot, error) {
	snap := snapshot{Path: path.String()}
	if path.IsCollection() {
		docs, err := store.List(ctx, path)
		if err != nil {
			return snap, err
		}
		snap.Documents = docs
		return snap, nil
	}

	doc, err := store.Get(ctx, path)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return snap, err
	}
	snap.Document = doc
	return snap, nil
}
