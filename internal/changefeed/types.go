// Package changefeed delivers committed document changes to live
// subscribers, in-process or across processes through Redis streams.
package changefeed

import (
	"context"
	"strings"

	"github.com/nexus-dashboard/nexus/internal/docstore"
)

// Stream naming
const (
	streamPrefix    = "docs:changes:"
	SchemaVersionV1 = "v1"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// its subscription is dropped.
const subscriberBuffer = 64

// Feed is both the publisher wired into the document store and the source
// of live subscriptions.
type Feed interface {
	docstore.Publisher
	Subscribe(ctx context.Context, target string) (*Subscription, error)
}

// Subscription streams changes under one target path until closed.
// C is closed when the subscription ends.
type Subscription struct {
	C      <-chan docstore.Change
	cancel context.CancelFunc
}

// Close releases the subscription.
func (s *Subscription) Close() {
	s.cancel()
}

// Matches reports whether a change at path is visible to a subscription on
// target: the document itself, or any item of a collection.
func Matches(target, path string) bool {
	return path == target || strings.HasPrefix(path, target+"/")
}

func streamKey(uid string) string {
	return streamPrefix + uid
}

// ownerOf extracts the uid from a users/{uid}/... path.
func ownerOf(target string) string {
	parts := strings.SplitN(target, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
