package docstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexus-dashboard/nexus/internal/metrics"
)

// Publisher delivers committed changes to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// NotifyingStore wraps a Store and publishes every committed write.
// A failed publish is logged; the write itself has already succeeded.
type NotifyingStore struct {
	Store
	publisher Publisher
}

// WithPublisher decorates s so writes reach the change feed.
func WithPublisher(s Store, p Publisher) *NotifyingStore {
	return &NotifyingStore{Store: s, publisher: p}
}

func (n *NotifyingStore) Set(ctx context.Context, path Path, data any, expectedVersion int64) (*Document, error) {
	doc, err := n.Store.Set(ctx, path, data, expectedVersion)
	if err == nil {
		n.publish(ctx, path, OpSet, doc)
	}
	return doc, err
}

func (n *NotifyingStore) Merge(ctx context.Context, path Path, fields map[string]any, expectedVersion int64) (*Document, error) {
	doc, err := n.Store.Merge(ctx, path, fields, expectedVersion)
	if err == nil {
		n.publish(ctx, path, OpMerge, doc)
	}
	return doc, err
}

func (n *NotifyingStore) Update(ctx context.Context, path Path, fn MutateFunc) (*Document, error) {
	doc, err := n.Store.Update(ctx, path, fn)
	if err == nil {
		n.publish(ctx, path, OpSet, doc)
	}
	return doc, err
}

func (n *NotifyingStore) Delete(ctx context.Context, path Path, expectedVersion int64) error {
	err := n.Store.Delete(ctx, path, expectedVersion)
	if err == nil {
		n.publish(ctx, path, OpDelete, &Document{Path: path.String()})
	}
	return err
}

func (n *NotifyingStore) Batch(ctx context.Context, writes []Write) ([]*Document, error) {
	docs, err := n.Store.Batch(ctx, writes)
	if err == nil {
		for i, w := range writes {
			n.publish(ctx, w.Path, w.Op, docs[i])
		}
	}
	return docs, err
}

func (n *NotifyingStore) publish(ctx context.Context, path Path, op Op, doc *Document) {
	if op == "" {
		op = OpSet
	}
	metrics.DocumentWrites.WithLabelValues(path.Module, string(op)).Inc()

	change := Change{Path: doc.Path, Op: op, Version: doc.Version, At: time.Now().UTC()}
	if op != OpDelete {
		change.Data = doc.Data
	}
	if err := n.publisher.Publish(ctx, change); err != nil {
		slog.Warn("Failed to publish document change", "path", doc.Path, "error", err)
	}
}
