package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRow maps the documents table created by migration 000001.
type documentRow struct {
	Path      string `gorm:"primaryKey"`
	Seq       int64  `gorm:"->"`
	OwnerUID  string `gorm:"column:owner_uid;not null;index"`
	Module    string `gorm:"not null"`
	Parent    string `gorm:"index"`
	Version   int64  `gorm:"not null"`
	Data      datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (documentRow) TableName() string {
	return "documents"
}

func (r *documentRow) toDocument() *Document {
	return &Document{
		Path:      r.Path,
		Version:   r.Version,
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GormStore persists documents as JSONB rows in Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore over an open connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, path Path) (*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	var row documentRow
	if err := s.db.WithContext(ctx).Where("path = ?", path.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return row.toDocument(), nil
}

func (s *GormStore) List(ctx context.Context, collection Path) ([]*Document, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("parent = ?", collection.String()).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	out := make([]*Document, len(rows))
	for i := range rows {
		out[i] = rows[i].toDocument()
	}
	return out, nil
}

func (s *GormStore) Set(ctx context.Context, path Path, data any, expectedVersion int64) (*Document, error) {
	docs, err := s.Batch(ctx, []Write{{Path: path, Op: OpSet, Data: data, ExpectedVersion: expectedVersion}})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *GormStore) Merge(ctx context.Context, path Path, fields map[string]any, expectedVersion int64) (*Document, error) {
	docs, err := s.Batch(ctx, []Write{{Path: path, Op: OpMerge, Data: fields, ExpectedVersion: expectedVersion}})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

func (s *GormStore) Delete(ctx context.Context, path Path, expectedVersion int64) error {
	_, err := s.Batch(ctx, []Write{{Path: path, Op: OpDelete, ExpectedVersion: expectedVersion}})
	return err
}

// Update locks the row (SELECT ... FOR UPDATE) for the duration of fn.
func (s *GormStore) Update(ctx context.Context, path Path, fn MutateFunc) (*Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	var out *Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockRow(tx, path.String())
		if err != nil {
			return err
		}
		var body json.RawMessage
		if current != nil {
			body = json.RawMessage(current.Data)
		}

		next, err := fn(body)
		if err != nil {
			return err
		}
		raw, err := encode(next)
		if err != nil {
			return err
		}
		out, err = writeRow(tx, path, current, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("path LIKE ?", escapeLike(prefix)+"%").
		Delete(&documentRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Sweep(ctx context.Context, module, collection string, before time.Time) (int64, error) {
	parentPattern := escapeLike(rootSegment+"/") + "%" + escapeLike("/"+module+"/"+collection+"/"+itemsSegment)
	res := s.db.WithContext(ctx).
		Where("module = ? AND parent LIKE ? AND updated_at < ?", module, parentPattern, before).
		Delete(&documentRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Batch applies all writes in one transaction.
func (s *GormStore) Batch(ctx context.Context, writes []Write) ([]*Document, error) {
	for _, w := range writes {
		if err := w.Path.Validate(); err != nil {
			return nil, err
		}
	}

	out := make([]*Document, 0, len(writes))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			doc, err := applyWrite(tx, w)
			if err != nil {
				return err
			}
			out = append(out, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyWrite(tx *gorm.DB, w Write) (*Document, error) {
	key := w.Path.String()
	current, err := lockRow(tx, key)
	if err != nil {
		return nil, err
	}
	var currentDoc *Document
	if current != nil {
		currentDoc = current.toDocument()
	}
	if err := checkVersion(key, currentDoc, w.ExpectedVersion); err != nil {
		return nil, err
	}

	switch w.Op {
	case OpDelete:
		if current == nil {
			return nil, ErrNotFound
		}
		if err := tx.Where("path = ?", key).Delete(&documentRow{}).Error; err != nil {
			return nil, fmt.Errorf("failed to delete document: %w", err)
		}
		return &Document{Path: key}, nil
	case OpMerge:
		var base json.RawMessage
		if current != nil {
			base = json.RawMessage(current.Data)
		}
		fields, _ := w.Data.(map[string]any)
		raw, err := MergeFields(base, fields)
		if err != nil {
			return nil, err
		}
		return writeRow(tx, w.Path, current, raw)
	default:
		raw, err := encode(w.Data)
		if err != nil {
			return nil, err
		}
		return writeRow(tx, w.Path, current, raw)
	}
}

func lockRow(tx *gorm.DB, key string) (*documentRow, error) {
	var row documentRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("path = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	return &row, nil
}

func writeRow(tx *gorm.DB, path Path, current *documentRow, raw json.RawMessage) (*Document, error) {
	now := time.Now().UTC()

	if current == nil {
		row := documentRow{
			Path:      path.String(),
			OwnerUID:  path.UID,
			Module:    path.Module,
			Version:   1,
			Data:      datatypes.JSON(raw),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if !path.IsMain() {
			row.Parent = path.Parent().String()
		}
		if err := tx.Create(&row).Error; err != nil {
			// A concurrent create won the race for this path.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("%w: %s created concurrently", ErrVersionConflict, row.Path)
			}
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
		return row.toDocument(), nil
	}

	current.Version++
	current.Data = datatypes.JSON(raw)
	current.UpdatedAt = now
	err := tx.Model(&documentRow{}).Where("path = ?", current.Path).Updates(map[string]interface{}{
		"version":    current.Version,
		"data":       current.Data,
		"updated_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return current.toDocument(), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
