// Package evidence keeps a snapshot of every flagged submission in object
// storage so a teacher can review exactly what was classified, even after
// the student edits or deletes the content.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mythcraft/api/internal/domain/model"
)

const defaultLinkTTL = 15 * time.Minute

var ErrValidation = errors.New("invalid evidence payload")

type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Snapshot struct {
	Flag       model.ModerationFlag `json:"flag"`
	Content    string               `json:"content"`
	ArchivedAt time.Time            `json:"archived_at"`
}

type Archiver struct {
	store   ObjectStore
	linkTTL time.Duration
	now     func() time.Time
}

func NewArchiver(store ObjectStore, linkTTL time.Duration) *Archiver {
	if linkTTL <= 0 {
		linkTTL = defaultLinkTTL
	}
	return &Archiver{store: store, linkTTL: linkTTL, now: time.Now}
}

// Key returns the object key of the snapshot for flag.
func Key(flag model.ModerationFlag) string {
	return fmt.Sprintf("flags/%s/%s/%s.json", flag.ContentType, flag.ContentID, flag.ID)
}

func (a *Archiver) Archive(ctx context.Context, flag model.ModerationFlag, content string) error {
	if a.store == nil {
		return fmt.Errorf("evidence store is not configured")
	}
	if !flag.ContentType.Valid() || flag.ContentID == "" {
		return ErrValidation
	}
	if err := a.store.EnsureBucket(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(Snapshot{
		Flag:       flag,
		Content:    content,
		ArchivedAt: a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode evidence snapshot: %w", err)
	}

	if err := a.store.PutObject(ctx, Key(flag), body, "application/json"); err != nil {
		return fmt.Errorf("archive evidence: %w", err)
	}
	return nil
}

// Link returns a time-limited download URL for the snapshot of flag.
func (a *Archiver) Link(ctx context.Context, flag model.ModerationFlag) (string, error) {
	if a.store == nil {
		return "", fmt.Errorf("evidence store is not configured")
	}
	return a.store.PresignGet(ctx, Key(flag), a.linkTTL)
}
