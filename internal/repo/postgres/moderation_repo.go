package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
)

const defaultFlagsLimit = 50

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type ModerationRepo struct {
	pool *pgxpool.Pool
}

func NewModerationRepo(pool *pgxpool.Pool) *ModerationRepo {
	return &ModerationRepo{pool: pool}
}

// ValidTableName reports whether name is safe to splice into an UPDATE as a
// content table.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func (r *ModerationRepo) InsertFlag(ctx context.Context, flag model.ModerationFlag) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	return insertFlag(ctx, r.pool, flag)
}

// HideContent sets visibility=hidden and locked_by_teacher=true on the target
// row. It reports whether the row changed; an already hidden row is a no-op.
func (r *ModerationRepo) HideContent(ctx context.Context, target model.ContentTarget) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	return hideContent(ctx, r.pool, target)
}

// RecordBlock appends the flag and hides the content in one transaction.
func (r *ModerationRepo) RecordBlock(ctx context.Context, flag model.ModerationFlag, target model.ContentTarget) error {
	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := insertFlag(ctx, tx, flag); err != nil {
			return err
		}
		if _, err := hideContent(ctx, tx, target); err != nil {
			return err
		}
		return nil
	})
}

func (r *ModerationRepo) ListFlags(ctx context.Context, contentType enums.ContentType, contentID string, limit int) ([]model.ModerationFlag, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if !contentType.Valid() || strings.TrimSpace(contentID) == "" {
		return nil, fmt.Errorf("invalid flag lookup payload")
	}
	if limit <= 0 {
		limit = defaultFlagsLimit
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, content_id, content_type, flagged_categories, scores, severity, action, user_id, created_at
FROM moderation_flags
WHERE content_type = $1 AND content_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3
`, string(contentType), contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query moderation flags: %w", err)
	}
	defer rows.Close()

	flags := make([]model.ModerationFlag, 0)
	for rows.Next() {
		var (
			flag      model.ModerationFlag
			rawType   string
			severity  string
			action    string
			rawScores []byte
		)
		if err := rows.Scan(
			&flag.ID,
			&flag.ContentID,
			&rawType,
			&flag.FlaggedCategories,
			&rawScores,
			&severity,
			&action,
			&flag.UserID,
			&flag.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan moderation flag: %w", err)
		}
		flag.ContentType = enums.ContentType(rawType)
		flag.Severity = enums.Severity(severity)
		flag.Action = enums.Action(action)
		if len(rawScores) > 0 {
			if err := json.Unmarshal(rawScores, &flag.Scores); err != nil {
				return nil, fmt.Errorf("decode moderation flag scores: %w", err)
			}
		}
		flags = append(flags, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation flags: %w", err)
	}

	return flags, nil
}

// ListRecentBlocks returns distinct content rows that received a block flag
// at or after since, oldest first. Pass the last ref of the previous page as
// after to continue; nil starts from the beginning of the window.
func (r *ModerationRepo) ListRecentBlocks(ctx context.Context, since time.Time, after *model.BlockedContentRef, limit int) ([]model.BlockedContentRef, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 500
	}

	var (
		afterAt   *time.Time
		afterType string
		afterID   string
	)
	if after != nil {
		at := after.FlaggedAt.UTC()
		afterAt = &at
		afterType = string(after.ContentType)
		afterID = after.ContentID
	}

	rows, err := r.pool.Query(ctx, `
SELECT content_type, content_id, MAX(created_at) AS flagged_at
FROM moderation_flags
WHERE action = 'block' AND created_at >= $1
GROUP BY content_type, content_id
HAVING $2::timestamptz IS NULL
	OR (MAX(created_at), content_type, content_id) > ($2::timestamptz, $3::text, $4::text)
ORDER BY flagged_at ASC, content_type ASC, content_id ASC
LIMIT $5
`, since.UTC(), afterAt, afterType, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent block flags: %w", err)
	}
	defer rows.Close()

	refs := make([]model.BlockedContentRef, 0)
	for rows.Next() {
		var (
			ref     model.BlockedContentRef
			rawType string
		)
		if err := rows.Scan(&rawType, &ref.ContentID, &ref.FlaggedAt); err != nil {
			return nil, fmt.Errorf("scan recent block flag: %w", err)
		}
		ref.ContentType = enums.ContentType(rawType)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent block flags: %w", err)
	}

	return refs, nil
}

func insertFlag(ctx context.Context, db execer, flag model.ModerationFlag) error {
	if strings.TrimSpace(flag.ContentID) == "" || strings.TrimSpace(flag.UserID) == "" || !flag.ContentType.Valid() {
		return fmt.Errorf("invalid moderation flag payload")
	}

	categories := flag.FlaggedCategories
	if categories == nil {
		categories = []string{}
	}
	scores, err := json.Marshal(flag.Scores)
	if err != nil {
		return fmt.Errorf("encode moderation flag scores: %w", err)
	}

	if _, err := db.Exec(ctx, `
INSERT INTO moderation_flags (
	id,
	content_id,
	content_type,
	flagged_categories,
	scores,
	severity,
	action,
	user_id,
	created_at
) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
`,
		flag.ID,
		flag.ContentID,
		string(flag.ContentType),
		categories,
		string(scores),
		string(flag.Severity),
		string(flag.Action),
		flag.UserID,
		flag.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert moderation flag: %w", err)
	}

	return nil
}

func hideContent(ctx context.Context, db execer, target model.ContentTarget) (bool, error) {
	if !ValidTableName(target.Table) {
		return false, fmt.Errorf("invalid content table %q", target.Table)
	}
	if strings.TrimSpace(target.ContentID) == "" {
		return false, fmt.Errorf("content id is required")
	}

	table := pgx.Identifier{target.Table}.Sanitize()
	tag, err := db.Exec(ctx, `
UPDATE `+table+`
SET visibility = 'hidden', locked_by_teacher = true
WHERE id::text = $1
  AND (visibility IS DISTINCT FROM 'hidden' OR locked_by_teacher IS DISTINCT FROM true)
`, target.ContentID)
	if err != nil {
		return false, fmt.Errorf("hide %s content: %w", target.Table, err)
	}

	return tag.RowsAffected() > 0, nil
}
