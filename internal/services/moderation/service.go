package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
	"github.com/mythcraft/api/internal/infra/metrics"
	pgrepo "github.com/mythcraft/api/internal/repo/postgres"
)

const (
	defaultMaxBatchSize = 20
	defaultFlagsLimit   = 50
	maxFlagsLimit       = 200
)

type Classifier interface {
	Classify(ctx context.Context, text string) model.ClassificationResult
	ClassifyBatch(ctx context.Context, texts []string) []model.ClassificationResult
}

type Store interface {
	InsertFlag(ctx context.Context, flag model.ModerationFlag) error
	HideContent(ctx context.Context, target model.ContentTarget) (bool, error)
	RecordBlock(ctx context.Context, flag model.ModerationFlag, target model.ContentTarget) error
	ListFlags(ctx context.Context, contentType enums.ContentType, contentID string, limit int) ([]model.ModerationFlag, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string) (int64, bool, error)
}

type Publisher interface {
	PublishFlagged(ctx context.Context, flag model.ModerationFlag) error
}

type EvidenceArchive interface {
	Archive(ctx context.Context, flag model.ModerationFlag, content string) error
}

// Dependencies wires the service. Classifier is required; everything else
// may be nil, in which case that step is skipped.
type Dependencies struct {
	Classifier Classifier
	Store      Store
	Limiter    RateLimiter
	Publisher  Publisher
	Evidence   EvidenceArchive
	Logger     *zap.Logger
}

type Config struct {
	// Tables maps a content type to the table whose row is hidden on block.
	Tables           map[enums.ContentType]string
	MaxBatchSize     int
	MaxContentLength int
}

type Service struct {
	classifier Classifier
	store      Store
	limiter    RateLimiter
	publisher  Publisher
	evidence   EvidenceArchive
	logger     *zap.Logger

	tables           map[enums.ContentType]string
	maxBatchSize     int
	maxContentLength int

	now   func() time.Time
	newID func() uuid.UUID
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Classifier == nil {
		return nil, fmt.Errorf("moderation service dependencies are not configured")
	}

	tables := make(map[enums.ContentType]string, len(cfg.Tables))
	for rawType, table := range cfg.Tables {
		contentType, ok := enums.ParseContentType(string(rawType))
		if !ok {
			return nil, fmt.Errorf("unknown content type %q in table mapping", rawType)
		}
		table = strings.TrimSpace(table)
		if !pgrepo.ValidTableName(table) {
			return nil, fmt.Errorf("invalid table name %q for content type %s", table, contentType)
		}
		tables[contentType] = table
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}

	return &Service{
		classifier:       deps.Classifier,
		store:            deps.Store,
		limiter:          deps.Limiter,
		publisher:        deps.Publisher,
		evidence:         deps.Evidence,
		logger:           logger,
		tables:           tables,
		maxBatchSize:     maxBatch,
		maxContentLength: cfg.MaxContentLength,
		now:              time.Now,
		newID:            uuid.New,
	}, nil
}

// TablesFromConfig converts a raw content type to table mapping, as read
// from configuration, into the typed form NewService expects.
func TablesFromConfig(raw map[string]string) (map[enums.ContentType]string, error) {
	tables := make(map[enums.ContentType]string, len(raw))
	for key, table := range raw {
		contentType, ok := enums.ParseContentType(key)
		if !ok {
			return nil, fmt.Errorf("unknown content type %q in table mapping", key)
		}
		tables[contentType] = table
	}
	return tables, nil
}

// Moderate classifies the submitted content, decides severity and action,
// and records the decision. Only validation and rate limiting are reported
// as errors; storage, publish and archive failures are logged and swallowed.
func (s *Service) Moderate(ctx context.Context, req model.ModerationRequest) (model.ModerationOutcome, error) {
	req, err := s.Validate(req)
	if err != nil {
		return model.ModerationOutcome{}, err
	}

	if err := s.checkRate(ctx, req.UserID); err != nil {
		return model.ModerationOutcome{}, err
	}

	result := s.classifier.Classify(ctx, req.Content)
	severity, action := MapSeverity(result)
	metrics.ModerationDecisions.WithLabelValues(string(severity), string(action)).Inc()

	outcome := model.ModerationOutcome{
		Flagged:    result.Flagged,
		Severity:   severity,
		Categories: result.FlaggedCategories(),
		Action:     action,
	}

	if !result.Flagged {
		return outcome, nil
	}

	flag := model.ModerationFlag{
		ID:                s.newID(),
		ContentID:         req.ContentID,
		ContentType:       req.ContentType,
		FlaggedCategories: outcome.Categories,
		Scores:            result.CategoryScores,
		Severity:          severity,
		Action:            action,
		UserID:            req.UserID,
		CreatedAt:         s.now().UTC(),
	}

	logger := s.logger.With(
		zap.String("flag_id", flag.ID.String()),
		zap.String("content_type", string(flag.ContentType)),
		zap.String("content_id", flag.ContentID),
		zap.String("severity", string(severity)),
		zap.String("action", string(action)),
	)
	logger.Info("content flagged", zap.Strings("categories", flag.FlaggedCategories))

	s.persist(ctx, logger, flag)
	s.publish(ctx, logger, flag)
	s.archive(ctx, logger, flag, req.Content)

	return outcome, nil
}

// ClassifyBatch classifies texts without persisting anything. Results are
// returned in input order.
func (s *Service) ClassifyBatch(ctx context.Context, texts []string) ([]model.ModerationOutcome, error) {
	fields := make([]string, 0)
	switch {
	case len(texts) == 0:
		fields = append(fields, "texts")
	case len(texts) > s.maxBatchSize:
		fields = append(fields, fmt.Sprintf("texts (max %d)", s.maxBatchSize))
	default:
		for i, text := range texts {
			if strings.TrimSpace(text) == "" || s.tooLong(text) {
				fields = append(fields, fmt.Sprintf("texts[%d]", i))
			}
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	results := s.classifier.ClassifyBatch(ctx, texts)
	outcomes := make([]model.ModerationOutcome, len(texts))
	for i := range texts {
		result := model.FailSafeResult()
		if i < len(results) {
			result = results[i]
		}
		severity, action := MapSeverity(result)
		outcomes[i] = model.ModerationOutcome{
			Flagged:    result.Flagged,
			Severity:   severity,
			Categories: result.FlaggedCategories(),
			Action:     action,
		}
	}
	return outcomes, nil
}

// ListFlags returns the flag log of one content row, newest first.
func (s *Service) ListFlags(ctx context.Context, rawType, contentID string, limit int) ([]model.ModerationFlag, error) {
	fields := make([]string, 0, 2)
	contentType, ok := enums.ParseContentType(rawType)
	if !ok {
		fields = append(fields, "contentType")
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		fields = append(fields, "contentId")
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	if s.store == nil {
		return nil, fmt.Errorf("moderation store is not configured")
	}

	if limit <= 0 {
		limit = defaultFlagsLimit
	}
	if limit > maxFlagsLimit {
		limit = maxFlagsLimit
	}

	flags, err := s.store.ListFlags(ctx, contentType, contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list moderation flags: %w", err)
	}
	return flags, nil
}

// Table returns the table hidden on block for contentType.
func (s *Service) Table(contentType enums.ContentType) (string, bool) {
	table, ok := s.tables[contentType]
	return table, ok
}

// Validate checks and normalizes a request without side effects.
func (s *Service) Validate(req model.ModerationRequest) (model.ModerationRequest, error) {
	fields := make([]string, 0, 4)

	if strings.TrimSpace(req.Content) == "" {
		fields = append(fields, "content")
	} else if s.tooLong(req.Content) {
		fields = append(fields, fmt.Sprintf("content (max %d characters)", s.maxContentLength))
	}

	if strings.TrimSpace(string(req.ContentType)) == "" {
		fields = append(fields, "contentType")
	} else if contentType, ok := enums.ParseContentType(string(req.ContentType)); ok {
		req.ContentType = contentType
	} else {
		fields = append(fields, "contentType")
	}

	req.ContentID = strings.TrimSpace(req.ContentID)
	if !validContentID(req.ContentID) {
		fields = append(fields, "contentId")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		fields = append(fields, "userId")
	}

	if len(fields) > 0 {
		return req, &ValidationError{Fields: fields}
	}
	return req, nil
}

// validContentID accepts row keys (uuid, integer or slug). Ids carrying
// whitespace or NATS subject separators and wildcards are rejected because
// the async result is published on moderation.result.<contentId>.
func validContentID(id string) bool {
	if id == "" {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '*' || r == '>'
	}) < 0
}

func (s *Service) tooLong(text string) bool {
	return s.maxContentLength > 0 && len([]rune(text)) > s.maxContentLength
}

func (s *Service) checkRate(ctx context.Context, userID string) error {
	if s.limiter == nil {
		return nil
	}

	retryAfter, allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, allowing request", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !allowed {
		return &RateLimitError{RetryAfterSec: retryAfter}
	}
	return nil
}

func (s *Service) persist(ctx context.Context, logger *zap.Logger, flag model.ModerationFlag) {
	if s.store == nil {
		logger.Warn("moderation store is not configured, flag dropped")
		metrics.SideEffectFailures.WithLabelValues("flag").Inc()
		return
	}

	if flag.Action != enums.ActionBlock {
		s.insertFlag(ctx, logger, flag)
		return
	}

	table, ok := s.tables[flag.ContentType]
	if !ok {
		logger.Warn("no content table mapped, blocked content cannot be hidden")
		s.insertFlag(ctx, logger, flag)
		return
	}
	target := model.ContentTarget{Table: table, ContentID: flag.ContentID}

	err := s.store.RecordBlock(ctx, flag, target)
	if err == nil {
		return
	}

	// The transaction rolled back: hide first so blocked content is never
	// left visible, then keep the log entry.
	logger.Warn("block transaction failed, compensating", zap.Error(err))
	metrics.SideEffectFailures.WithLabelValues("block_tx").Inc()

	if _, hideErr := s.store.HideContent(ctx, target); hideErr != nil {
		logger.Warn("hide blocked content failed", zap.String("table", table), zap.Error(hideErr))
		metrics.SideEffectFailures.WithLabelValues("hide").Inc()
	}
	s.insertFlag(ctx, logger, flag)
}

func (s *Service) insertFlag(ctx context.Context, logger *zap.Logger, flag model.ModerationFlag) {
	if err := s.store.InsertFlag(ctx, flag); err != nil {
		logger.Warn("insert moderation flag failed", zap.Error(err))
		metrics.SideEffectFailures.WithLabelValues("flag").Inc()
	}
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, flag model.ModerationFlag) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishFlagged(ctx, flag); err != nil {
		logger.Warn("publish flagged event failed", zap.Error(err))
		metrics.SideEffectFailures.WithLabelValues("publish").Inc()
	}
}

func (s *Service) archive(ctx context.Context, logger *zap.Logger, flag model.ModerationFlag, content string) {
	if s.evidence == nil {
		return
	}
	if err := s.evidence.Archive(ctx, flag, content); err != nil {
		logger.Warn("archive moderation evidence failed", zap.Error(err))
		metrics.SideEffectFailures.WithLabelValues("evidence").Inc()
	}
}
