package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
)

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	result model.ClassificationResult
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) model.ClassificationResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, texts []string) []model.ClassificationResult {
	out := make([]model.ClassificationResult, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "fail") {
			out[i] = model.FailSafeResult()
			continue
		}
		out[i] = f.Classify(ctx, text)
	}
	return out
}

// fakeStore mirrors the content tables in memory: hidden[table/id].
type fakeStore struct {
	mu        sync.Mutex
	flags     []model.ModerationFlag
	hidden    map[string]bool
	hideCalls int

	recordBlockErr error
	insertErr      error
	hideErr        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{hidden: make(map[string]bool)}
}

func (f *fakeStore) InsertFlag(_ context.Context, flag model.ModerationFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.flags = append(f.flags, flag)
	return nil
}

func (f *fakeStore) HideContent(_ context.Context, target model.ContentTarget) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hideCalls++
	if f.hideErr != nil {
		return false, f.hideErr
	}
	key := target.Table + "/" + target.ContentID
	changed := !f.hidden[key]
	f.hidden[key] = true
	return changed, nil
}

func (f *fakeStore) RecordBlock(ctx context.Context, flag model.ModerationFlag, target model.ContentTarget) error {
	if f.recordBlockErr != nil {
		return f.recordBlockErr
	}
	if err := f.InsertFlag(ctx, flag); err != nil {
		return err
	}
	_, err := f.HideContent(ctx, target)
	return err
}

func (f *fakeStore) ListFlags(_ context.Context, contentType enums.ContentType, contentID string, limit int) ([]model.ModerationFlag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ModerationFlag, 0)
	for i := len(f.flags) - 1; i >= 0 && len(out) < limit; i-- {
		if f.flags[i].ContentType == contentType && f.flags[i].ContentID == contentID {
			out = append(out, f.flags[i])
		}
	}
	return out, nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flags) + f.hideCalls
}

type fakeLimiter struct {
	allowed    bool
	retryAfter int64
	err        error
}

func (f fakeLimiter) Allow(context.Context, string) (int64, bool, error) {
	return f.retryAfter, f.allowed, f.err
}

type fakePublisher struct {
	published []model.ModerationFlag
	err       error
}

func (f *fakePublisher) PublishFlagged(_ context.Context, flag model.ModerationFlag) error {
	f.published = append(f.published, flag)
	return f.err
}

type fakeEvidence struct {
	archived map[uuid.UUID]string
	err      error
}

func (f *fakeEvidence) Archive(_ context.Context, flag model.ModerationFlag, content string) error {
	if f.archived == nil {
		f.archived = make(map[uuid.UUID]string)
	}
	f.archived[flag.ID] = content
	return f.err
}

var defaultTables = map[enums.ContentType]string{
	enums.ContentTypeMythology: "mythologies",
	enums.ContentTypeCharacter: "characters",
	enums.ContentTypeCreature:  "creatures",
	enums.ContentTypeStory:     "stories",
}

func newTestService(t *testing.T, deps Dependencies) *Service {
	t.Helper()
	svc, err := NewService(deps, Config{Tables: defaultTables, MaxBatchSize: 5, MaxContentLength: 100})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validRequest() model.ModerationRequest {
	return model.ModerationRequest{
		Content:     "Zeus throws a lightning bolt at the titans.",
		ContentType: enums.ContentTypeMythology,
		ContentID:   "c0a8012e-0000-4000-8000-000000000001",
		UserID:      "student-42",
	}
}

func TestModerateUnflaggedAllows(t *testing.T) {
	classifier := &fakeClassifier{result: model.ClassificationResult{
		Flagged:        false,
		Categories:     map[string]bool{enums.CategoryViolence: false},
		CategoryScores: map[string]float64{enums.CategoryViolence: 0.4},
	}}
	store := newFakeStore()
	publisher := &fakePublisher{}
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store, Publisher: publisher})

	got, err := svc.Moderate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if got.Flagged || got.Severity != enums.SeverityLow || got.Action != enums.ActionAllow || len(got.Categories) != 0 {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if store.writes() != 0 || len(publisher.published) != 0 {
		t.Fatalf("unflagged content must not be persisted: writes=%d published=%d", store.writes(), len(publisher.published))
	}
}

func TestModerateZeroToleranceBlocksAndHides(t *testing.T) {
	classifier := &fakeClassifier{result: flaggedWith(enums.CategorySexualMinors, 0.1)}
	store := newFakeStore()
	publisher := &fakePublisher{}
	evidence := &fakeEvidence{}
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store, Publisher: publisher, Evidence: evidence})

	req := validRequest()
	req.ContentType = enums.ContentTypeCharacter
	got, err := svc.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if got.Severity != enums.SeverityCritical || got.Action != enums.ActionBlock {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if len(store.flags) != 1 {
		t.Fatalf("unexpected flag count: got %d want 1", len(store.flags))
	}
	flag := store.flags[0]
	if flag.Action != enums.ActionBlock || flag.ContentType != enums.ContentTypeCharacter || flag.UserID != "student-42" {
		t.Fatalf("unexpected flag: %+v", flag)
	}
	if !flag.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_at: %v", flag.CreatedAt)
	}
	if !store.hidden["characters/"+req.ContentID] {
		t.Fatalf("blocked character must be hidden")
	}
	if len(publisher.published) != 1 || publisher.published[0].ID != flag.ID {
		t.Fatalf("unexpected published events: %+v", publisher.published)
	}
	if evidence.archived[flag.ID] != req.Content {
		t.Fatalf("evidence not archived for flag %s", flag.ID)
	}
}

func TestModerateReviewPersistsFlagWithoutHiding(t *testing.T) {
	classifier := &fakeClassifier{result: flaggedWith(enums.CategorySelfHarmIntent, 0.8)}
	store := newFakeStore()
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store})

	req := validRequest()
	req.ContentType = enums.ContentTypeStory
	got, err := svc.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if got.Severity != enums.SeverityMedium || got.Action != enums.ActionReview || !got.Flagged {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if len(got.Categories) != 1 || got.Categories[0] != enums.CategorySelfHarmIntent {
		t.Fatalf("unexpected categories: %v", got.Categories)
	}
	if len(store.flags) != 1 || store.flags[0].Severity != enums.SeverityMedium {
		t.Fatalf("unexpected flags: %+v", store.flags)
	}
	if store.hideCalls != 0 {
		t.Fatalf("review action must not hide content, got %d hide calls", store.hideCalls)
	}
}

func TestModerateTwiceIsIdempotentForVisibility(t *testing.T) {
	classifier := &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.97)}
	store := newFakeStore()
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store})

	req := validRequest()
	for i := 0; i < 2; i++ {
		got, err := svc.Moderate(context.Background(), req)
		if err != nil {
			t.Fatalf("moderate #%d: %v", i+1, err)
		}
		if got.Action != enums.ActionBlock {
			t.Fatalf("unexpected action on #%d: %s", i+1, got.Action)
		}
	}

	if len(store.flags) != 2 {
		t.Fatalf("each decision appends a flag: got %d want 2", len(store.flags))
	}
	if store.flags[0].ID == store.flags[1].ID {
		t.Fatalf("flags must have distinct ids")
	}
	if !store.hidden["mythologies/"+req.ContentID] {
		t.Fatalf("content must stay hidden")
	}
}

func TestModerateClassifierFailureBlocks(t *testing.T) {
	classifier := &fakeClassifier{result: model.FailSafeResult()}
	store := newFakeStore()
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store})

	got, err := svc.Moderate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("classifier failure must not surface: %v", err)
	}
	if !got.Flagged || got.Action != enums.ActionBlock || got.Severity != enums.SeverityCritical {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if len(got.Categories) != 1 || got.Categories[0] != enums.CategoryError {
		t.Fatalf("unexpected categories: %v", got.Categories)
	}
}

func TestModerateValidation(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*model.ModerationRequest)
		wantFields []string
	}{
		{
			name: "missing id and user",
			mutate: func(r *model.ModerationRequest) {
				r.Content = "x"
				r.ContentID = ""
				r.UserID = ""
			},
			wantFields: []string{"contentId", "userId"},
		},
		{
			name:       "whitespace content",
			mutate:     func(r *model.ModerationRequest) { r.Content = " \n\t " },
			wantFields: []string{"content"},
		},
		{
			name:       "unknown content type",
			mutate:     func(r *model.ModerationRequest) { r.ContentType = "poem" },
			wantFields: []string{"contentType"},
		},
		{
			name:       "content too long",
			mutate:     func(r *model.ModerationRequest) { r.Content = strings.Repeat("a", 101) },
			wantFields: []string{"content (max 100 characters)"},
		},
		{
			name:       "content id with subject separator",
			mutate:     func(r *model.ModerationRequest) { r.ContentID = "story.42" },
			wantFields: []string{"contentId"},
		},
		{
			name:       "content id with inner whitespace",
			mutate:     func(r *model.ModerationRequest) { r.ContentID = "story 42" },
			wantFields: []string{"contentId"},
		},
		{
			name:       "content id with wildcard",
			mutate:     func(r *model.ModerationRequest) { r.ContentID = "story-*" },
			wantFields: []string{"contentId"},
		},
		{
			name:       "everything missing",
			mutate:     func(r *model.ModerationRequest) { *r = model.ModerationRequest{} },
			wantFields: []string{"content", "contentType", "contentId", "userId"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)}
			store := newFakeStore()
			svc := newTestService(t, Dependencies{Classifier: classifier, Store: store})

			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Moderate(context.Background(), req)

			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if strings.Join(verr.Fields, ",") != strings.Join(tt.wantFields, ",") {
				t.Fatalf("unexpected fields: got %v want %v", verr.Fields, tt.wantFields)
			}
			if classifier.calls != 0 {
				t.Fatalf("classifier must not be called on invalid input")
			}
			if store.writes() != 0 {
				t.Fatalf("store must not be written on invalid input")
			}
		})
	}
}

func TestModerateNormalizesContentType(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, Dependencies{
		Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)},
		Store:      store,
	})

	req := validRequest()
	req.ContentType = " Creature "
	if _, err := svc.Moderate(context.Background(), req); err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if store.flags[0].ContentType != enums.ContentTypeCreature {
		t.Fatalf("unexpected stored content type: %q", store.flags[0].ContentType)
	}
	if !store.hidden["creatures/"+req.ContentID] {
		t.Fatalf("blocked creature must be hidden")
	}
}

func TestModerateRateLimited(t *testing.T) {
	classifier := &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)}
	svc := newTestService(t, Dependencies{
		Classifier: classifier,
		Store:      newFakeStore(),
		Limiter:    fakeLimiter{allowed: false, retryAfter: 17},
	})

	_, err := svc.Moderate(context.Background(), validRequest())
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rlErr.RetryAfterSec != 17 {
		t.Fatalf("unexpected retry_after: %d", rlErr.RetryAfterSec)
	}
	if classifier.calls != 0 {
		t.Fatalf("classifier must not be called when rate limited")
	}
}

func TestModerateLimiterErrorFailsOpen(t *testing.T) {
	classifier := &fakeClassifier{result: model.ClassificationResult{}}
	svc := newTestService(t, Dependencies{
		Classifier: classifier,
		Limiter:    fakeLimiter{err: errors.New("redis down")},
	})

	got, err := svc.Moderate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("limiter error must not fail the request: %v", err)
	}
	if got.Action != enums.ActionAllow || classifier.calls != 1 {
		t.Fatalf("unexpected outcome: %+v calls=%d", got, classifier.calls)
	}
}

func TestModerateCompensatesFailedBlockTransaction(t *testing.T) {
	store := newFakeStore()
	store.recordBlockErr = errors.New("tx aborted")
	svc := newTestService(t, Dependencies{
		Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryHateThreatening, 0.5)},
		Store:      store,
	})

	req := validRequest()
	got, err := svc.Moderate(context.Background(), req)
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if got.Action != enums.ActionBlock {
		t.Fatalf("unexpected action: %s", got.Action)
	}
	if !store.hidden["mythologies/"+req.ContentID] {
		t.Fatalf("compensation must hide the content")
	}
	if len(store.flags) != 1 {
		t.Fatalf("compensation must insert the flag, got %d", len(store.flags))
	}
}

func TestModerateSwallowsSideEffectFailures(t *testing.T) {
	store := newFakeStore()
	store.recordBlockErr = errors.New("tx aborted")
	store.hideErr = errors.New("table locked")
	store.insertErr = errors.New("disk full")
	svc := newTestService(t, Dependencies{
		Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)},
		Store:      store,
		Publisher:  &fakePublisher{err: errors.New("nats down")},
		Evidence:   &fakeEvidence{err: errors.New("bucket missing")},
	})

	got, err := svc.Moderate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("side-effect failures must not surface: %v", err)
	}
	if !got.Flagged || got.Action != enums.ActionBlock {
		t.Fatalf("unexpected outcome: %+v", got)
	}
}

func TestModerateWithoutStoreStillDecides(t *testing.T) {
	svc := newTestService(t, Dependencies{Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)}})

	got, err := svc.Moderate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if got.Action != enums.ActionBlock {
		t.Fatalf("unexpected action: %s", got.Action)
	}
}

func TestModerateBlockWithoutTableInsertsFlag(t *testing.T) {
	store := newFakeStore()
	svc, err := NewService(Dependencies{
		Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.99)},
		Store:      store,
	}, Config{Tables: map[enums.ContentType]string{enums.ContentTypeMythology: "mythologies"}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	req := validRequest()
	req.ContentType = enums.ContentTypeStory
	if _, err := svc.Moderate(context.Background(), req); err != nil {
		t.Fatalf("moderate: %v", err)
	}
	if len(store.flags) != 1 || store.hideCalls != 0 {
		t.Fatalf("unexpected store state: flags=%d hides=%d", len(store.flags), store.hideCalls)
	}
}

func TestNewServiceRejectsBadTables(t *testing.T) {
	tests := []struct {
		name   string
		tables map[enums.ContentType]string
	}{
		{name: "injection", tables: map[enums.ContentType]string{enums.ContentTypeStory: "stories; DROP TABLE users"}},
		{name: "empty", tables: map[enums.ContentType]string{enums.ContentTypeStory: ""}},
		{name: "unknown type", tables: map[enums.ContentType]string{"poem": "poems"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(Dependencies{Classifier: &fakeClassifier{}}, Config{Tables: tt.tables})
			if err == nil {
				t.Fatalf("expected construction error")
			}
		})
	}

	if _, err := NewService(Dependencies{}, Config{}); err == nil {
		t.Fatalf("expected error without classifier")
	}
}

func TestTablesFromConfig(t *testing.T) {
	tables, err := TablesFromConfig(map[string]string{"Story": "stories", "creature": "creatures"})
	if err != nil {
		t.Fatalf("tables from config: %v", err)
	}
	if tables[enums.ContentTypeStory] != "stories" || tables[enums.ContentTypeCreature] != "creatures" {
		t.Fatalf("unexpected tables: %v", tables)
	}

	if _, err := TablesFromConfig(map[string]string{"poem": "poems"}); err == nil {
		t.Fatalf("expected error for unknown content type")
	}
}

func TestClassifyBatch(t *testing.T) {
	classifier := &fakeClassifier{result: flaggedWith(enums.CategoryHarassment, 0.75)}
	store := newFakeStore()
	svc := newTestService(t, Dependencies{Classifier: classifier, Store: store})

	got, err := svc.ClassifyBatch(context.Background(), []string{"first", "please fail", "third"})
	if err != nil {
		t.Fatalf("classify batch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("unexpected result count: %d", len(got))
	}
	if got[0].Severity != enums.SeverityMedium || got[0].Action != enums.ActionReview {
		t.Fatalf("unexpected first outcome: %+v", got[0])
	}
	if got[1].Action != enums.ActionBlock || got[1].Categories[0] != enums.CategoryError {
		t.Fatalf("unexpected second outcome: %+v", got[1])
	}
	if store.writes() != 0 {
		t.Fatalf("batch classification must not persist")
	}
}

func TestClassifyBatchValidation(t *testing.T) {
	svc := newTestService(t, Dependencies{Classifier: &fakeClassifier{}})

	cases := [][]string{
		nil,
		{"a", "b", "c", "d", "e", "f"},
		{"ok", "  "},
	}
	for _, texts := range cases {
		if _, err := svc.ClassifyBatch(context.Background(), texts); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", texts, err)
		}
	}
}

func TestListFlags(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, Dependencies{
		Classifier: &fakeClassifier{result: flaggedWith(enums.CategoryViolence, 0.75)},
		Store:      store,
	})

	req := validRequest()
	for i := 0; i < 3; i++ {
		if _, err := svc.Moderate(context.Background(), req); err != nil {
			t.Fatalf("moderate: %v", err)
		}
	}

	flags, err := svc.ListFlags(context.Background(), "mythology", req.ContentID, 2)
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	if len(flags) != 2 {
		t.Fatalf("unexpected flag count: got %d want 2", len(flags))
	}

	if _, err := svc.ListFlags(context.Background(), "poem", "", 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
