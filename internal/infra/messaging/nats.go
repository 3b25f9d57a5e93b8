// Package messaging wraps the NATS connection shared by the API and the
// moderation worker.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/domain/model"
)

const (
	SubjectModerationCheck   = "moderation.check"
	SubjectModerationResult  = "moderation.result" // + .<content_id>
	SubjectModerationFlagged = "moderation.flagged"

	// QueueModerators load-balances moderation.check across worker replicas.
	QueueModerators = "moderators"

	// drainTimeout bounds how long Close waits for in-flight handlers.
	drainTimeout = 40 * time.Second
)

var ErrInvalidSubjectToken = errors.New("invalid subject token")

type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
	closed chan struct{}
}

// FlaggedEvent is published for every persisted moderation flag.
type FlaggedEvent struct {
	FlagID      string   `json:"flag_id"`
	ContentID   string   `json:"content_id"`
	ContentType string   `json:"content_type"`
	UserID      string   `json:"user_id"`
	Severity    string   `json:"severity"`
	Action      string   `json:"action"`
	Categories  []string `json:"categories"`
	CreatedAt   int64    `json:"created_at"`
}

func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.DrainTimeout(drainTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
			close(closed)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return &Client{conn: nc, logger: logger, closed: closed}, nil
}

func (c *Client) PublishFlagged(_ context.Context, flag model.ModerationFlag) error {
	data, err := json.Marshal(FlaggedEvent{
		FlagID:      flag.ID.String(),
		ContentID:   flag.ContentID,
		ContentType: string(flag.ContentType),
		UserID:      flag.UserID,
		Severity:    string(flag.Severity),
		Action:      string(flag.Action),
		Categories:  flag.FlaggedCategories,
		CreatedAt:   flag.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode flagged event: %w", err)
	}
	if err := c.conn.Publish(SubjectModerationFlagged, data); err != nil {
		return fmt.Errorf("publish flagged event: %w", err)
	}
	return nil
}

func (c *Client) PublishCheck(req model.ModerationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode moderation request: %w", err)
	}
	return c.conn.Publish(SubjectModerationCheck, data)
}

func (c *Client) PublishResult(contentID string, outcome model.ModerationOutcome) error {
	subject, err := ResultSubject(contentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode moderation outcome: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// ResultSubject returns the subject a content id's outcome is published on.
// The id must be a single subject token.
func ResultSubject(contentID string) (string, error) {
	if contentID == "" || strings.IndexFunc(contentID, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '*' || r == '>'
	}) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectToken, contentID)
	}
	return SubjectModerationResult + "." + contentID, nil
}

// SubscribeChecks delivers each moderation.check request to handler. Replicas
// share the QueueModerators group so each request is handled once.
func (c *Client) SubscribeChecks(handler func(model.ModerationRequest)) error {
	_, err := c.conn.QueueSubscribe(SubjectModerationCheck, QueueModerators, func(msg *nats.Msg) {
		var req model.ModerationRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.logger.Warn("discard malformed moderation request", zap.Error(err))
			return
		}
		handler(req)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectModerationCheck, err)
	}
	return nil
}

// Ping reports whether the connection is currently established.
func (c *Client) Ping(_ context.Context) error {
	if c == nil || c.conn == nil || !c.conn.IsConnected() {
		return fmt.Errorf("nats is not connected")
	}
	return nil
}

// Close drains subscriptions and blocks until in-flight handlers have
// returned and the connection is closed, or the drain deadline passes.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", zap.Error(err))
		c.conn.Close()
		return
	}

	timer := time.NewTimer(drainTimeout + 5*time.Second)
	defer timer.Stop()

	select {
	case <-c.closed:
	case <-timer.C:
		c.logger.Warn("nats drain did not finish, closing connection")
		c.conn.Close()
	}
}
