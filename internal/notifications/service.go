// Package notifications persists notification records and pushes them to online recipients.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aris-ansari/x-clone/internal/metrics"
	"github.com/aris-ansari/x-clone/internal/realtime"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
	tracerName       = "github.com/aris-ansari/x-clone/internal/notifications"

	// MongoDB keeps milliseconds; the pushed record must match what is read back.
	storedTimePrecision = time.Millisecond
)

var (
	errMissingStore     = errors.New("notification store is required")
	errMissingRecipient = errors.New("recipient identifier is required")
	noOpLogger          = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "notifications.service.new"
	opNotify      = "notifications.notify"
	opList        = "notifications.list"
	opUnreadCount = "notifications.unread_count"
	opMarkRead    = "notifications.mark_read"
	opClear       = "notifications.clear"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Publisher pushes an event to every live session of a user and reports how many accepted it.
type Publisher interface {
	Send(userID string, event realtime.Event) int
}

// IDProvider issues notification identifiers.
type IDProvider func() (string, error)

// UUIDv7 issues time-ordered UUID identifiers.
func UUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type ServiceConfig struct {
	Store      Store
	Publisher  Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Metrics    *metrics.Collectors
}

// Service is the single path from an application event to a durable record and a realtime push.
type Service struct {
	store     Store
	publisher Publisher
	clock     func() time.Time
	newID     IDProvider
	logger    *zap.Logger
	metrics   *metrics.Collectors
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDProvider
	if newID == nil {
		newID = UUIDv7
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	collectors := cfg.Metrics
	if collectors == nil {
		collectors = metrics.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		clock:     clock,
		newID:     newID,
		logger:    logger,
		metrics:   collectors,
	}, nil
}

// NotifyRequest describes one application event addressed to a recipient.
type NotifyRequest struct {
	From      string
	To        string
	Type      Type
	PostID    string
	CommentID string
	Meta      Meta
}

// Notify persists a notification and then pushes it to the recipient's live sessions.
// A sender notifying themselves yields (nil, nil). Persistence failures are returned and
// nothing is pushed; push problems are only logged.
func (s *Service) Notify(ctx context.Context, request NotifyRequest) (*Notification, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, opNotify, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	from, err := validateUserID("from", request.From)
	if err != nil {
		return nil, s.fail(span, opNotify, "invalid_sender", err)
	}
	to, err := validateUserID("to", request.To)
	if err != nil {
		return nil, s.fail(span, opNotify, "invalid_recipient", err)
	}
	span.SetAttributes(attribute.String("notification.to", to))
	if from == to {
		span.SetAttributes(attribute.Bool("notification.suppressed", true))
		return nil, nil
	}
	notificationType, err := ParseType(string(request.Type))
	if err != nil {
		return nil, s.fail(span, opNotify, "invalid_type", err)
	}
	span.SetAttributes(attribute.String("notification.type", string(notificationType)))

	id, err := s.newID()
	if err != nil {
		s.metrics.DispatchFailures.WithLabelValues("id_generation_failed").Inc()
		return nil, s.fail(span, opNotify, "id_generation_failed", err)
	}
	meta := request.Meta
	if meta == nil {
		meta = Meta{}
	}
	record := &Notification{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Type:       notificationType,
		PostID:     optionalReference(request.PostID),
		CommentID:  optionalReference(request.CommentID),
		Meta:       meta,
		CreatedAt:  s.clock().UTC().Truncate(storedTimePrecision),
	}

	if err := s.store.Create(ctx, record); err != nil {
		s.metrics.DispatchFailures.WithLabelValues("store_failed").Inc()
		s.logError(opNotify, "store_failed", err,
			zap.String("from", from),
			zap.String("to", to),
			zap.String("type", string(notificationType)))
		return nil, s.fail(span, opNotify, "store_failed", err)
	}
	s.metrics.NotificationsTotal.WithLabelValues(string(notificationType)).Inc()

	delivered := s.push(record)
	span.SetAttributes(attribute.Int("notification.delivered", delivered))
	return record, nil
}

// push never fails the caller: the record is already durable.
func (s *Service) push(record *Notification) (delivered int) {
	if s.publisher == nil {
		return 0
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			s.loggerOrDefault().Error("notification push failed",
				zap.String("notification_id", record.ID),
				zap.String("to", record.ToUserID),
				zap.Any("panic", recovered))
			delivered = 0
		}
	}()
	delivered = s.publisher.Send(record.ToUserID, realtime.Event{
		Name:    realtime.EventNotification,
		Payload: record.Payload(),
	})
	s.loggerOrDefault().Debug("notification pushed",
		zap.String("notification_id", record.ID),
		zap.String("to", record.ToUserID),
		zap.Int("sessions", delivered))
	return delivered
}

// List returns the recipient's newest notifications.
func (s *Service) List(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, newServiceError(opList, "missing_recipient", errMissingRecipient)
	}
	records, err := s.store.ListByRecipient(ctx, recipientID, clampLimit(limit))
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("to", recipientID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Inbox lists the recipient's notifications and then marks all of them read.
func (s *Service) Inbox(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	records, err := s.List(ctx, recipientID, limit)
	if err != nil {
		return nil, err
	}
	if _, err := s.MarkAllRead(ctx, recipientID); err != nil {
		return nil, err
	}
	return records, nil
}

// UnreadCount returns the number of unread notifications for the recipient.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, newServiceError(opUnreadCount, "missing_recipient", errMissingRecipient)
	}
	count, err := s.store.CountUnread(ctx, recipientID)
	if err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("to", recipientID))
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// MarkRead marks one of the recipient's notifications read, or all of them when
// notificationID is empty. Notifications addressed to other users are never touched.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, newServiceError(opMarkRead, "missing_recipient", errMissingRecipient)
	}
	notificationID = strings.TrimSpace(notificationID)

	var (
		updated int64
		err     error
	)
	if notificationID == "" {
		updated, err = s.store.MarkAllRead(ctx, recipientID)
	} else {
		updated, err = s.store.MarkRead(ctx, recipientID, notificationID)
	}
	if err != nil {
		s.logError(opMarkRead, "update_failed", err,
			zap.String("to", recipientID),
			zap.String("notification_id", notificationID))
		return 0, newServiceError(opMarkRead, "update_failed", err)
	}
	return updated, nil
}

// MarkAllRead marks every unread notification of the recipient read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.MarkRead(ctx, recipientID, "")
}

// Clear deletes every notification addressed to the recipient.
func (s *Service) Clear(ctx context.Context, recipientID string) (int64, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, newServiceError(opClear, "missing_recipient", errMissingRecipient)
	}
	deleted, err := s.store.DeleteAll(ctx, recipientID)
	if err != nil {
		s.logError(opClear, "delete_failed", err, zap.String("to", recipientID))
		return 0, newServiceError(opClear, "delete_failed", err)
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func (s *Service) fail(span trace.Span, operation, reason string, cause error) error {
	err := newServiceError(operation, reason, cause)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notifications service error", attrs...)
}
