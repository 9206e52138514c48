package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aris-ansari/x-clone/internal/metrics"
	"github.com/aris-ansari/x-clone/internal/realtime"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	mu        sync.Mutex
	records   []Notification
	createErr error
	updateErr error
}

func (s *memoryStore) Create(_ context.Context, notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.records = append(s.records, *notification)
	return nil
}

func (s *memoryStore) ListByRecipient(_ context.Context, recipientID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Notification
	for index := len(s.records) - 1; index >= 0 && len(result) < limit; index-- {
		if s.records[index].ToUserID == recipientID {
			result = append(result, s.records[index])
		}
	}
	return result, nil
}

func (s *memoryStore) CountUnread(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, record := range s.records {
		if record.ToUserID == recipientID && !record.Read {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) MarkRead(_ context.Context, recipientID, notificationID string) (int64, error) {
	return s.mark(recipientID, notificationID)
}

func (s *memoryStore) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	return s.mark(recipientID, "")
}

func (s *memoryStore) mark(recipientID, notificationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	var updated int64
	for index := range s.records {
		record := &s.records[index]
		if record.ToUserID != recipientID || record.Read {
			continue
		}
		if notificationID != "" && record.ID != notificationID {
			continue
		}
		record.Read = true
		updated++
	}
	return updated, nil
}

func (s *memoryStore) DeleteAll(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var deleted int64
	for _, record := range s.records {
		if record.ToUserID == recipientID {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return deleted, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	sessions map[string]int
	sent     []publishedEvent
	panics   bool
}

type publishedEvent struct {
	userID string
	event  realtime.Event
}

func (p *recordingPublisher) Send(userID string, event realtime.Event) int {
	if p.panics {
		panic("socket exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sessions := p.sessions[userID]
	for index := 0; index < sessions; index++ {
		p.sent = append(p.sent, publishedEvent{userID: userID, event: event})
	}
	return sessions
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

var fixedTime = time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store Store, publisher Publisher, logger *zap.Logger) (*Service, *metrics.Collectors) {
	t.Helper()
	collectors := metrics.NewNop()
	sequence := 0
	nextID := func() (string, error) {
		sequence++
		return fmt.Sprintf("n-%d", sequence), nil
	}
	service, err := NewService(ServiceConfig{
		Store:      store,
		Publisher:  publisher,
		Clock:      func() time.Time { return fixedTime },
		IDProvider: nextID,
		Logger:     logger,
		Metrics:    collectors,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, collectors
}

func TestNotifyFollowPersistsAndPushesToOnlineRecipient(t *testing.T) {
	store := &memoryStore{}
	publisher := &recordingPublisher{sessions: map[string]int{"user-y": 1}}
	service, collectors := newTestService(t, store, publisher, zap.NewNop())

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeFollow})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if record == nil || record.ID != "n-1" || record.Read || !record.CreatedAt.Equal(fixedTime) {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.PostID != nil || record.CommentID != nil {
		t.Fatalf("expected follow notification without post or comment references")
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one stored record, got %d", len(store.records))
	}
	if publisher.count() != 1 {
		t.Fatalf("expected one push, got %d", publisher.count())
	}

	pushed := publisher.sent[0]
	if pushed.userID != "user-y" || pushed.event.Name != realtime.EventNotification {
		t.Fatalf("unexpected push %+v", pushed)
	}
	encoded, err := json.Marshal(pushed.event.Payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["id"] != "n-1" || payload["type"] != "follow" || payload["from"] != "user-x" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["post"] != nil || payload["comment"] != nil {
		t.Fatalf("expected null post and comment, got %v", payload)
	}
	if meta, ok := payload["meta"].(map[string]any); !ok || len(meta) != 0 {
		t.Fatalf("expected empty meta object, got %v", payload["meta"])
	}
	if got := testutil.ToFloat64(collectors.NotificationsTotal.WithLabelValues("follow")); got != 1 {
		t.Fatalf("expected notifications counter 1, got %v", got)
	}
}

func TestNotifySelfActionIsSuppressed(t *testing.T) {
	store := &memoryStore{}
	publisher := &recordingPublisher{sessions: map[string]int{"user-x": 1}}
	service, _ := newTestService(t, store, publisher, zap.NewNop())

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: " user-x ", Type: TypeLike, PostID: "post-9"})
	if err != nil {
		t.Fatalf("expected no error for self action, got %v", err)
	}
	if record != nil {
		t.Fatalf("expected no record for self action, got %+v", record)
	}
	if len(store.records) != 0 || publisher.count() != 0 {
		t.Fatalf("expected no store write and no push")
	}
}

func TestNotifySelfActionIsSuppressedBeforeTypeValidation(t *testing.T) {
	store := &memoryStore{}
	service, _ := newTestService(t, store, nil, zap.NewNop())

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-x", Type: "bogus"})
	if err != nil || record != nil {
		t.Fatalf("expected silent no-op for self action, got record=%+v err=%v", record, err)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no store write, got %d", len(store.records))
	}
}

func TestNotifyCreatedAtMatchesStoredPrecision(t *testing.T) {
	store := &memoryStore{}
	publisher := &recordingPublisher{sessions: map[string]int{"user-y": 1}}
	instant := time.Date(2024, time.March, 3, 10, 0, 5, 123456789, time.FixedZone("CET", 3600))
	service, err := NewService(ServiceConfig{
		Store:     store,
		Publisher: publisher,
		Clock:     func() time.Time { return instant },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeFollow})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	want := time.Date(2024, time.March, 3, 9, 0, 5, 123000000, time.UTC)
	if !record.CreatedAt.Equal(want) || record.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected createdAt %s, got %s", want, record.CreatedAt)
	}
	pushed, ok := publisher.sent[0].event.Payload.(Payload)
	if !ok {
		t.Fatalf("unexpected payload type %T", publisher.sent[0].event.Payload)
	}
	if !pushed.CreatedAt.Equal(store.records[0].CreatedAt) {
		t.Fatalf("expected pushed createdAt %s to equal stored %s", pushed.CreatedAt, store.records[0].CreatedAt)
	}
}

func TestNotifyOfflineRecipientStoresWithoutPush(t *testing.T) {
	store := &memoryStore{}
	publisher := &recordingPublisher{sessions: map[string]int{}}
	service, _ := newTestService(t, store, publisher, zap.NewNop())

	record, err := service.Notify(context.Background(), NotifyRequest{
		From:      "user-x",
		To:        "user-z",
		Type:      TypeComment,
		PostID:    "post-1",
		CommentID: "comment-1",
		Meta:      Meta{"senderName": "X"},
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if record.PostID == nil || *record.PostID != "post-1" || record.CommentID == nil || *record.CommentID != "comment-1" {
		t.Fatalf("expected references to be stored, got %+v", record)
	}
	unread, err := service.UnreadCount(context.Background(), "user-z")
	if err != nil {
		t.Fatalf("unread count failed: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected one unread notification, got %d", unread)
	}
	if publisher.count() != 0 {
		t.Fatalf("expected no push for offline recipient")
	}
}

func TestNotifyStoreFailureSkipsPush(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memoryStore{createErr: errors.New("disk full")}
	publisher := &recordingPublisher{sessions: map[string]int{"user-y": 2}}
	service, collectors := newTestService(t, store, publisher, zap.New(core))

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeFollow})
	if err == nil {
		t.Fatalf("expected store failure to be reported")
	}
	if record != nil {
		t.Fatalf("expected no record on failure")
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "notifications.notify.store_failed" {
		t.Fatalf("expected store_failed service error, got %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("expected no push when persistence fails")
	}
	if logs.FilterMessage("notifications service error").Len() != 1 {
		t.Fatalf("expected store failure to be logged")
	}
	if got := testutil.ToFloat64(collectors.DispatchFailures.WithLabelValues("store_failed")); got != 1 {
		t.Fatalf("expected dispatch failure counter 1, got %v", got)
	}
}

func TestNotifyPushesOnceToEverySession(t *testing.T) {
	store := &memoryStore{}
	publisher := &recordingPublisher{sessions: map[string]int{"user-y": 3}}
	service, _ := newTestService(t, store, publisher, zap.NewNop())

	if _, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeLike, PostID: "post-1"}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if publisher.count() != 3 {
		t.Fatalf("expected three pushes, got %d", publisher.count())
	}
	if len(store.records) != 1 {
		t.Fatalf("expected a single record for all sessions, got %d", len(store.records))
	}
}

func TestNotifyPublisherPanicDoesNotFailCaller(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &memoryStore{}
	publisher := &recordingPublisher{panics: true}
	service, _ := newTestService(t, store, publisher, zap.New(core))

	record, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeFollow})
	if err != nil || record == nil {
		t.Fatalf("expected notify to succeed despite push failure, got %v", err)
	}
	if logs.FilterMessage("notification push failed").Len() != 1 {
		t.Fatalf("expected push failure to be logged")
	}
}

func TestNotifyRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t, &memoryStore{}, nil, zap.NewNop())

	testCases := []struct {
		name     string
		request  NotifyRequest
		sentinel error
	}{
		{name: "missing sender", request: NotifyRequest{To: "user-y", Type: TypeFollow}, sentinel: ErrInvalidUserID},
		{name: "missing recipient", request: NotifyRequest{From: "user-x", Type: TypeFollow}, sentinel: ErrInvalidUserID},
		{name: "unknown type", request: NotifyRequest{From: "user-x", To: "user-y", Type: "retweet"}, sentinel: ErrInvalidType},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := service.Notify(context.Background(), testCase.request); !errors.Is(err, testCase.sentinel) {
				t.Fatalf("expected %v, got %v", testCase.sentinel, err)
			}
		})
	}
}

func TestInboxListsNewestFirstThenMarksRead(t *testing.T) {
	store := &memoryStore{}
	service, _ := newTestService(t, store, nil, zap.NewNop())
	for _, notificationType := range []Type{TypeFollow, TypeLike} {
		if _, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: notificationType}); err != nil {
			t.Fatalf("notify failed: %v", err)
		}
	}

	records, err := service.Inbox(context.Background(), "user-y", 0)
	if err != nil {
		t.Fatalf("inbox failed: %v", err)
	}
	if len(records) != 2 || records[0].Type != TypeLike || records[1].Type != TypeFollow {
		t.Fatalf("expected newest first, got %+v", records)
	}
	if records[0].Read {
		t.Fatalf("expected listed records to reflect their state before marking")
	}
	unread, err := service.UnreadCount(context.Background(), "user-y")
	if err != nil || unread != 0 {
		t.Fatalf("expected inbox to mark everything read, got %d (%v)", unread, err)
	}
}

func TestMarkReadIsScopedToRecipient(t *testing.T) {
	store := &memoryStore{}
	service, _ := newTestService(t, store, nil, zap.NewNop())
	mine, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: "user-y", Type: TypeFollow})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	updated, err := service.MarkRead(context.Background(), "user-z", mine.ID)
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected another user's mark read to update nothing, got %d", updated)
	}

	updated, err = service.MarkRead(context.Background(), "user-y", mine.ID)
	if err != nil || updated != 1 {
		t.Fatalf("expected recipient mark read to update one record, got %d (%v)", updated, err)
	}
}

func TestMarkReadReportsStoreFailure(t *testing.T) {
	service, _ := newTestService(t, &memoryStore{updateErr: errors.New("locked")}, nil, zap.NewNop())

	_, err := service.MarkRead(context.Background(), "user-y", "")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "notifications.mark_read.update_failed" {
		t.Fatalf("expected update_failed service error, got %v", err)
	}
}

func TestClearRemovesOnlyRecipientNotifications(t *testing.T) {
	store := &memoryStore{}
	service, _ := newTestService(t, store, nil, zap.NewNop())
	for _, recipient := range []string{"user-y", "user-y", "user-z"} {
		if _, err := service.Notify(context.Background(), NotifyRequest{From: "user-x", To: recipient, Type: TypeFollow}); err != nil {
			t.Fatalf("notify failed: %v", err)
		}
	}

	deleted, err := service.Clear(context.Background(), "user-y")
	if err != nil || deleted != 2 {
		t.Fatalf("expected two deletions, got %d (%v)", deleted, err)
	}
	if len(store.records) != 1 || store.records[0].ToUserID != "user-z" {
		t.Fatalf("expected other recipient's notification to remain, got %+v", store.records)
	}
}

func TestClampLimit(t *testing.T) {
	testCases := map[int]int{0: DefaultListLimit, -5: DefaultListLimit, 10: 10, 500: MaxListLimit}
	for input, expected := range testCases {
		if got := clampLimit(input); got != expected {
			t.Fatalf("clampLimit(%d) = %d, want %d", input, got, expected)
		}
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
}
