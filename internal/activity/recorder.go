// Package activity turns completed social actions into notifications.
package activity

import (
	"context"
	"errors"

	"github.com/aris-ansari/x-clone/internal/notifications"
	"go.uber.org/zap"
)

var errMissingNotifier = errors.New("activity: notifier is required")

// Notifier creates notifications for application events.
type Notifier interface {
	Notify(ctx context.Context, request notifications.NotifyRequest) (*notifications.Notification, error)
}

type RecorderConfig struct {
	Notifier Notifier
	Logger   *zap.Logger
}

// Recorder is called by the follow, like and comment handlers once their own write has
// committed. Notification failures never fail the action that caused them.
type Recorder struct {
	notifier Notifier
	logger   *zap.Logger
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Notifier == nil {
		return nil, errMissingNotifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{notifier: cfg.Notifier, logger: logger}, nil
}

// Followed records that followerID started following followedID.
func (r *Recorder) Followed(ctx context.Context, followerID, followedID string, meta notifications.Meta) *notifications.Notification {
	return r.Record(ctx, notifications.NotifyRequest{
		From: followerID,
		To:   followedID,
		Type: notifications.TypeFollow,
		Meta: meta,
	})
}

// Liked records that likerID liked postID owned by authorID.
func (r *Recorder) Liked(ctx context.Context, likerID, authorID, postID string, meta notifications.Meta) *notifications.Notification {
	return r.Record(ctx, notifications.NotifyRequest{
		From:   likerID,
		To:     authorID,
		Type:   notifications.TypeLike,
		PostID: postID,
		Meta:   meta,
	})
}

// Commented records that commenterID left commentID on postID owned by authorID.
func (r *Recorder) Commented(ctx context.Context, commenterID, authorID, postID, commentID string, meta notifications.Meta) *notifications.Notification {
	return r.Record(ctx, notifications.NotifyRequest{
		From:      commenterID,
		To:        authorID,
		Type:      notifications.TypeComment,
		PostID:    postID,
		CommentID: commentID,
		Meta:      meta,
	})
}

// Record forwards request to the notifier and returns the stored notification, or nil when
// the event was suppressed or could not be recorded.
func (r *Recorder) Record(ctx context.Context, request notifications.NotifyRequest) *notifications.Notification {
	record, err := r.notifier.Notify(ctx, request)
	if err != nil {
		r.logger.Warn("notification not recorded",
			zap.String("type", string(request.Type)),
			zap.String("from", request.From),
			zap.String("to", request.To),
			zap.Error(err))
		return nil
	}
	return record
}
