package notifications

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type enumerates the events that produce notifications.
type Type string

const (
	TypeFollow  Type = "follow"
	TypeLike    Type = "like"
	TypeComment Type = "comment"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidType indicates a notification type outside the supported set.
	ErrInvalidType = errors.New("notifications: invalid type")
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("notifications: invalid user id")
)

// ParseType validates raw input against the supported notification types.
func ParseType(raw string) (Type, error) {
	switch candidate := Type(strings.ToLower(strings.TrimSpace(raw))); candidate {
	case TypeFollow, TypeLike, TypeComment:
		return candidate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
}

func validateUserID(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s empty", ErrInvalidUserID, field)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidUserID, field, maxIdentifierLength)
	}
	return trimmed, nil
}

// Meta carries free-form rendering hints such as the sender's display name.
type Meta map[string]any

// Notification is the durable record of one event addressed to a recipient.
type Notification struct {
	ID         string    `gorm:"column:id;primaryKey;size:64;not null" bson:"_id" json:"id"`
	FromUserID string    `gorm:"column:from_user_id;size:190;not null" bson:"from" json:"from"`
	ToUserID   string    `gorm:"column:to_user_id;size:190;not null;index:idx_notifications_recipient_created,priority:1" bson:"to" json:"to"`
	Type       Type      `gorm:"column:type;size:16;not null" bson:"type" json:"type"`
	PostID     *string   `gorm:"column:post_id;size:190" bson:"post,omitempty" json:"post"`
	CommentID  *string   `gorm:"column:comment_id;size:190" bson:"comment,omitempty" json:"comment"`
	Read       bool      `gorm:"column:is_read;not null;default:false;index" bson:"read" json:"read"`
	Meta       Meta      `gorm:"column:meta;type:text;serializer:json" bson:"meta" json:"meta"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_notifications_recipient_created,priority:2" bson:"createdAt" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Payload is the realtime rendering of a notification.
type Payload struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	From      string    `json:"from"`
	Post      *string   `json:"post"`
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
	Meta      Meta      `json:"meta"`
}

// Payload returns the fields a client needs to render n without another fetch.
func (n Notification) Payload() Payload {
	meta := n.Meta
	if meta == nil {
		meta = Meta{}
	}
	return Payload{
		ID:        n.ID,
		Type:      n.Type,
		From:      n.FromUserID,
		Post:      n.PostID,
		Comment:   n.CommentID,
		CreatedAt: n.CreatedAt,
		Meta:      meta,
	}
}

func optionalReference(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
