package notifications

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"
)

// Store persists notification records. Every query except Create is scoped to a recipient.
type Store interface {
	Create(ctx context.Context, notification *Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	DeleteAll(ctx context.Context, recipientID string) (int64, error)
}

var errNilNotification = errors.New("notifications: notification required")

// GormStore keeps notifications in a relational database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle. The schema is managed by the database package.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, notification *Notification) error {
	if notification == nil {
		return errNilNotification
	}
	return s.db.WithContext(ctx).Create(notification).Error
}

func (s *GormStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	var records []Notification
	err := s.db.WithContext(ctx).
		Where("to_user_id = ?", recipientID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (s *GormStore) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("to_user_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

func (s *GormStore) MarkRead(ctx context.Context, recipientID, notificationID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND to_user_id = ? AND is_read = ?", notificationID, recipientID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (s *GormStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("to_user_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (s *GormStore) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("to_user_id = ?", recipientID).
		Delete(&Notification{})
	return result.RowsAffected, result.Error
}

// MongoCollection is the collection name used by MongoStore.
const MongoCollection = "notifications"

// MongoStore keeps notifications as documents, one per record.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore binds the notifications collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(MongoCollection)}
}

// EnsureIndexes creates the recipient/time index used by every query.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "to", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("idx_notifications_recipient_created"),
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, notification *Notification) error {
	if notification == nil {
		return errNilNotification
	}
	_, err := s.collection.InsertOne(ctx, notification)
	return err
}

func (s *MongoStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	cursor, err := s.collection.Find(ctx, recipientFilter(recipientID), listOptions(limit))
	if err != nil {
		return nil, err
	}
	var records []Notification
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	return s.collection.CountDocuments(ctx, unreadFilter(recipientID))
}

func (s *MongoStore) MarkRead(ctx context.Context, recipientID, notificationID string) (int64, error) {
	filter := unreadFilter(recipientID)
	filter = append(filter, bson.E{Key: "_id", Value: notificationID})
	result, err := s.collection.UpdateOne(ctx, filter, markReadUpdate())
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.collection.UpdateMany(ctx, unreadFilter(recipientID), markReadUpdate())
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (s *MongoStore) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, recipientFilter(recipientID))
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func recipientFilter(recipientID string) bson.D {
	return bson.D{{Key: "to", Value: recipientID}}
}

func unreadFilter(recipientID string) bson.D {
	return bson.D{{Key: "to", Value: recipientID}, {Key: "read", Value: false}}
}

func markReadUpdate() bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: "read", Value: true}}}}
}

func listOptions(limit int) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
}
