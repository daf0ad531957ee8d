package store

import (
	"context"

	"gorm.io/gorm/clause"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

// UpsertSubscription creates the subscription or rebinds an existing endpoint
// to new keys and connection.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"connection_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return apperr.Storage(err, "failed to save push subscription")
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, connectionID int64, endpoint string) error {
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND endpoint = ?", connectionID, endpoint).
		Delete(&model.PushSubscription{}).Error
	if err != nil {
		return apperr.Storage(err, "failed to delete push subscription")
	}
	return nil
}

// DeleteSubscriptionByEndpoint drops an endpoint the push service reported
// as gone.
func (s *gormStore) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return apperr.Storage(err, "failed to delete push subscription")
	}
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, connectionID int64, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND endpoint = ?", connectionID, endpoint).
		First(&sub).Error
	if err != nil {
		return nil, lookupErr(err, "subscription", endpoint)
	}
	return &sub, nil
}

func (s *gormStore) Subscriptions(ctx context.Context, connectionID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).Find(&subs).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list push subscriptions")
	}
	return subs, nil
}
