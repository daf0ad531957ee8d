// Package pairing binds a user to a registered dispenser.
package pairing

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/auth"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

// TokenIssuer renews the caller's tokens once the connection exists.
type TokenIssuer interface {
	Issue(userID, connectionID int64) (auth.TokenPair, error)
}

// Result is returned to the app after a successful pairing.
type Result struct {
	ConnectionID int64          `json:"connection_id"`
	DeviceSerial string         `json:"machine_SN"`
	SlotCount    int            `json:"total_slots"`
	Tokens       auth.TokenPair `json:"tokens"`
}

type Service struct {
	store    store.Store
	defaults schedule.Defaults
	issuer   TokenIssuer
	log      *zap.Logger
}

func NewService(s store.Store, defaults schedule.Defaults, issuer TokenIssuer, log *zap.Logger) *Service {
	return &Service{store: s, defaults: defaults, issuer: issuer, log: log}
}

// Pair creates the connection between userID and the device, seeding its
// volume settings and N inactive slots, then issues fresh tokens carrying the
// new connection id.
func (s *Service) Pair(ctx context.Context, userID int64, serial string) (*Result, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, apperr.Validation("machine_SN is required")
	}
	if userID <= 0 {
		return nil, apperr.Validation("user id is required")
	}

	seeds, err := s.defaults.Seeds()
	if err != nil {
		return nil, apperr.Storage(err, "invalid default slot table")
	}
	volume, err := s.defaults.Volume()
	if err != nil {
		return nil, apperr.Storage(err, "invalid default volume settings")
	}

	conn, err := s.store.CreateConnection(ctx, userID, serial, volume, seeds)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issuer.Issue(userID, conn.ID)
	if err != nil {
		// The pairing itself committed; the app can still log in again.
		s.log.Error("failed to issue tokens after pairing", zap.Int64("connection_id", conn.ID), zap.Error(err))
		return nil, apperr.Storage(err, "device paired but token renewal failed")
	}

	s.log.Info("device paired",
		zap.Int64("user_id", userID), zap.String("serial", serial), zap.Int64("connection_id", conn.ID))
	return &Result{ConnectionID: conn.ID, DeviceSerial: serial, SlotCount: len(conn.Slots), Tokens: tokens}, nil
}
