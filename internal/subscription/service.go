// Package subscription は管理者による購読期限の付与・取消・参照を提供する。
package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/wizary/internal/model"
	"github.com/hitoshi/wizary/internal/repository"
)

// Unit は購読期間の単位。
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// MaxGrantAmount は1回の付与で指定できる数量の上限。
const MaxGrantAmount = 1000

// ParseUnit は文字列を期間単位に変換する。複数形と大文字も受け付ける。
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch u {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
		return u, nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", model.ErrInvalidGrant, s)
}

// AddPeriod はfromにamount単位分の期間を加算する。
//
// 月・年の加算はtime.AddDateの正規化に従う。
// 例えば1月31日に1か月を加えると2月31日が正規化されて3月3日（閏年は3月2日）になる。
func AddPeriod(from time.Time, amount int, unit Unit) (time.Time, error) {
	if amount < 1 || amount > MaxGrantAmount {
		return time.Time{}, fmt.Errorf("%w: amount must be between 1 and %d, got %d", model.ErrInvalidGrant, MaxGrantAmount, amount)
	}
	switch unit {
	case UnitDay:
		return from.AddDate(0, 0, amount), nil
	case UnitWeek:
		return from.AddDate(0, 0, 7*amount), nil
	case UnitMonth:
		return from.AddDate(0, amount, 0), nil
	case UnitYear:
		return from.AddDate(amount, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown unit %q", model.ErrInvalidGrant, unit)
}

// UserFinder は付与対象ユーザーの存在確認に使用する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service は購読期限管理のサービス層。
type Service struct {
	subRepo  repository.SubscriptionRepository
	userRepo UserFinder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subRepo repository.SubscriptionRepository, userRepo UserFinder) *Service {
	return &Service{
		subRepo:  subRepo,
		userRepo: userRepo,
		now:      time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Grant はユーザーの購読期限を延長する。
// 有効な購読が残っている場合はその期限から、期限切れまたは未購読の場合は現在時刻から加算する。
func (s *Service) Grant(ctx context.Context, userID string, amount int, unit Unit) (*model.Subscription, error) {
	if _, err := AddPeriod(time.Time{}, amount, unit); err != nil {
		return nil, model.NewInvalidGrantError(err.Error())
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	current, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}

	now := s.now()
	base := now
	if current != nil && current.ExpiresAt.After(now) {
		base = current.ExpiresAt
	}

	expiresAt, err := AddPeriod(base, amount, unit)
	if err != nil {
		return nil, model.NewInvalidGrantError(err.Error())
	}

	sub := &model.Subscription{
		UserID:    userID,
		ExpiresAt: expiresAt,
		UpdatedAt: now,
	}
	if err := s.subRepo.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	return sub, nil
}

// Get はユーザーの購読エントリを返す。存在しない場合はSUBSCRIPTION_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError()
	}
	return sub, nil
}

// Revoke はユーザーの購読エントリを削除する。存在しない場合はSUBSCRIPTION_NOT_FOUNDを返す。
func (s *Service) Revoke(ctx context.Context, userID string) error {
	deleted, err := s.subRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewSubscriptionNotFoundError()
	}
	return nil
}
