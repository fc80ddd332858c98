// Package entitlement はトライアル期間と購読期限からユーザーの実効アクセス権を計算する。
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/wizary/internal/model"
)

// DefaultTrialPeriod はアカウント作成からのトライアル期間のデフォルト値。
const DefaultTrialPeriod = 72 * time.Hour

// Compute はユーザー・購読エントリ・現在時刻から実効アクセス権を計算する。
// 副作用を持たず、同じ入力に対して常に同じ結果を返す。
//
// トライアルはcreatedAt + trialPeriodより前の時刻でのみ有効で、境界時刻ちょうどは無効。
// 購読も同様にexpires_atより前でのみ有効。
// 試験機能（WizaryExam）は常に利用可能で、その他3機能はフルアクセス時のみ利用可能。
func Compute(user *model.User, sub *model.Subscription, now time.Time, trialPeriod time.Duration) *model.EffectiveUser {
	trialEndsAt := user.CreatedAt.Add(trialPeriod)
	trialActive := now.Before(trialEndsAt)

	var (
		subscriptionActive    bool
		subscriptionExpiresAt *time.Time
	)
	if sub != nil {
		expires := sub.ExpiresAt
		subscriptionExpiresAt = &expires
		subscriptionActive = now.Before(expires)
	}

	full := trialActive || subscriptionActive

	return &model.EffectiveUser{
		ID:          user.ID,
		Email:       user.Email,
		UniqueCode:  user.UniqueCode,
		CreatedAt:   user.CreatedAt,
		LastLoginAt: user.LastLoginAt,
		IsLocked:    user.IsLocked,

		HasWizaryExamAccess: true,
		HasApproachAccess:   full,
		HasQbankAccess:      full,
		HasCoursesAccess:    full,

		HasFullAccess:         full,
		TrialActive:           trialActive,
		TrialEndsAt:           trialEndsAt,
		SubscriptionActive:    subscriptionActive,
		SubscriptionExpiresAt: subscriptionExpiresAt,
	}
}

// SubscriptionReader は購読エントリの読み取りインターフェース。
type SubscriptionReader interface {
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// Calculator は購読ストアを参照して実効アクセス権を計算する。
type Calculator struct {
	subs        SubscriptionReader
	trialPeriod time.Duration
}

// NewCalculator はCalculatorを生成する。trialPeriodが負の場合はDefaultTrialPeriodを使用する。
func NewCalculator(subs SubscriptionReader, trialPeriod time.Duration) *Calculator {
	if trialPeriod < 0 {
		trialPeriod = DefaultTrialPeriod
	}
	return &Calculator{subs: subs, trialPeriod: trialPeriod}
}

// TrialPeriod は設定されたトライアル期間を返す。
func (c *Calculator) TrialPeriod() time.Duration {
	return c.trialPeriod
}

// ComputeEffectiveAccess は購読エントリを読み込み、指定時刻における実効アクセス権を返す。
// エントリが存在しない場合は購読なしとして扱う。
func (c *Calculator) ComputeEffectiveAccess(ctx context.Context, user *model.User, now time.Time) (*model.EffectiveUser, error) {
	sub, err := c.subs.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for %s: %w", user.ID, err)
	}
	return Compute(user, sub, now, c.trialPeriod), nil
}
