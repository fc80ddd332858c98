// Package model はドメインモデルを定義する。
package model

import "time"

// User は試験サービスの利用ユーザーを表す。
// 機能フラグは管理者が個別に設定できる保存値であり、
// 実際のアクセス可否はEffectiveUserで計算される。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	UniqueCode   string // ロールマーカー。管理者判定に使用する
	CreatedAt    time.Time
	UpdatedAt    time.Time

	HasWizaryExamAccess bool
	HasApproachAccess   bool
	HasQbankAccess      bool
	HasCoursesAccess    bool

	IsLocked    bool
	LastLoginAt *time.Time
}

// Session はユーザーのログインセッション（1デバイス分）を表す。
// SessionKeyはトークンに埋め込まれる不透明な識別子で、主キーとは別に管理する。
type Session struct {
	ID         string
	UserID     string
	SessionKey string
	UserAgent  string
	IPAddress  string
	IsActive   bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IsActiveAt は指定時刻においてセッションが有効かどうかを返す。
// is_activeフラグだけでなく有効期限も必ず評価する。
func (s *Session) IsActiveAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// RequestMetadata はログインリクエストから取得したデバイス情報。
// ベストエフォートで取得し、検証はしない。
type RequestMetadata struct {
	UserAgent string
	IPAddress string
}

// Subscription はユーザーごとの有料購読期限を表す。
// エントリが存在しない場合は購読なしとして扱う。
type Subscription struct {
	UserID    string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// EffectiveUser はトライアル期間と購読期限から計算した実効アクセス権を含むユーザービュー。
// パスワードハッシュは含まない。
type EffectiveUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	UniqueCode  string     `json:"uniqueCode"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	IsLocked    bool       `json:"isLocked"`

	HasWizaryExamAccess bool `json:"hasWizaryExamAccess"`
	HasApproachAccess   bool `json:"hasApproachAccess"`
	HasQbankAccess      bool `json:"hasQbankAccess"`
	HasCoursesAccess    bool `json:"hasCoursesAccess"`

	HasFullAccess         bool       `json:"hasFullAccess"`
	TrialActive           bool       `json:"trialActive"`
	TrialEndsAt           time.Time  `json:"trialEndsAt"`
	SubscriptionActive    bool       `json:"subscriptionActive"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
}
