// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証サブシステムのエラー分類。
// 内部の区別はログ・監査用であり、クライアントには汎用的な応答のみ返す。
var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountLocked            = errors.New("account locked")
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidToken             = errors.New("invalid token")
	ErrSessionInactive          = errors.New("session inactive")
	ErrStoreUnavailable         = errors.New("store unavailable")
	ErrConcurrencyLimitExceeded = errors.New("concurrent session limit exceeded")
	ErrUnauthenticated          = errors.New("unauthenticated")

	ErrInvalidRegistrationCode = errors.New("invalid registration code")
	ErrEmailTaken              = errors.New("email already registered")
	ErrInvalidGrant            = errors.New("invalid subscription grant")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subscription, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidRegistration = "INVALID_REGISTRATION_CODE"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeInvalidGrant        = "INVALID_GRANT"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeSubscriptionMissing = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidCredentialsError はログイン失敗の汎用エラーを生成する。
// メールアドレス不在・パスワード不一致・アカウントロックを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。解決しない場合は管理者に連絡してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewStoreUnavailableError はストア一時障害のエラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "サービスが一時的に利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidRegistrationCodeError は登録コードが無効・使用済みの場合のエラーを生成する。
func NewInvalidRegistrationCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRegistration,
		Message:  "登録コードが無効か、既に使用されています。",
		Category: "validation",
		Action:   "有効な登録コードを入力してください。",
	}
}

// NewEmailTakenError はメールアドレス重複のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewInvalidGrantError は購読付与パラメータ不正のエラーを生成する。
func NewInvalidGrantError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGrant,
		Message:  fmt.Sprintf("購読期間の指定が不正です: %s", reason),
		Category: "subscription",
		Action:   "1以上の整数と、day、week、month、year のいずれかの単位を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
// 管理者向けAPIでのみ使用し、ログインAPIでは使用しない。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読が存在しない場合のエラーを生成する。
func NewSubscriptionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionMissing,
		Message:  "購読情報が見つかりません。",
		Category: "subscription",
		Action:   "ユーザーIDを確認してください。",
	}
}
