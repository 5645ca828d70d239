// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeUnknownProvider         = "UNKNOWN_PROVIDER"
	ErrCodeCallbackAlreadyConsumed = "CALLBACK_ALREADY_CONSUMED"
	ErrCodeCallbackStateMismatch   = "CALLBACK_STATE_MISMATCH"
	ErrCodeSignInFailed            = "SIGN_IN_FAILED"
	ErrCodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}

// NewUnknownProviderError は未対応のOAuthプロバイダーが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("Unsupported sign-in provider: %s", provider),
		Category: "validation",
		Action:   "Choose one of the sign-in options on the sign-in page.",
	}
}

// NewCallbackAlreadyConsumedError は使用済みの認可コードで再度コールバックされた場合のエラーを生成する。
func NewCallbackAlreadyConsumedError() *APIError {
	return &APIError{
		Code:     ErrCodeCallbackAlreadyConsumed,
		Message:  "This sign-in link has already been used.",
		Category: "auth",
		Action:   "Please retry sign-in.",
	}
}

// NewCallbackStateMismatchError はstateパラメータが一致しない場合のエラーを生成する。
func NewCallbackStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCallbackStateMismatch,
		Message:  "The sign-in request could not be verified.",
		Category: "auth",
		Action:   "Please retry sign-in.",
	}
}

// NewSignInFailedError はプロバイダーとの連携に失敗した場合のエラーを生成する。
func NewSignInFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInFailed,
		Message:  "Sign-in with the provider failed.",
		Category: "auth",
		Action:   "Please retry sign-in.",
	}
}

// NewServiceUnavailableError は一時的なストア障害のエラーを生成する。
func NewServiceUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  "The service is temporarily unavailable.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}
