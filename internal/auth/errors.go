package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider は登録されていないプロバイダー名を表す。
	ErrUnknownProvider = errors.New("auth: unknown provider")
	// ErrCallbackAlreadyConsumed は同じ認可コードでのコールバックが既に処理済みであることを表す。
	ErrCallbackAlreadyConsumed = errors.New("auth: callback already consumed")
	// ErrCallbackStateMismatch はstateパラメータがサインイン開始時のものと一致しないことを表す。
	ErrCallbackStateMismatch = errors.New("auth: callback state mismatch")
	// ErrProviderRejected はプロバイダーがサインインを拒否したことを表す（ユーザーのキャンセル等）。
	ErrProviderRejected = errors.New("auth: provider rejected sign-in")
	// ErrProviderExchange は認可コードの交換またはユーザー情報取得に失敗したことを表す。
	ErrProviderExchange = errors.New("auth: provider exchange failed")
	// ErrUnauthenticated は有効なセッションが存在しないことを表す。
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrUserNotFound はセッションに対応するユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("auth: user not found")
)

// UnauthenticatedError は未認証と判定した理由を保持する。
// errors.Is(err, ErrUnauthenticated) が真になる。
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("auth: unauthenticated (%s)", e.Reason)
}

// Is はErrUnauthenticatedとの比較を可能にする。
func (e *UnauthenticatedError) Is(target error) bool {
	return target == ErrUnauthenticated
}

func unauthenticated(reason string) error {
	return &UnauthenticatedError{Reason: reason}
}

// UnauthenticatedReason はエラーから未認証の理由を取り出す。該当しない場合は空文字列を返す。
func UnauthenticatedReason(err error) string {
	var ue *UnauthenticatedError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}
