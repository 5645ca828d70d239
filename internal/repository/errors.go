package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("repository: duplicate record")

	// ErrTransient はタイムアウト、接続断、リソース枯渇など再試行で回復し得る障害を表す。
	ErrTransient = errors.New("repository: transient store failure")
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// classify はドライバーのエラーをリポジトリの型付きエラーに変換する。
// 元のエラーはラップして保持する。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case string(pqErr.Code) == pqUniqueViolation:
			return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
		case isTransientClass(pqErr.Code):
			return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isTransientClass は再試行可能なSQLSTATEかどうかを判定する。
//   - 08: connection exception
//   - 53: insufficient resources（too_many_connections等）
//   - 57P01〜57P03: admin/crash shutdown, cannot connect now
//   - 57014: query_canceled（statement_timeout）
//   - 40001, 40P01: serialization failure, deadlock
func isTransientClass(code pq.ErrorCode) bool {
	switch code.Class() {
	case "08", "53":
		return true
	}
	switch string(code) {
	case "57P01", "57P02", "57P03", "40001", "40P01", "57014":
		return true
	}
	return false
}

// IsTransient はエラーが一時的なストア障害かどうかを返す。
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
