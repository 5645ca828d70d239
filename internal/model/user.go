// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 初回サインイン時に作成され、この認証コアからは削除されない。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account は外部OAuthプロバイダーとの紐付け情報を表す。
// (Provider, ProviderSubjectID) の組は一意で、作成後は変更されない。
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderSubjectID string
	CreatedAt         time.Time
}

// Session はユーザーのログインセッションを表す。
// IssuedAt <= LastRenewedAt <= ExpiresAt を常に満たす。
type Session struct {
	ID            string
	UserID        string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	LastRenewedAt time.Time
	RevokedAt     *time.Time
}

// Active は指定時刻においてセッションが有効かどうかを返す。
// 期限切れまたは失効済みのセッションは存在しないものとして扱う。
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// Renew はセッションの有効期限を前方にスライドさせる。
// 新しい期限が現在の期限より前になる場合は期限を変更しない。
func (s *Session) Renew(now time.Time, ttl time.Duration) {
	if now.Before(s.LastRenewedAt) {
		return
	}
	s.LastRenewedAt = now
	if next := now.Add(ttl); next.After(s.ExpiresAt) {
		s.ExpiresAt = next
	}
}
