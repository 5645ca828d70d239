package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/session"
)

// Resolution は認証済みリクエストのセッション情報。
type Resolution struct {
	UserID           string
	UserName         string
	SessionID        string
	SessionExpiresAt time.Time

	// FromCache はキャッシュCookieだけで解決したかどうか。
	FromCache bool
	// Renewed はこのリクエストでセッションを延長したかどうか。
	Renewed bool

	token string
	view  *session.CachedView
}

// NeedsCookies はレスポンスでCookieを書き直す必要があるかどうかを返す。
func (r *Resolution) NeedsCookies() bool {
	return r.token != "" || r.view != nil
}

// ResolveSession はリクエストのCookieからセッションを解決する。
// キャッシュヒット時はストアを参照しない（StrictRevocation時の失効確認を除く）。
// キャッシュミス時はトークンを検証してストアから読み直し、必要ならセッションを延長する。
// 未認証の場合はErrUnauthenticatedを満たすエラーを返す。ストア障害も未認証として扱う。
func (s *Service) ResolveSession(ctx context.Context, r *http.Request) (*Resolution, error) {
	res, err := s.resolve(ctx, r)
	if err != nil {
		s.metrics.RecordResolution(UnauthenticatedReason(err))
		return nil, err
	}
	switch {
	case res.FromCache:
		s.metrics.RecordResolution("cache_hit")
	case res.Renewed:
		s.metrics.RecordResolution("renewed")
	default:
		s.metrics.RecordResolution("store")
	}
	return res, nil
}

func (s *Service) resolve(ctx context.Context, r *http.Request) (*Resolution, error) {
	now := s.config.Now()

	view, err := s.cache.Lookup(r)
	if err == nil {
		s.metrics.RecordCacheLookup(true)
		return s.resolveFromCache(ctx, view)
	}
	s.metrics.RecordCacheLookup(false)
	if !errors.Is(err, session.ErrCacheMiss) {
		s.metrics.RecordTokenRejected("cache", session.Reason(err))
		slog.Debug("session cache rejected", slog.String("reason", session.Reason(err)))
	}

	token, ok := s.token.Read(r)
	if !ok {
		return nil, unauthenticated("no_session")
	}

	claims, err := s.codec.Decode(token)
	if err != nil {
		reason := session.Reason(err)
		s.metrics.RecordTokenRejected("session", reason)
		if errors.Is(err, session.ErrBadSignature) {
			slog.Warn("session token rejected",
				slog.String("reason", reason),
				slog.Bool("security_event", true),
			)
		}
		return nil, unauthenticated(reason)
	}

	var sess *model.Session
	err = s.storeCall(ctx, "find_session", func(ctx context.Context) error {
		var err error
		sess, err = s.store.Sessions.FindByID(ctx, claims.SessionID)
		return err
	})
	if err != nil {
		slog.Error("session lookup failed", slog.String("error", err.Error()))
		return nil, unauthenticated("store_error")
	}
	if sess == nil {
		return nil, unauthenticated("session_not_found")
	}
	if sess.UserID != claims.UserID {
		slog.Warn("session token subject mismatch",
			slog.String("session_id", sess.ID),
			slog.Bool("security_event", true),
		)
		return nil, unauthenticated("subject_mismatch")
	}
	if !sess.Active(now) {
		return nil, unauthenticated("expired")
	}

	user, err := s.findUser(ctx, sess.UserID)
	if err != nil {
		slog.Error("user lookup failed", slog.String("error", err.Error()))
		return nil, unauthenticated("store_error")
	}
	if user == nil {
		return nil, unauthenticated("user_not_found")
	}

	res := &Resolution{
		UserID:    user.ID,
		UserName:  user.Name,
		SessionID: sess.ID,
	}

	if now.Sub(sess.LastRenewedAt) >= s.config.UpdateAge {
		s.renew(ctx, sess, res)
	}

	res.SessionExpiresAt = sess.ExpiresAt
	v := s.cache.NewView(sess, user.Name)
	res.view = &v
	return res, nil
}

// resolveFromCache はキャッシュヒット時の解決を行う。
func (s *Service) resolveFromCache(ctx context.Context, view session.CachedView) (*Resolution, error) {
	if s.config.StrictRevocation {
		var revoked bool
		err := s.storeCall(ctx, "is_revoked", func(ctx context.Context) error {
			var err error
			revoked, err = s.store.Sessions.IsRevoked(ctx, view.SessionID)
			return err
		})
		if err != nil {
			slog.Error("session revocation check failed", slog.String("error", err.Error()))
			return nil, unauthenticated("store_error")
		}
		if revoked {
			return nil, unauthenticated("revoked")
		}
	}

	return &Resolution{
		UserID:           view.UserID,
		UserName:         view.UserName,
		SessionID:        view.SessionID,
		SessionExpiresAt: view.SessionExpiresAt,
		FromCache:        true,
	}, nil
}

// renew はセッションの有効期限を延長し、新しいトークンを発行する。
// 延長に失敗しても現在のセッションは有効なまま扱う。
func (s *Service) renew(ctx context.Context, sess *model.Session, res *Resolution) {
	renewed := *sess
	renewed.Renew(s.config.Now().Truncate(time.Second), s.config.SessionTTL)

	err := s.storeCall(ctx, "touch_session", func(ctx context.Context) error {
		return s.store.Sessions.Touch(ctx, renewed.ID, renewed.LastRenewedAt, renewed.ExpiresAt)
	})
	if err != nil {
		slog.Warn("failed to renew session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	token, err := s.codec.Encode(claimsFor(&renewed))
	if err != nil {
		slog.Error("failed to encode renewed session token", slog.String("error", err.Error()))
		return
	}

	*sess = renewed
	res.token = token
	res.Renewed = true
}

// WriteCookies は解決結果に応じてセッショントークンとキャッシュのCookieを書き直す。
func (s *Service) WriteCookies(w http.ResponseWriter, res *Resolution) {
	if res.token != "" {
		s.token.Write(w, res.token, res.SessionExpiresAt.Sub(s.config.Now()))
	}
	if res.view != nil {
		if err := s.cache.Write(w, *res.view); err != nil {
			slog.Error("failed to write session cache", slog.String("error", err.Error()))
		}
	}
}
