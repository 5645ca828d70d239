// Package auth はOAuthサインイン、セッションの解決と失効を提供する。
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/superblog/internal/metrics"
	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/repository"
	"github.com/hitoshi/superblog/internal/security"
	"github.com/hitoshi/superblog/internal/session"
)

// デフォルト値。
const (
	DefaultSessionTTL   = 7 * 24 * time.Hour
	DefaultUpdateAge    = 24 * time.Hour
	DefaultStoreTimeout = 3 * time.Second
	DefaultReturnTo     = "/"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // セッション有効期間
	UpdateAge  time.Duration // この時間が経過したセッションは延長する

	// StrictRevocation が有効な場合、キャッシュヒット時にも失効状態をストアで確認する。
	StrictRevocation bool

	StoreTimeout    time.Duration // ストア呼び出し1回あたりの上限
	DefaultReturnTo string

	// Now はテスト用の時計。nilの場合はtime.Now。
	Now func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.UpdateAge <= 0 {
		c.UpdateAge = DefaultUpdateAge
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.DefaultReturnTo == "" {
		c.DefaultReturnTo = DefaultReturnTo
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// NameSanitizer はプロバイダーから受け取った表示名を無害化する。
type NameSanitizer interface {
	Sanitize(name string) string
}

// Components は認証サービスが依存する部品。
type Components struct {
	Store     repository.CredentialStore
	Providers Registry
	Codec     *session.Codec
	Cache     *session.Cache
	Token     *session.Cookie
	States    *StateIssuer

	// 省略可能
	Names   NameSanitizer
	Metrics metrics.AuthRecorder
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store     repository.CredentialStore
	providers Registry
	codec     *session.Codec
	cache     *session.Cache
	token     *session.Cookie
	states    *StateIssuer
	names     NameSanitizer
	metrics   metrics.AuthRecorder
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(c Components, config ServiceConfig) *Service {
	names := c.Names
	if names == nil {
		names = security.NewNameSanitizer()
	}
	rec := c.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		store:     c.Store,
		providers: c.Providers,
		codec:     c.Codec,
		cache:     c.Cache,
		token:     c.Token,
		states:    c.States,
		names:     names,
		metrics:   rec,
		config:    config.withDefaults(),
	}
}

// SignInStart はサインイン開始時にハンドラーへ返す情報。
type SignInStart struct {
	RedirectURL string
	StateToken  string
	StateTTL    time.Duration
}

// BeginSignIn はプロバイダーの認可URLと、Cookieに保存するstateトークンを返す。
// returnToは同一オリジンのパスに正規化される。
func (s *Service) BeginSignIn(provider, returnTo string) (*SignInStart, error) {
	p, err := s.providers.Lookup(provider)
	if err != nil {
		return nil, err
	}

	token, nonce, err := s.states.Issue(p.Name(), security.SafeReturnPath(returnTo, s.config.DefaultReturnTo))
	if err != nil {
		return nil, err
	}

	return &SignInStart{
		RedirectURL: p.AuthCodeURL(nonce),
		StateToken:  token,
		StateTTL:    s.states.TTL(),
	}, nil
}

// Callback はプロバイダーからのコールバックの内容。
type Callback struct {
	Provider      string
	Code          string
	State         string // クエリのstate
	StateToken    string // state Cookieの値
	ProviderError string // クエリのerror（ユーザーのキャンセル等）
}

// SignInResult はサインイン完了時の結果。
type SignInResult struct {
	User     *model.User
	Session  *model.Session
	Token    string
	View     session.CachedView
	ReturnTo string
}

// CompleteSignIn はOAuthコールバックを処理し、新しいセッションを発行する。
// 未登録ユーザーの場合はusersとaccountsを同時に作成する。
// 同じ認可コードによる2回目以降の呼び出しはErrCallbackAlreadyConsumedを返す。
func (s *Service) CompleteSignIn(ctx context.Context, cb Callback) (*SignInResult, error) {
	result, err := s.completeSignIn(ctx, cb)
	s.metrics.RecordSignIn(signInOutcome(err))
	return result, err
}

func (s *Service) completeSignIn(ctx context.Context, cb Callback) (*SignInResult, error) {
	p, err := s.providers.Lookup(cb.Provider)
	if err != nil {
		return nil, err
	}
	if cb.ProviderError != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderRejected, cb.ProviderError)
	}

	// 1. stateの検証
	returnTo, err := s.states.Verify(cb.StateToken, p.Name(), cb.State)
	if err != nil {
		slog.Warn("oauth callback state mismatch",
			slog.String("provider", p.Name()),
			slog.Bool("security_event", true),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if cb.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProviderRejected)
	}

	// 2. 認可コードを使用済みとして記録（再試行しない）
	now := s.config.Now()
	err = s.storeCall(ctx, "consume_callback", func(ctx context.Context) error {
		return s.store.Callbacks.Consume(ctx, hashCode(p.Name(), cb.Code), p.Name(), now)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		slog.Warn("oauth callback replayed",
			slog.String("provider", p.Name()),
			slog.Bool("security_event", true),
		)
		return nil, ErrCallbackAlreadyConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume callback: %w", err)
	}

	// 3. 認可コードを交換してユーザー情報を取得
	identity, err := p.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderExchange, err)
	}

	// 4. ユーザーの特定または作成
	user, err := s.resolveUser(ctx, p.Name(), identity)
	if err != nil {
		return nil, err
	}

	// 5. セッションを発行
	sess, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.codec.Encode(claimsFor(sess))
	if err != nil {
		return nil, fmt.Errorf("failed to encode session token: %w", err)
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("session_id", sess.ID),
		slog.String("provider", p.Name()),
	)

	return &SignInResult{
		User:     user,
		Session:  sess,
		Token:    token,
		View:     s.cache.NewView(sess, user.Name),
		ReturnTo: security.SafeReturnPath(returnTo, s.config.DefaultReturnTo),
	}, nil
}

// resolveUser は(provider, subject)でアカウントを検索し、無ければユーザーと共に作成する。
// 作成が一意制約で競合した場合は勝者のアカウントを読み直す。
func (s *Service) resolveUser(ctx context.Context, provider string, identity *Identity) (*model.User, error) {
	name := s.names.Sanitize(identity.Name)

	account, err := s.findAccount(ctx, provider, identity.Subject)
	if err != nil {
		return nil, err
	}
	if account != nil {
		user, err := s.findUser(ctx, account.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("account %s references missing user %s", account.ID, account.UserID)
		}
		s.mirrorProfile(ctx, user, name, identity.Email)
		return user, nil
	}

	now := s.config.Now().Truncate(time.Second)
	user := &model.User{
		ID:        uuid.NewString(),
		Email:     identity.Email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	account = &model.Account{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Provider:          provider,
		ProviderSubjectID: identity.Subject,
		CreatedAt:         now,
	}

	err = retryTransient(ctx, func(int) error {
		return s.storeCall(ctx, "create_user", func(ctx context.Context) error {
			return s.store.Users.CreateWithAccount(ctx, user, account)
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// 並行するコールバックが先に作成した。同じユーザーとしてサインインする。
		winner, err := s.findAccount(ctx, provider, identity.Subject)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("account for %s:%s vanished after duplicate insert", provider, identity.Subject)
		}
		existing, err := s.findUser(ctx, winner.UserID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("account %s references missing user %s", winner.ID, winner.UserID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user and account: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)
	return user, nil
}

// mirrorProfile はプロバイダー側で変更された表示名とメールアドレスを反映する。
// 失敗してもサインインは継続する。
func (s *Service) mirrorProfile(ctx context.Context, user *model.User, name, email string) {
	if email == "" {
		email = user.Email
	}
	if name == user.Name && email == user.Email {
		return
	}

	now := s.config.Now().Truncate(time.Second)
	err := s.storeCall(ctx, "update_profile", func(ctx context.Context) error {
		return s.store.Users.UpdateProfile(ctx, user.ID, name, email, now)
	})
	if err != nil {
		slog.Warn("failed to mirror provider profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.Name = name
	user.Email = email
	user.UpdatedAt = now
}

// createSession は新しいIDでセッションを作成する。
// 再試行時の重複は1回目の書き込みが成功していたものとして扱う。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	now := s.config.Now().Truncate(time.Second)
	sess := &model.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.config.SessionTTL),
		LastRenewedAt: now,
	}

	err := retryTransient(ctx, func(attempt int) error {
		err := s.storeCall(ctx, "create_session", func(ctx context.Context) error {
			return s.store.Sessions.Create(ctx, sess)
		})
		if attempt > 1 && errors.Is(err, repository.ErrDuplicate) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SignOut はセッションを失効させる。一時的な障害の場合は1回だけ再試行する。
// 呼び出し側は同じレスポンスで両方のCookieを削除すること。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	now := s.config.Now()
	err := retryTransient(ctx, func(int) error {
		return s.storeCall(ctx, "revoke_session", func(ctx context.Context) error {
			return s.store.Sessions.Revoke(ctx, sessionID, now)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.metrics.RecordSignOut()
	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// SessionIDFromRequest はCookieからセッションIDを取り出す。
// 有効なセッショントークンが無い場合は有効なキャッシュビューから取り出す。
// 期限切れや改ざんされたトークン・ビューからは取り出さない。
func (s *Service) SessionIDFromRequest(r *http.Request) (string, bool) {
	if token, ok := s.token.Read(r); ok {
		claims, err := s.codec.Decode(token)
		if err == nil {
			return claims.SessionID, true
		}
	}
	if view, err := s.cache.Lookup(r); err == nil {
		return view.SessionID, true
	}
	return "", false
}

// ClearCookies はセッショントークンとキャッシュの両方のCookieを削除する。
func (s *Service) ClearCookies(w http.ResponseWriter) {
	s.token.Clear(w)
	s.cache.Invalidate(w)
}

// WriteSignInCookies はサインイン結果のCookieをセットする。
func (s *Service) WriteSignInCookies(w http.ResponseWriter, result *SignInResult) error {
	s.token.Write(w, result.Token, result.Session.ExpiresAt.Sub(s.config.Now()))
	return s.cache.Write(w, result.View)
}

// CurrentUser はユーザーIDからユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// storeCall はストア呼び出しをStoreTimeoutで制限し、レイテンシを記録する。
func (s *Service) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordStoreLatency(op, time.Since(start))
	return err
}

func (s *Service) findAccount(ctx context.Context, provider, subject string) (*model.Account, error) {
	var account *model.Account
	err := s.storeCall(ctx, "find_account", func(ctx context.Context) error {
		var err error
		account, err = s.store.Accounts.FindByProviderSubject(ctx, provider, subject)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	var user *model.User
	err := s.storeCall(ctx, "find_user", func(ctx context.Context) error {
		var err error
		user, err = s.store.Users.FindByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// hashCode は認可コードを保存用のハッシュに変換する。平文のコードは保存しない。
func hashCode(provider, code string) string {
	sum := sha256.Sum256([]byte(provider + ":" + code))
	return hex.EncodeToString(sum[:])
}

func claimsFor(sess *model.Session) session.Claims {
	return session.Claims{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		IssuedAt:  sess.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
	}
}

func signInOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCallbackAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrCallbackStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, ErrProviderExchange):
		return "provider_error"
	default:
		return "error"
	}
}
