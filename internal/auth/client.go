// Package auth wraps the Supabase GoTrue API for the marketplace.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/config"
	"github.com/vindennt/gus-marketplace/internal/models"
	"github.com/vindennt/gus-marketplace/internal/session"
)

const providerTimeout = 10 * time.Second

type Client struct {
	AuthClient    gotrue.Client
	allowedDomain string
	store         *session.Store
	logger        *zap.Logger
}

type Option func(*Client)

// WithStore mirrors every session change into store. Only single-user
// callers such as the CLI should set one
func WithStore(store *session.Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

func NewClient(cfg *config.Config, logger *zap.Logger, opts ...Option) *Client {
	client := gotrue.New(
		cfg.SupabaseProjectRef,
		cfg.SupabaseAnonKey,
	)
	if cfg.SupabaseURL != "" {
		client = client.WithCustomGoTrueURL(strings.TrimRight(cfg.SupabaseURL, "/") + "/auth/v1")
	}
	if cfg.SiteURL != "" {
		client = client.WithClient(http.Client{
			Transport: &redirectTransport{base: http.DefaultTransport, siteURL: strings.TrimRight(cfg.SiteURL, "/")},
			Timeout:   providerTimeout,
		})
	}

	c := &Client{
		AuthClient:    client,
		allowedDomain: strings.ToLower(cfg.AllowedEmailDomain),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignUp registers a new account. The session is nil when the provider
// wants the email confirmed first
func (c *Client) SignUp(ctx context.Context, email, password string) (*session.Session, error) {
	if c.allowedDomain != "" && !strings.HasSuffix(strings.ToLower(strings.TrimSpace(email)), c.allowedDomain) {
		return nil, &DomainError{Domain: c.allowedDomain}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.AuthClient.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, FriendlyError(err)
	}

	c.logger.Info("user signed up", zap.String("email", email))
	if res.AccessToken == "" {
		return nil, nil
	}

	sess := fromSession(res.Session)
	c.remember(sess)
	return &sess, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.AuthClient.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, FriendlyError(err)
	}

	sess := fromSession(res.Session)
	c.remember(sess)
	return &sess, nil
}

// SignOut revokes token, or the stored session's token when token is empty.
// The store is cleared even if the provider call fails
func (c *Client) SignOut(ctx context.Context, token string) error {
	if token == "" && c.store != nil {
		token = c.store.Token()
	}
	if c.store != nil {
		defer c.store.Clear()
	}
	if token == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.AuthClient.WithToken(token).Logout(); err != nil {
		return FriendlyError(err)
	}
	return nil
}

// ResetPassword sends the recovery email. The link lands on the site's
// /auth/reset-password page
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.AuthClient.Recover(types.RecoverRequest{Email: email}); err != nil {
		return FriendlyError(err)
	}
	return nil
}

// UpdatePassword sets a new password for the user behind token, usually the
// recovery token from a reset link
func (c *Client) UpdatePassword(ctx context.Context, token, password, confirm string) error {
	if token == "" {
		return ErrInvalidResetLink
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.AuthClient.WithToken(token).UpdateUser(types.UpdateUserRequest{Password: &password}); err != nil {
		return FriendlyError(err)
	}
	return nil
}

// ExchangeCode completes the email verification callback (PKCE)
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.AuthClient.Token(types.TokenRequest{
		GrantType:    "pkce",
		Code:         code,
		CodeVerifier: verifier,
	})
	if err != nil {
		return nil, FriendlyError(err)
	}

	sess := fromSession(res.Session)
	c.remember(sess)
	return &sess, nil
}

// Refresh trades the stored refresh token for a new session
func (c *Client) Refresh(ctx context.Context) (*session.Session, error) {
	if c.store == nil {
		return nil, ErrNoSession
	}
	cur, ok := c.store.Current()
	if !ok || cur.RefreshToken == "" {
		return nil, ErrNoSession
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.AuthClient.RefreshToken(cur.RefreshToken)
	if err != nil {
		return nil, FriendlyError(err)
	}

	sess := fromSession(res.Session)
	c.remember(sess)
	return &sess, nil
}

// refreshMargin is how long before expiry KeepFresh renews the session
const refreshMargin = time.Minute

// KeepFresh refreshes the stored session shortly before each expiry until
// ctx ends. A failed refresh is returned, since the session is dead then
func (c *Client) KeepFresh(ctx context.Context) error {
	if c.store == nil {
		return ErrNoSession
	}
	for {
		cur, ok := c.store.Current()
		if !ok {
			return ErrNoSession
		}

		timer := time.NewTimer(time.Until(cur.ExpiresAt.Add(-refreshMargin)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sess, err := c.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.logger.Debug("session refreshed", zap.Time("expires_at", sess.ExpiresAt))
	}
}

// CurrentSession reports the stored session if the provider still accepts
// its token. A rejected token yields no session and no error
func (c *Client) CurrentSession(ctx context.Context) (*session.Session, error) {
	if c.store == nil {
		return nil, nil
	}
	cur, ok := c.store.Current()
	if !ok {
		return nil, nil
	}

	user, err := c.User(ctx, cur.AccessToken)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("stored session rejected", zap.Error(err))
		return nil, nil
	}

	cur.User = user
	return &cur, nil
}

// User resolves the owner of an access token
func (c *Client) User(ctx context.Context, token string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	user, err := c.AuthClient.WithToken(token).GetUser()
	if err != nil {
		return models.User{}, FriendlyError(err)
	}
	return models.User{
		ID:    user.ID.String(),
		Email: user.Email,
	}, nil
}

func (c *Client) remember(sess session.Session) {
	if c.store != nil {
		c.store.Set(sess)
	}
}

func fromSession(s types.Session) session.Session {
	return session.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(s.ExpiresIn) * time.Second),
		User: models.User{
			ID:    s.User.ID.String(),
			Email: s.User.Email,
		},
	}
}

func toResponse(s *session.Session) *models.SessionResponse {
	if s == nil {
		return nil
	}
	return &models.SessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    int(time.Until(s.ExpiresAt).Seconds()),
		ExpiresAt:    s.ExpiresAt.Unix(),
		TokenType:    "bearer",
		User:         s.User,
	}
}
