package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/pkg/utils"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotConnected = errors.New("account is not connected")
	ErrNeedsReauth  = errors.New("account needs to be reconnected")
)

// refreshLookahead is how far before expiry a token is refreshed when it
// is about to be used. Short-session platforms get a tight window.
var refreshLookahead = map[string]time.Duration{
	platform.PlatformInstagram: 24 * time.Hour,
	platform.PlatformFacebook:  24 * time.Hour,
	platform.PlatformBluesky:   5 * time.Minute,
	platform.PlatformMastodon:  0,
}

type CredentialService interface {
	GetForUse(ctx context.Context, userID int64, platformName string) (platform.Tokens, error)
	RefreshAccount(ctx context.Context, account *models.SocialAccount) error
	MarkUnauthorized(ctx context.Context, userID int64, platformName string) error
}

type credentialService struct {
	cfg      config.Config
	sa       repository.SocialAccountRepository
	registry *platform.Registry
	group    singleflight.Group
}

func NewCredentialService(cfg config.Config, sa repository.SocialAccountRepository, registry *platform.Registry) CredentialService {
	return &credentialService{
		cfg:      cfg,
		sa:       sa,
		registry: registry,
	}
}

// GetForUse returns decrypted, usable tokens for the user's account on the
// given platform, refreshing them first when expiry is close. Concurrent
// callers for the same account share a single refresh.
func (s *credentialService) GetForUse(ctx context.Context, userID int64, platformName string) (platform.Tokens, error) {
	account, err := s.sa.GetByUserAndPlatform(ctx, userID, platformName)
	if err != nil {
		return platform.Tokens{}, err
	}
	if account == nil {
		return platform.Tokens{}, ErrNotConnected
	}
	if account.AccountStatus == models.AccountStatusNeedsReauth {
		return platform.Tokens{}, ErrNeedsReauth
	}

	lookahead, ok := refreshLookahead[platformName]
	if !ok {
		lookahead = 10 * time.Minute
	}

	if lookahead > 0 && time.Now().Add(lookahead).After(account.TokenExpiresAt) {
		key := fmt.Sprintf("%d:%s", userID, platformName)
		_, err, _ := s.group.Do(key, func() (interface{}, error) {
			// Reread inside the flight: a caller racing in behind a
			// finished refresh must not spend the already-rotated
			// refresh token a second time.
			current, err := s.sa.GetByUserAndPlatform(ctx, userID, platformName)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, ErrNotConnected
			}
			if current.AccountStatus == models.AccountStatusNeedsReauth {
				return nil, ErrNeedsReauth
			}
			if !time.Now().Add(lookahead).After(current.TokenExpiresAt) {
				return nil, nil
			}
			return nil, s.RefreshAccount(ctx, current)
		})
		if err != nil {
			return platform.Tokens{}, err
		}

		// Reread so every caller sees the tokens the winning refresh stored.
		account, err = s.sa.GetByUserAndPlatform(ctx, userID, platformName)
		if err != nil {
			return platform.Tokens{}, err
		}
		if account == nil {
			return platform.Tokens{}, ErrNotConnected
		}
	}

	return s.decryptTokens(account)
}

// RefreshAccount exchanges the account's refresh token for new tokens and
// stores them. A definitive rejection marks the account needs_reauth so
// later publishes surface a reconnect error instead of retrying forever.
func (s *credentialService) RefreshAccount(ctx context.Context, account *models.SocialAccount) error {
	adapter, ok := s.registry.Get(account.Platform)
	if !ok {
		return fmt.Errorf("no adapter for platform %s", account.Platform)
	}

	tokens, err := s.decryptTokens(account)
	if err != nil {
		return err
	}

	creds, err := adapter.Refresh(ctx, tokens)
	if err != nil {
		if platform.IsKind(err, platform.KindRefresh) {
			slog.Info("marking account for reconnect", "account_id", account.ID, "platform", account.Platform)
			if serr := s.sa.SetStatus(ctx, account.ID, models.AccountStatusNeedsReauth); serr != nil {
				return serr
			}
			return ErrNeedsReauth
		}
		return err
	}

	updated := models.SocialAccount{TokenExpiresAt: creds.TokenExpiresAt}

	// A refresh never shortens the stored lifetime.
	if creds.TokenExpiresAt.Before(account.TokenExpiresAt) {
		updated.TokenExpiresAt = account.TokenExpiresAt
	}

	if creds.AccessToken != "" {
		updated.AccessToken, err = utils.Encrypt([]byte(creds.AccessToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return err
		}
	}
	if creds.RefreshToken != "" {
		updated.RefreshToken, err = utils.Encrypt([]byte(creds.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return err
		}
	}

	return s.sa.UpdateTokens(ctx, account.ID, &updated)
}

// MarkUnauthorized flags the user's account on a platform as needing
// reconnection after the platform actively rejected its token during use.
func (s *credentialService) MarkUnauthorized(ctx context.Context, userID int64, platformName string) error {
	account, err := s.sa.GetByUserAndPlatform(ctx, userID, platformName)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	slog.Info("marking account for reconnect", "account_id", account.ID, "platform", account.Platform)
	return s.sa.SetStatus(ctx, account.ID, models.AccountStatusNeedsReauth)
}

func (s *credentialService) decryptTokens(account *models.SocialAccount) (platform.Tokens, error) {
	accessToken, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return platform.Tokens{}, err
	}

	var refreshToken string
	if account.RefreshToken != "" {
		refreshToken, err = utils.Decrypt(account.RefreshToken, []byte(s.cfg.SecretKey))
		if err != nil {
			return platform.Tokens{}, err
		}
	}

	return platform.Tokens{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccountID:       account.AccountID,
		AccountUsername: account.AccountUsername,
	}, nil
}
