package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/internal/transfer"
	"github.com/nileshdv/postmux/pkg/utils"
)

type PlatformService interface {
	GetAuthURL(ctx context.Context, platformName, tokenString string) string
	ConnectCallback(ctx context.Context, userID int64, platformName, code string) error
	ConnectBluesky(ctx context.Context, userID int64, identifier, appPassword string) error
	List(ctx context.Context, userID int64) ([]transfer.AccountInfo, error)
	Delete(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	cfg      config.Config
	sa       repository.SocialAccountRepository
	registry *platform.Registry
}

func NewPlatformService(cfg config.Config, sa repository.SocialAccountRepository, registry *platform.Registry) PlatformService {
	return &platformService{
		cfg:      cfg,
		sa:       sa,
		registry: registry,
	}
}

func (s *platformService) redirectURI(platformName string) string {
	switch platformName {
	case platform.PlatformInstagram:
		return s.cfg.InstagramRedirectURI
	case platform.PlatformFacebook:
		return s.cfg.FacebookRedirectURI
	case platform.PlatformMastodon:
		return s.cfg.MastodonRedirectURI
	default:
		return ""
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platformName, tokenString string) string {
	adapter, ok := s.registry.Get(platformName)
	if !ok {
		return ""
	}
	return adapter.AuthURL(s.redirectURI(platformName), tokenString)
}

// ConnectCallback finishes an OAuth connect: it exchanges the code for
// tokens and stores the account, encrypted at rest.
func (s *platformService) ConnectCallback(ctx context.Context, userID int64, platformName, code string) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if code == "" {
		err = errors.New("code is empty")
		slog.Info(err.Error())
		return err
	}

	adapter, ok := s.registry.Get(platformName)
	if !ok {
		err = fmt.Errorf("unknown platform %s", platformName)
		slog.Info(err.Error())
		return err
	}

	creds, err := adapter.ExchangeCode(ctx, code, s.redirectURI(platformName))
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return s.saveAccount(ctx, userID, platformName, creds)
}

// ConnectBluesky stores a handle and app password session. Bluesky has no
// OAuth redirect, so the credentials arrive in the request body instead
// of a callback code.
func (s *platformService) ConnectBluesky(ctx context.Context, userID int64, identifier, appPassword string) error {
	var err error

	if identifier == "" || appPassword == "" {
		err = errors.New("identifier or app password is empty")
		slog.Info(err.Error())
		return err
	}

	adapter, ok := s.registry.Get(platform.PlatformBluesky)
	if !ok {
		err = errors.New("bluesky is not configured")
		slog.Info(err.Error())
		return err
	}

	creds, err := adapter.ExchangeCode(ctx, fmt.Sprintf("%s:%s", identifier, appPassword), "")
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return s.saveAccount(ctx, userID, platform.PlatformBluesky, creds)
}

func (s *platformService) saveAccount(ctx context.Context, userID int64, platformName string, creds *platform.Credentials) error {
	encryptedAccessToken, err := utils.Encrypt([]byte(creds.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	var encryptedRefreshToken string
	if creds.RefreshToken != "" {
		encryptedRefreshToken, err = utils.Encrypt([]byte(creds.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return err
		}
	}

	account := models.SocialAccount{
		UserID:          userID,
		Platform:        platformName,
		AccountID:       creds.AccountID,
		AccountName:     creds.AccountName,
		AccountUsername: creds.AccountUsername,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedRefreshToken,
		TokenExpiresAt:  creds.TokenExpiresAt,
	}

	_, err = s.sa.Upsert(ctx, nil, &account)
	if err != nil {
		return fmt.Errorf("Error saving account info")
	}

	return nil
}

// List returns the connected accounts without their token material.
func (s *platformService) List(ctx context.Context, userID int64) ([]transfer.AccountInfo, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting social accounts")
	}

	infos := make([]transfer.AccountInfo, 0, len(accounts))
	for _, account := range accounts {
		infos = append(infos, transfer.AccountInfo{
			ID:              account.ID,
			Platform:        account.Platform,
			AccountName:     account.AccountName,
			AccountUsername: account.AccountUsername,
			AccountStatus:   account.AccountStatus,
		})
	}

	return infos, nil
}

func (s *platformService) Delete(ctx context.Context, userID, accountID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if accountID == 0 {
		err = errors.New("AccountID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Social account doesn't exist")
		slog.Info(err.Error())
		return err
	}

	err = s.sa.Remove(ctx, accountID)
	if err != nil {
		return fmt.Errorf("Error removing account Info")
	}

	return nil
}
