package service

import (
	"context"
	"errors"
	"log/slog"

	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/repository"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

type AuthService interface {
	LoginCallback(ctx context.Context, code string) (userID int64, err error)
}

type authService struct {
	cfg config.Config
	u   repository.UserRepository
}

func NewAuthService(cfg config.Config, u repository.UserRepository) AuthService {
	return &authService{
		cfg: cfg,
		u:   u,
	}
}

func (s *authService) LoginCallback(ctx context.Context, code string) (userID int64, err error) {

	if code == "" {
		err = errors.New("code is empty")
		slog.Info(err.Error())
		return 0, err
	}

	oauth2Config := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURI,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
		Endpoint:     google.Endpoint,
	}

	if oauth2Config.ClientID == "" || oauth2Config.ClientSecret == "" || oauth2Config.RedirectURL == "" {
		err = errors.New("OAuth2 configuration is incomplete")
		slog.Info(err.Error())
		return 0, err
	}

	token, err := oauth2Config.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	client := oauth2Config.Client(ctx, token)

	oauthService, err := goauth2.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	userInfo, err := oauthService.Userinfo.Get().Do()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	user, isExist, err := s.u.GetByEmail(ctx, userInfo.Email)
	if err != nil {
		return 0, err
	}

	if !isExist || user.GoogleID == "" {
		userID, err = s.u.Create(ctx, nil, &models.User{
			GoogleID:       userInfo.Id,
			Email:          userInfo.Email,
			Name:           userInfo.Name,
			ProfilePicture: userInfo.Picture,
		})

		if err != nil {
			slog.Info(err.Error())
			return 0, err
		}
	} else {
		userID = user.ID
	}

	return userID, nil
}
