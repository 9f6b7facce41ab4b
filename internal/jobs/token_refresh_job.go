package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/internal/service"
)

type TokenRefreshJob struct {
	sr repository.SocialAccountRepository
	cs service.CredentialService
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, cs service.CredentialService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		cs: cs,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	accounts, err := c.sr.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.cs.RefreshAccount(ctx, acc); err != nil {
				slog.Info("Unable to refresh tokens for " + acc.Platform)
			}
		}(acc)
	}

	wg.Wait()
}
