package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/internal/repository"
)

type PublishService interface {
	PublishPost(ctx context.Context, postID int64) ([]*platform.PublishResult, error)
}

type publishService struct {
	pr       repository.PostRepository
	pm       repository.PostMediaRepository
	ma       repository.MediaAssetRepository
	ph       repository.PostingHistoryRepository
	cs       CredentialService
	registry *platform.Registry
}

func NewPublishService(
	pr repository.PostRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	ph repository.PostingHistoryRepository,
	cs CredentialService,
	registry *platform.Registry) PublishService {
	return &publishService{
		pr:       pr,
		pm:       pm,
		ma:       ma,
		ph:       ph,
		cs:       cs,
		registry: registry,
	}
}

// PublishPost fans the post out to every target platform concurrently.
// Each platform succeeds or fails on its own; one rejection never stops
// the others. The post only reaches published when every platform took it.
func (s *publishService) PublishPost(ctx context.Context, postID int64) ([]*platform.PublishResult, error) {
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	// Another worker may have picked the post up already.
	if post.Status != models.PostStatusScheduled {
		slog.Info(fmt.Sprintf("post %d is %s, skipping publish", post.ID, post.Status))
		return nil, nil
	}

	if len(post.Platforms) == 0 {
		err = errors.New("post has no target platforms")
		slog.Info(err.Error())
		return nil, err
	}

	req, err := s.buildRequest(ctx, post)
	if err != nil {
		return nil, err
	}

	results := make([]*platform.PublishResult, len(post.Platforms))
	var wg sync.WaitGroup

	for i, platformName := range post.Platforms {
		wg.Add(1)
		go func(i int, platformName string) {
			defer wg.Done()
			results[i] = s.publishToPlatform(ctx, post.UserID, platformName, req)
		}(i, platformName)
	}
	wg.Wait()

	allSucceeded := true
	for _, result := range results {
		if !result.Success {
			allSucceeded = false
		}

		history := models.PostingHistory{
			UserID:       post.UserID,
			PostID:       post.ID,
			Platform:     result.Platform,
			Success:      result.Success,
			ExternalID:   result.ExternalID,
			ExternalURL:  result.ExternalURL,
			ErrorMessage: result.ErrorMessage(),
		}
		if _, err := s.ph.Create(ctx, &history); err != nil {
			slog.Info(err.Error())
		}
	}

	if allSucceeded {
		err = s.pr.MarkPublished(ctx, post.ID, time.Now())
	} else {
		err = s.pr.MarkFailed(ctx, post.ID)
	}
	if err != nil {
		return results, err
	}

	return results, nil
}

func (s *publishService) publishToPlatform(ctx context.Context, userID int64, platformName string, req *platform.PublishRequest) *platform.PublishResult {
	adapter, ok := s.registry.Get(platformName)
	if !ok {
		return &platform.PublishResult{
			Platform: platformName,
			Err:      fmt.Errorf("unknown platform %s", platformName),
		}
	}

	tokens, err := s.cs.GetForUse(ctx, userID, platformName)
	if err != nil {
		return &platform.PublishResult{Platform: platformName, Err: err}
	}

	result := adapter.Publish(ctx, req, tokens)

	// A 401/403 mid-use means the token is dead; flag the account so the
	// user is asked to reconnect instead of retrying with it.
	if platform.IsKind(result.Err, platform.KindAuthExchange) {
		if merr := s.cs.MarkUnauthorized(ctx, userID, platformName); merr != nil {
			slog.Info(merr.Error())
		}
	}

	return result
}

func (s *publishService) buildRequest(ctx context.Context, post *models.Post) (*platform.PublishRequest, error) {
	postMedia, err := s.pm.ListByPostID(ctx, post.ID)
	if err != nil {
		return nil, err
	}

	media := make([]platform.Media, 0, len(postMedia))
	for _, pm := range postMedia {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, fmt.Errorf("media asset %d doesn't exist", pm.AssetID)
		}
		media = append(media, platform.Media{
			URL:     asset.FileURL,
			AltText: pm.AltText,
		})
	}

	return &platform.PublishRequest{
		Text:           post.Content,
		Hashtags:       post.Hashtags,
		Media:          media,
		ContentWarning: post.ContentWarning,
	}, nil
}
