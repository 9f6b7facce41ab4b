package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/nileshdv/postmux/internal/models"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostInfo, error)
	History(ctx context.Context, userID int64) ([]*models.PostingHistory, error)
	Reschedule(ctx context.Context, userID, postID int64, pr *transfer.PostReschedule) error
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db       *sql.DB
	pr       repository.PostRepository
	ma       repository.MediaAssetRepository
	pm       repository.PostMediaRepository
	ph       repository.PostingHistoryRepository
	registry *platform.Registry
	r2       *R2Service
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	ph repository.PostingHistoryRepository,
	registry *platform.Registry,
	r2 *R2Service) PostService {
	return &postService{
		db:       db,
		pr:       pr,
		ma:       ma,
		pm:       pm,
		ph:       ph,
		registry: registry,
		r2:       r2,
	}
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, err
	}
	if pc.Content == "" {
		err := errors.New("content cannot be empty")
		slog.Info(err.Error())
		return 0, err
	}
	if len(pc.Platforms) == 0 {
		err := errors.New("no platforms selected")
		slog.Error(err.Error())
		return 0, err
	}

	if err := s.validatePlatforms(pc.Platforms, len(files)); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	scheduledTime := pc.ScheduledTime
	if pc.PublishNow || scheduledTime.IsZero() {
		scheduledTime = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:         userID,
		Content:        pc.Content,
		Platforms:      pc.Platforms,
		Hashtags:       pc.Hashtags,
		ContentWarning: pc.ContentWarning,
		ScheduledTime:  scheduledTime,
		Status:         models.PostStatusScheduled,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.processFiles(ctx, tx, userID, postID, files, pc.AltTexts); err != nil {
		return 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return postID, nil
}

// validatePlatforms rejects unknown platforms and posts that can't satisfy
// a target's media rules before anything is written.
func (s *postService) validatePlatforms(platforms []string, fileCount int) error {
	for _, platformName := range platforms {
		adapter, ok := s.registry.Get(platformName)
		if !ok {
			return fmt.Errorf("unknown platform %s", platformName)
		}

		limits := adapter.Limits()
		if limits.RequiresMedia && fileCount == 0 {
			return fmt.Errorf("%s requires at least one media file", platformName)
		}
		if limits.MaxMedia > 0 && fileCount > limits.MaxMedia {
			return fmt.Errorf("%s allows at most %d media files", platformName, limits.MaxMedia)
		}
	}
	return nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader, altTexts []string) error {
	allowedTypes := map[string]struct{}{
		"jpeg": {}, "png": {}, "jpg": {}, "gif": {}, "webp": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		var altText string
		if i < len(altTexts) {
			altText = altTexts[i]
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
			AltText:      altText,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		log.Println(err.Error())
		return 0, err
	}
	err = s.r2.UploadToR2(ctx, id, file, fileType)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostInfo, error) {
	var err error

	if userID == 0 {
		err = errors.New("User is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil || post == nil {
		return nil, fmt.Errorf("Error getting post info")
	}

	info := transfer.PostInfo{
		ID:             post.ID,
		Content:        post.Content,
		Platforms:      post.Platforms,
		Hashtags:       post.Hashtags,
		ContentWarning: post.ContentWarning,
		Status:         post.Status,
		ScheduledTime:  post.ScheduledTime,
	}
	if post.PublishedAt.Valid {
		info.PublishedAt = &post.PublishedAt.Time
	}

	postMedia, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post media")
	}
	for _, pm := range postMedia {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil || asset == nil {
			continue
		}
		info.Media = append(info.Media, transfer.PostMediaInfo{
			URL:          asset.FileURL,
			AltText:      pm.AltText,
			DisplayOrder: pm.DisplayOrder,
		})
	}

	history, err := s.ph.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posting history")
	}
	for _, entry := range history {
		info.History = append(info.History, transfer.PlatformOutcome{
			Platform:     entry.Platform,
			Success:      entry.Success,
			ExternalID:   entry.ExternalID,
			ExternalURL:  entry.ExternalURL,
			ErrorMessage: entry.ErrorMessage,
			CreatedAt:    entry.CreatedAt,
		})
	}

	return &info, nil
}

func (s *postService) History(ctx context.Context, userID int64) ([]*models.PostingHistory, error) {
	history, err := s.ph.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posting history")
	}
	return history, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posts")
	}
	return posts, nil
}

// Reschedule moves a failed post back into the scheduled queue. The
// platform list may be narrowed to just the targets that failed.
func (s *postService) Reschedule(ctx context.Context, userID, postID int64, pr *transfer.PostReschedule) error {
	var err error

	if userID == 0 {
		err = errors.New("User is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	for _, platformName := range pr.Platforms {
		if _, ok := s.registry.Get(platformName); !ok {
			err = fmt.Errorf("unknown platform %s", platformName)
			slog.Info(err.Error())
			return err
		}
	}

	scheduledTime := pr.ScheduledTime
	if scheduledTime.IsZero() {
		scheduledTime = time.Now()
	}

	err = s.pr.Reschedule(ctx, postID, scheduledTime, pr.Platforms)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return errors.New("only failed posts can be rescheduled")
		}
		return fmt.Errorf("Error rescheduling post")
	}

	return nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("User is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	err = s.pr.Remove(ctx, postID)
	if err != nil {
		return fmt.Errorf("Error removing post")
	}

	return nil
}
