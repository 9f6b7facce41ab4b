package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/nileshdv/postmux/configs"
	"github.com/nileshdv/postmux/internal/api/handlers"
	"github.com/nileshdv/postmux/internal/api/middleware"
	job "github.com/nileshdv/postmux/internal/jobs"
	"github.com/nileshdv/postmux/internal/platform"
	"github.com/nileshdv/postmux/internal/queue"
	"github.com/nileshdv/postmux/internal/repository"
	"github.com/nileshdv/postmux/internal/scheduler"
	"github.com/nileshdv/postmux/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	registry := platform.NewRegistry(
		platform.NewInstagramAdapter(cfg.InstagramClientID, cfg.InstagramClientSecret),
		platform.NewFacebookAdapter(cfg.FacebookAppID, cfg.FacebookAppSecret),
		platform.NewBlueskyAdapter(cfg.BlueskyPDS),
		platform.NewMastodonAdapter(cfg.MastodonServer, cfg.MastodonClientID, cfg.MastodonClientSecret),
	)

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	postingHistoryRepo := repository.NewPostingHistoryRepository(db)
	apiKeyRepository := repository.NewApiKeyRepository(db)

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo)
	r2Service := service.NewR2Service(*cfg)
	postService := service.NewPostService(db, postRepo, mediaAssetRepo, postMediaRepo, postingHistoryRepo, registry, r2Service)
	platformService := service.NewPlatformService(*cfg, socialAccountRepo, registry)
	credentialService := service.NewCredentialService(*cfg, socialAccountRepo, registry)
	publishService := service.NewPublishService(postRepo, postMediaRepo, mediaAssetRepo, postingHistoryRepo, credentialService, registry)
	apiKeyService := service.NewApiKeyService(apiKeyRepository)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService, userService)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	platformH := handlers.NewPlatformHandler(platformService, *cfg)
	app.Get("/auth/:platform", platformH.AddSocialAccount)
	app.Get("/auth/:platform/callback", platformH.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	post := handlers.NewPostHandler(postService, client)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/history", post.PostingHistory)
	api.Post("/posts/reschedule", post.ReschedulePost)
	api.Post("/posts/remove", post.RemovePost)

	// social accounts api routes
	api.Get("/accounts", platformH.ListSocialAccounts)
	api.Post("/accounts/bluesky", platformH.ConnectBluesky)
	api.Post("/accounts/remove", platformH.DeleteSocialAccount)

	// scheduled post sweeps
	daemon := scheduler.NewDaemon(postRepo, publishService, cfg.SchedulerInterval, cfg.SchedulerWorkers, nil)
	daemon.Start()

	schedulerH := handlers.NewSchedulerHandler(daemon)
	admin := api.Group("/scheduler")
	admin.Use(authMiddleware.RequireAdmin())
	admin.Get("/status", schedulerH.Status)
	admin.Post("/start", schedulerH.Start)
	admin.Post("/stop", schedulerH.Stop)
	admin.Post("/trigger", schedulerH.TriggerBatch)
	admin.Post("/reset", schedulerH.ResetStats)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, credentialService)

	//queue
	queueW := queue.NewQueue(publishService)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueW.HandlePublishPostTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db, daemon)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB, daemon *scheduler.Daemon) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	daemon.Stop()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
