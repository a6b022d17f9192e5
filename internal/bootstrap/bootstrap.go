package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	appControllers "github.com/yigit/clubchat/internal/app/controllers"
	appMigrations "github.com/yigit/clubchat/internal/app/migrations"
	appRepos "github.com/yigit/clubchat/internal/app/repositories"
	appRoutes "github.com/yigit/clubchat/internal/app/routes"
	appServices "github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/config"
	"github.com/yigit/clubchat/internal/db"
	appMiddleware "github.com/yigit/clubchat/internal/middleware"
	pkgAuth "github.com/yigit/clubchat/internal/pkg/auth"
	"github.com/yigit/clubchat/internal/pkg/blobstore"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/helpers"
	"github.com/yigit/clubchat/internal/pkg/logger"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/push"
	"github.com/yigit/clubchat/internal/pkg/unreadcache"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

// Infrastructure holds the external connections of the process
type Infrastructure struct {
	DB      *db.PostgresDB
	Redis   *redis.Client // nil when the unread cache is unavailable
	Blobs   *blobstore.Storage
	Push    *push.Gateway
	Hub     *websocket.Hub
	Metrics *metrics.Metrics
}

// Close releases every connection. It is safe on a partially built value.
func (i *Infrastructure) Close(lgr zerolog.Logger) {
	if i.Push != nil {
		if err := i.Push.Close(); err != nil {
			lgr.Error().Err(err).Msg("Failed to close push gateway")
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			lgr.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

// Dependencies holds all the application services and controllers
type Dependencies struct {
	Chats         appServices.ChatDirectory
	Messages      appServices.MessageStore
	Polls         appServices.PollEngine
	Unread        appServices.UnreadTracker
	Notifications appServices.NotificationDispatcher
	Expirer       appServices.Expirer
	Background    *appServices.Background

	Controllers    appRoutes.Controllers
	AuthMiddleware *appMiddleware.AuthMiddleware
	Repos          *appRepos.Repositories
	JWTService     *pkgAuth.JWTService
	Logger         zerolog.Logger
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger(configPath string, envFiles ...string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configPath, envFiles...)
	if err != nil {
		logger.Error().Err(err).Str("path", configPath).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	lgr := logger.Configure(logger.Config{
		Level:   logLevel,
		Pretty:  strings.ToLower(cfg.Logging.Format) == "text",
		Service: cfg.Telemetry.ServiceName,
	})

	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase establishes the database connection and runs migrations.
func SetupDatabase(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*db.PostgresDB, error) {
	lgr.Info().Msg("Establishing database connection...")
	database, err := db.NewPostgresDB(ctx, cfg, lgr)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")

	migrationsDir := cfg.Database.MigrationsDir
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		database.Close()
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	lgr.Info().Msg("Running database migrations...")
	migrator := appMigrations.NewMigrator(database, lgr)
	if err := migrator.MigrateFromDirectory(ctx, migrationsDir); err != nil {
		database.Close()
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Msg("Database migrations successfully applied.")

	return database, nil
}

// SetupRedis connects the unread cache. Counts fall back to the database
// when redis cannot be reached, so a failed ping only logs a warning.
func SetupRedis(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		lgr.Warn().Msg("Redis address not configured, unread cache disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		lgr.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, unread cache disabled")
		rdb.Close()
		return nil
	}
	lgr.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	return rdb
}

// SetupBlobStore connects the media bucket and creates it when missing
func SetupBlobStore(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*blobstore.Storage, error) {
	storage, err := blobstore.New(blobstore.Config{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := storage.EnsureBucket(ctx); err != nil {
		lgr.Error().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("Failed to prepare media bucket")
		return nil, err
	}
	lgr.Info().Str("bucket", cfg.Storage.Bucket).Msg("Media bucket ready")
	return storage, nil
}

// SetupInfrastructure opens every external connection the services need
func SetupInfrastructure(ctx context.Context, cfg *config.Config, lgr zerolog.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{Metrics: metrics.New()}

	database, err := SetupDatabase(ctx, cfg, lgr)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	infra.DB = database

	infra.Redis = SetupRedis(ctx, cfg, lgr)

	infra.Blobs, err = SetupBlobStore(ctx, cfg, lgr)
	if err != nil {
		infra.Close(lgr)
		return nil, fmt.Errorf("failed to setup blob store: %w", err)
	}

	infra.Push = push.NewGateway(cfg.KafkaBrokers(), cfg.Kafka.PushTopic)

	infra.Hub = websocket.NewHub(logger.Component("websocket"))
	infra.Hub.OnConnection(infra.Metrics.SubscriberConnected, infra.Metrics.SubscriberDisconnected)

	return infra, nil
}

// BuildDependencies initializes application repositories, services, and controllers.
func BuildDependencies(cfg *config.Config, infra *Infrastructure, clk clock.Clock, lgr zerolog.Logger) *Dependencies {
	deps := &Dependencies{Logger: lgr}

	deps.Repos = appRepos.NewRepositories(infra.DB)
	deps.Background = appServices.NewBackground(helpers.ParseDuration(cfg.Chat.FanoutTimeout, 30*time.Second))

	var counter appServices.UnreadCounter
	if infra.Redis != nil {
		counter = unreadcache.New(infra.Redis, helpers.ParseDuration(cfg.Redis.UnreadTTL, 7*24*time.Hour))
	}

	deps.Notifications = appServices.NewNotificationDispatcher(
		deps.Repos.Notifications,
		deps.Repos.Push,
		infra.Push,
		infra.Hub,
		clk,
		infra.Metrics,
		cfg.Chat.FanoutConcurrency,
		logger.Component("notifications"),
	)

	deps.Unread = appServices.NewUnreadTracker(
		deps.Repos.Chats,
		deps.Repos.Messages,
		deps.Repos.ReadCursors,
		counter,
		deps.Repos.Notifications,
		clk,
		infra.Metrics,
		logger.Component("unread"),
	)

	deps.Expirer = appServices.NewExpirer(
		deps.Repos.Messages,
		deps.Repos.Chats,
		infra.Blobs,
		infra.Hub,
		clk,
		infra.Metrics,
		cfg.Chat.EphemeralPlaceholder,
		logger.Component("expirer"),
	)

	deps.Chats = appServices.NewChatDirectory(
		deps.Repos.Chats,
		deps.Unread,
		deps.Notifications,
		infra.Hub,
		deps.Background,
		clk,
		logger.Component("chats"),
	)

	deps.Messages = appServices.NewMessageStore(
		deps.Repos.Chats,
		deps.Repos.Messages,
		infra.Blobs,
		deps.Expirer,
		deps.Unread,
		deps.Notifications,
		infra.Hub,
		deps.Background,
		clk,
		infra.Metrics,
		cfg.Chat.PageSize,
		logger.Component("messages"),
	)

	deps.Polls = appServices.NewPollEngine(
		deps.Repos.Chats,
		deps.Repos.Messages,
		deps.Messages,
		infra.Hub,
		clk,
		infra.Metrics,
		logger.Component("polls"),
	)

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:   cfg.JWT.Secret,
		TokenIssuer: cfg.JWT.Issuer,
	})
	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)

	deps.Controllers = appRoutes.Controllers{
		Chats:         appControllers.NewChatController(deps.Chats, deps.Unread),
		Messages:      appControllers.NewMessageController(deps.Messages, deps.Expirer, int64(cfg.Storage.MaxUploadMB)<<20),
		Polls:         appControllers.NewPollController(deps.Polls),
		Notifications: appControllers.NewNotificationController(deps.Notifications, deps.Unread),
		Streams: appControllers.NewStreamController(
			websocket.NewHandler(infra.Hub, logger.Component("websocket")),
			deps.Chats,
			deps.Messages,
			deps.Unread,
			deps.Notifications,
		),
	}

	return deps
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, m *metrics.Metrics, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		appMiddleware.RequestLogger(logger.Component("http")),
		appMiddleware.Metrics(m),
	)

	appRoutes.SetupRouter(router, deps.Controllers, deps.AuthMiddleware, m.Handler())

	return router
}
