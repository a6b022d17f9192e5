// Command sweeper expires overdue ephemeral media. It is meant for
// deployments where no API process runs long enough for the in-process
// timers to fire, e.g. as a cron job with --once.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	appRepos "github.com/yigit/clubchat/internal/app/repositories"
	appServices "github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/bootstrap"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/helpers"
	"github.com/yigit/clubchat/internal/pkg/logger"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	envFile := pflag.String("env-file", ".env", "optional .env file loaded before the environment")
	once := pflag.Bool("once", false, "run a single sweep and exit")
	interval := pflag.Duration("interval", 0, "sweep interval (defaults to chat.sweep_interval)")
	pflag.Parse()

	cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(*configPath, *envFile)
	if err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := bootstrap.SetupDatabase(ctx, cfg, lgr)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to setup database")
		os.Exit(1)
	}
	defer database.Close()

	blobs, err := bootstrap.SetupBlobStore(ctx, cfg, lgr)
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to setup blob store")
		os.Exit(1)
	}

	repos := appRepos.NewRepositories(database)
	expirer := appServices.NewExpirer(
		repos.Messages,
		repos.Chats,
		blobs,
		websocket.NewHub(logger.Component("websocket")), // no subscribers in this process
		clock.Real(),
		metrics.New(),
		cfg.Chat.EphemeralPlaceholder,
		logger.Component("expirer"),
	)
	defer expirer.Stop()

	every := *interval
	if every <= 0 {
		every = helpers.ParseDuration(cfg.Chat.SweepInterval, time.Minute)
	}

	if *once {
		expired := appServices.SweepOnce(ctx, expirer, every, lgr)
		lgr.Info().Int("expired", expired).Msg("Sweep finished")
		return
	}
	appServices.RunSweeper(ctx, expirer, clock.Real(), every, logger.Component("sweeper"))
}
