package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redisCache "github.com/dailylift/dailylift/internal/cache/redis"
	"github.com/dailylift/dailylift/internal/domain"
	httpHandler "github.com/dailylift/dailylift/internal/handler/http"
	"github.com/dailylift/dailylift/internal/normalizer"
	"github.com/dailylift/dailylift/internal/persistant/postgresql"
	depositRepo "github.com/dailylift/dailylift/internal/repository/deposit"
	eventRepo "github.com/dailylift/dailylift/internal/repository/event"
	groupRepo "github.com/dailylift/dailylift/internal/repository/group"
	messageRepo "github.com/dailylift/dailylift/internal/repository/message"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
	"github.com/dailylift/dailylift/internal/schedule"
	"github.com/dailylift/dailylift/internal/service"
	"github.com/dailylift/dailylift/internal/statemachine"
	"gorm.io/gorm"
)

var (
	configFile = flag.String("config", "config.json", "config file path")
)

func main() {
	// create root context
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	// listen for terminate signal
	notifyCtx, stop := signal.NotifyContext(appCtx, syscall.SIGTERM)
	defer stop()

	// parse flags
	flag.Parse()

	// parse config
	config, err := ReadConfigJson(*configFile)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	// initialize external dependencies
	db, rClient, err := initExternalDependencies(notifyCtx, config)
	if err != nil {
		log.Fatalf("failed to initialize external dependencies: %v", err)
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// init repositories
	subscribers := subscriberRepo.NewSubscriberRepository(db)
	messages := messageRepo.NewMessageRepository(db)
	events := eventRepo.NewEventRepository(db)
	groups := groupRepo.NewGroupRepository(db)
	deposits := depositRepo.NewDepositRepository(db)

	// init core components
	norm := normalizer.New(subscribers, deposits,
		logger.With(slog.String("component", "normalizer")))
	machine := statemachine.New(subscribers, events, rClient,
		logger.With(slog.String("component", "stateMachine")))
	calculator := schedule.NewCalculator(groups, subscribers, messages,
		logger.With(slog.String("component", "calculator")))

	subscriptions := service.NewSubscriptionService(subscribers, messages, deposits,
		norm, machine, config.CryptoWallets,
		logger.With(slog.String("component", "subscriptions")))

	dispatcher := service.NewWebhookDispatcher(config.GatewayURL, config.DispatchTimeout)
	engine, err := service.NewDeliveryEngine(
		messages,
		subscribers,
		machine,
		dispatcher,
		rClient,
		logger.With(slog.String("component", "deliveryEngine")),
		&config.MsgMaxRetry,
		config.MsgBatchSize,
		config.PollInterval,
		config.MsgMaxAttempts,
	)
	if err != nil {
		log.Fatalf("failed to initiate delivery engine: %v", err)
	}

	// init http handler
	httpHandler := httpHandler.NewHttpHandler(
		fmt.Sprintf(":%d", config.HttpPort),
		subscriptions,
		calculator,
		engine,
		norm,
		machine,
		config.CryptoWebhookSecret,
	)

	// the poller runs from boot; /start and /stop remain available for admins
	engine.Start()

	wg := sync.WaitGroup{}
	// run http handler
	wg.Go(func() {
		if err := httpHandler.Run(); err != nil {
			logger.Error("http server encountered with an error and closed", "error", err.Error())
		}
		// cancel app context if http handler fails
		appCtxCancel()
	})

	// graceful shutdown
	wg.Go(func() {
		<-notifyCtx.Done()
		logger.Info("application shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		// stop the engine first so the in-flight mark-sent completes before
		// the process exits; a sent-but-unrecorded message would duplicate on
		// restart.
		engine.Stop()
		httpHandler.Shutdown(shutDownCtx)
		postgresql.Close(db)
	})

	wg.Wait()
	os.Exit(0)
}

func initExternalDependencies(ctx context.Context, config *Config) (db *gorm.DB, rCache *redisCache.RedisCache, err error) {
	// initialize database
	db, err = postgresql.Initialize(config.DbConnString, []any{
		&domain.Subscriber{},
		&domain.ScheduledMessage{},
		&domain.ProcessedEvent{},
		&domain.ServiceGroup{},
		&domain.GroupSlot{},
		&domain.PendingDeposit{},
	})
	if err != nil {
		return
	}

	// initialize cache
	rCache, err = redisCache.NewRedisCache(ctx, config.RedisAddr)

	return
}
