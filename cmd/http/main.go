package main

import (
	"context"
	"expvar"
	"log"
	"runtime"

	"github.com/kidsstream/watchparty/internal/infrastructure/configs"
	"github.com/kidsstream/watchparty/internal/infrastructure/events"
	"github.com/kidsstream/watchparty/internal/infrastructure/messaging"
	"github.com/kidsstream/watchparty/internal/infrastructure/ratelimiter"
	"github.com/kidsstream/watchparty/internal/infrastructure/registry"
	"github.com/kidsstream/watchparty/internal/infrastructure/tracing"
	"github.com/kidsstream/watchparty/internal/infrastructure/ws"
	"github.com/kidsstream/watchparty/internal/presentation/api"
	"github.com/kidsstream/watchparty/internal/presentation/handler/health"
	"github.com/kidsstream/watchparty/internal/presentation/handler/rooms"
	"go.uber.org/zap"
)

const (
	serviceName = "watchparty-api"
)

func main() {
	tracerCfg := tracing.NewDefaultConfig(serviceName)

	sh, err := tracing.InitTracer(tracerCfg)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sh(ctx)

	logger := zap.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	configPath := configs.DetermineConfigPath()
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	var publisher events.RoomPublisher = events.NopPublisher{}
	if cfg.AMQP.Enabled {
		rabbitmq, err := messaging.NewRabbitMQ(cfg.AMQP.URI)
		if err != nil {
			log.Fatal(err)
		}
		defer rabbitmq.Close()

		logger.Infow("connected to RabbitMQ")
		publisher = events.NewRoomPublisher(rabbitmq, func(err error) {
			logger.Warnw("failed to publish party event", "err", err)
		})
	}

	reg := registry.New(cfg.Party.MaxRooms, cfg.Party.MaxParticipants, cfg.Party.InviteCodeLength)

	roomManager := ws.NewRoomManager(reg, publisher, logger, ws.Options{
		SendBuffer:       cfg.Party.SendBuffer,
		HeartbeatTimeout: cfg.Party.HeartbeatTimeout,
		IdleExpiry:       cfg.Party.IdleExpiry,
	})
	go roomManager.RunJanitor(ctx)

	roomHandler := rooms.NewHandler(roomManager, logger)
	healthHandler := health.NewHandler()

	rl := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.RequestsPerTimeFrame, cfg.RateLimiter.TimeFrame)
	defer rl.Close()

	app := api.NewApplication(*cfg, *roomHandler, *healthHandler, logger, rl)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	logger.Fatal(app.Run(mux))
}
