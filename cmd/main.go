package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/groupwatch/internal/config"
	"github.com/weiawesome/groupwatch/internal/events"
	watchgrpc "github.com/weiawesome/groupwatch/internal/grpc"
	"github.com/weiawesome/groupwatch/internal/handler"
	"github.com/weiawesome/groupwatch/internal/hub"
	"github.com/weiawesome/groupwatch/internal/metric"
	"github.com/weiawesome/groupwatch/internal/registry"
	"github.com/weiawesome/groupwatch/internal/room"
	"github.com/weiawesome/groupwatch/internal/service"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

const version = "0.3.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	logger.Info().
		Str("version", version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("starting groupwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PubSub is optional; without it the relay runs as a single instance.
	var ps pubsub.PubSub
	if cfg.PubSub.Enabled() {
		ps, err = pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			logger.Warn().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub, lifecycle export disabled")
			ps = nil
		} else {
			logger.Info().Str("driver", cfg.PubSub.Driver).Msg("pubsub connected")
		}
	}

	// Room advertisement
	var reg registry.Registry
	if cfg.Registry.Enabled {
		if cfg.Registry.AdvertiseAddress == "" {
			cfg.Registry.AdvertiseAddress = fmt.Sprintf("%s:%d", cfg.Log.InstanceID, cfg.Server.Port)
		}
		redisReg, err := registry.NewRedisRegistry(cfg.Registry)
		if err != nil {
			logger.Warn().Err(err).Str("address", cfg.Registry.Address).Msg("failed to connect room registry, advertisement disabled")
		} else {
			if err := redisReg.StartHeartbeat(ctx); err != nil {
				logger.Fatal().Err(err).Msg("failed to start registry heartbeat")
			}
			reg = redisReg
			logger.Info().Str("advertise", cfg.Registry.AdvertiseAddress).Msg("room registry connected")
		}
	}

	var publisher pubsub.Publisher
	var subscriber pubsub.Subscriber
	if ps != nil {
		publisher, subscriber = ps, ps
	}

	dispatcher := events.NewDispatcher(publisher, reg, cfg.Log.InstanceID, cfg.Events.QueueSize)
	go dispatcher.Run(ctx)

	// Room state
	connections := room.NewRegistry()
	directory := room.NewDirectory(connections, room.WithEventSink(dispatcher))

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	// Initialize service
	watchSvc := service.NewWatchService(connections, directory, subscriber, cfg.Room)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("operator commands disabled")
	}

	// gRPC health
	var grpcServer *watchgrpc.Server
	if cfg.GRPC.Enabled {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port)
		grpcServer, err = watchgrpc.StartGRPCServer(grpcAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), pkglog.GinMiddleware(logger), metric.GinMiddleware())

	httpHandler := handler.NewHTTPHandler(wsHub, directory, cfg.Room.MaxRoomIDLength, reg)
	httpHandler.RegisterRoutes(router)
	handler.NewWSHandler(wsHub, watchSvc, cfg.WebSocket).RegisterRoutes(router)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("address", server.Addr).Msg("groupwatch listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down groupwatch")
	httpHandler.SetDraining()
	if grpcServer != nil {
		grpcServer.Health.Shutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Closing every client runs the normal disconnect path; rooms must be
	// empty before the dispatcher flushes so their closed events go out.
	wsHub.Stop()
	waitForRooms(shutdownCtx, directory)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := watchSvc.Stop(); err != nil {
		logger.Error().Err(err).Msg("failed to stop watch service")
	}

	dispatcher.Close()

	var g errgroup.Group
	if reg != nil {
		g.Go(reg.Close)
	}
	if ps != nil {
		g.Go(ps.Close)
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("failed to close backends")
	}
	if grpcServer != nil {
		grpcServer.Shutdown()
	}

	logger.Info().Msg("groupwatch stopped")
}

func waitForRooms(ctx context.Context, directory *room.Directory) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for directory.Count() > 0 {
		select {
		case <-ctx.Done():
			l := pkglog.L()
			l.Warn().Int("rooms", directory.Count()).Msg("rooms still open at shutdown")
			return
		case <-ticker.C:
		}
	}
}
