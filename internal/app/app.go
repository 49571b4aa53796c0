package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sessiondj/peer/internal/controller"
	"github.com/sessiondj/peer/internal/domain"
	"github.com/sessiondj/peer/internal/player"
	"github.com/sessiondj/peer/internal/replicator"
	"github.com/sessiondj/peer/internal/state"
	storeRedis "github.com/sessiondj/peer/internal/store/redis"
	"github.com/sessiondj/peer/internal/transport/ws"
	"github.com/sessiondj/peer/pkg/ctxlogger"
	"github.com/sessiondj/peer/pkg/redisclient"
)

type AppConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	RelayURL    string `json:"relay_url"`
	WorldId     string `json:"world_id"`
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsOwner     bool   `json:"is_owner"`

	QueueMode         string  `json:"queue_mode"`
	HeartbeatInterval int     `json:"heartbeat_interval_seconds"`
	GraceWindow       int     `json:"grace_window_seconds"`
	MissedThreshold   int     `json:"missed_threshold"`
	DriftTolerance    float64 `json:"drift_tolerance_seconds"`

	LogLevel      string `json:"log_level"`
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.RelayURL == "" {
		return fmt.Errorf("relay url must be set")
	}
	if cfg.WorldId == "" {
		return fmt.Errorf("world id must be set")
	}
	if cfg.DisplayName == "" {
		return fmt.Errorf("display name must be set")
	}
	if cfg.QueueMode != string(domain.QueueModeSingleLeader) && cfg.QueueMode != string(domain.QueueModeCollaborative) {
		return fmt.Errorf("unknown queue mode: %s", cfg.QueueMode)
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}
	logger := slog.New(&h)

	identity := domain.Identity{
		UserId:      cfg.UserId,
		DisplayName: cfg.DisplayName,
		IsOwner:     cfg.IsOwner,
	}
	if identity.UserId == "" {
		identity.UserId = uuid.NewString()
	}

	rc, err := redisclient.New(&redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	durable := storeRedis.NewRepo(rc, cfg.WorldId, 24*14*time.Hour)

	st := state.New(&state.Config{
		QueueMode:      domain.QueueMode(cfg.QueueMode),
		DriftTolerance: cfg.DriftTolerance,
	})

	replicatorCfg := replicator.Config{
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval) * time.Second,
		GraceWindow:       time.Duration(cfg.GraceWindow) * time.Second,
		MissedThreshold:   cfg.MissedThreshold,
	}
	if err := replicatorCfg.Validate(); err != nil {
		return err
	}

	client, err := ws.Dial(ctx, cfg.RelayURL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	pc := player.Unattached{}

	session := replicator.NewSessionReplicator(st, client, durable, identity, &replicatorCfg, logger)
	heartbeat := replicator.NewHeartbeatSynchronizer(st, client, pc, session, identity, &replicatorCfg, logger)
	queue := replicator.NewQueueReplicator(st, client, durable, pc, heartbeat, identity, logger)

	st.OnLeaderChanged(func(oldId, newId string) {
		heartbeat.LeadershipChanged(newId)
	})

	if err := session.LoadFromDurable(ctx); err != nil {
		logger.InfoContext(ctx, "failed to load durable snapshot", "error", err)
	}

	mux := replicator.NewRouter(session, queue, heartbeat)

	serverCtx, serverStopCtx := context.WithCancel(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- client.Serve(serverCtx, mux)
	}()

	if err := session.Join(serverCtx); err != nil {
		logger.InfoContext(serverCtx, "failed to announce join", "error", err)
	}

	ctrl := controller.NewController(session, queue, heartbeat, st, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: ctrl.Mux()}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		select {
		case <-sig:
		case err := <-serveErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay connection lost", "error", err)
			}
		}

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := session.Leave(shutdownCtx); err != nil {
			logger.InfoContext(shutdownCtx, "failed to announce leave", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting peer", "address", server.Addr, "user_id", identity.UserId)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
