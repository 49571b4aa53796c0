package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sessiondj/peer/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "PEER_HOST",
		flagKey:      "host",
		defaultValue: "127.0.0.1",
	}
	port = configVar[int]{
		envKey:       "PEER_PORT",
		flagKey:      "port",
		defaultValue: 8420,
	}
	relayURL = configVar[string]{
		envKey:       "PEER_RELAY_URL",
		flagKey:      "relay-url",
		defaultValue: "",
	}
	worldId = configVar[string]{
		envKey:       "PEER_WORLD_ID",
		flagKey:      "world-id",
		defaultValue: "",
	}
	userId = configVar[string]{
		envKey:       "PEER_USER_ID",
		flagKey:      "user-id",
		defaultValue: "",
	}
	displayName = configVar[string]{
		envKey:       "PEER_DISPLAY_NAME",
		flagKey:      "display-name",
		defaultValue: "",
	}
	isOwner = configVar[bool]{
		envKey:       "PEER_IS_OWNER",
		flagKey:      "is-owner",
		defaultValue: false,
	}
	queueMode = configVar[string]{
		envKey:       "PEER_QUEUE_MODE",
		flagKey:      "queue-mode",
		defaultValue: "single-leader",
	}
	heartbeatInterval = configVar[int]{
		envKey:       "PEER_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 5,
	}
	graceWindow = configVar[int]{
		envKey:       "PEER_GRACE_WINDOW",
		flagKey:      "grace-window",
		defaultValue: 30,
	}
	missedThreshold = configVar[int]{
		envKey:       "PEER_MISSED_THRESHOLD",
		flagKey:      "missed-threshold",
		defaultValue: 3,
	}
	driftTolerance = configVar[float64]{
		envKey:       "PEER_DRIFT_TOLERANCE",
		flagKey:      "drift-tolerance",
		defaultValue: 2.0,
	}
	logLevel = configVar[string]{
		envKey:       "PEER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Local API host")
	pflag.Int(port.flagKey, port.defaultValue, "Local API port")
	pflag.String(relayURL.flagKey, relayURL.defaultValue, "Broadcast relay websocket URL")
	pflag.String(worldId.flagKey, worldId.defaultValue, "World id shared by all peers in the session")
	pflag.String(userId.flagKey, userId.defaultValue, "Local user id, generated when empty")
	pflag.String(displayName.flagKey, displayName.defaultValue, "Local display name")
	pflag.Bool(isOwner.flagKey, isOwner.defaultValue, "Whether the local peer is the session owner")
	pflag.String(queueMode.flagKey, queueMode.defaultValue, "Queue mode: single-leader or collaborative")
	pflag.Int(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, "Leader heartbeat interval in seconds")
	pflag.Int(graceWindow.flagKey, graceWindow.defaultValue, "Eviction grace window in seconds")
	pflag.Int(missedThreshold.flagKey, missedThreshold.defaultValue, "Missed heartbeats before eviction")
	pflag.Float64(driftTolerance.flagKey, driftTolerance.defaultValue, "Playback drift tolerance in seconds")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(relayURL.flagKey, relayURL.envKey)
	viper.BindEnv(worldId.flagKey, worldId.envKey)
	viper.BindEnv(userId.flagKey, userId.envKey)
	viper.BindEnv(displayName.flagKey, displayName.envKey)
	viper.BindEnv(isOwner.flagKey, isOwner.envKey)
	viper.BindEnv(queueMode.flagKey, queueMode.envKey)
	viper.BindEnv(heartbeatInterval.flagKey, heartbeatInterval.envKey)
	viper.BindEnv(graceWindow.flagKey, graceWindow.envKey)
	viper.BindEnv(missedThreshold.flagKey, missedThreshold.envKey)
	viper.BindEnv(driftTolerance.flagKey, driftTolerance.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)

	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(relayURL.flagKey, relayURL.defaultValue)
	viper.SetDefault(worldId.flagKey, worldId.defaultValue)
	viper.SetDefault(userId.flagKey, userId.defaultValue)
	viper.SetDefault(displayName.flagKey, displayName.defaultValue)
	viper.SetDefault(isOwner.flagKey, isOwner.defaultValue)
	viper.SetDefault(queueMode.flagKey, queueMode.defaultValue)
	viper.SetDefault(heartbeatInterval.flagKey, heartbeatInterval.defaultValue)
	viper.SetDefault(graceWindow.flagKey, graceWindow.defaultValue)
	viper.SetDefault(missedThreshold.flagKey, missedThreshold.defaultValue)
	viper.SetDefault(driftTolerance.flagKey, driftTolerance.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)

	return &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		RelayURL:          viper.GetString(relayURL.flagKey),
		WorldId:           viper.GetString(worldId.flagKey),
		UserId:            viper.GetString(userId.flagKey),
		DisplayName:       viper.GetString(displayName.flagKey),
		IsOwner:           viper.GetBool(isOwner.flagKey),
		QueueMode:         viper.GetString(queueMode.flagKey),
		HeartbeatInterval: viper.GetInt(heartbeatInterval.flagKey),
		GraceWindow:       viper.GetInt(graceWindow.flagKey),
		MissedThreshold:   viper.GetInt(missedThreshold.flagKey),
		DriftTolerance:    viper.GetFloat64(driftTolerance.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting peer with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
