package main

import "time"

type Config struct {
	Host           string `env:"HOST,default=localhost"`
	Port           int    `env:"PORT,default=8080"`
	HealthGrpcPort int    `env:"HEALTH_GRPC_PORT,default=8081"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	AuthSecret       string `env:"AUTH_SECRET,required=true"`
	DirectoryBaseURL string `env:"DIRECTORY_BASE_URL,required=true"`
	DirectoryToken   string `env:"DIRECTORY_SERVICE_TOKEN,required=true"`

	BufferSize           int           `env:"BUFFER_SIZE,default=256"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	UpstreamTimeout      time.Duration `env:"UPSTREAM_TIMEOUT,default=5s"`
	HeartbeatTimeout     time.Duration `env:"HEARTBEAT_TIMEOUT,default=45s"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL,default=5s"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=6s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`

	BadgerFilepath   string        `env:"BADGER_FILEPATH,required=true"`
	PersistQueueSize int           `env:"PERSIST_QUEUE_SIZE,default=1024"`
	PersistAttempts  int           `env:"PERSIST_ATTEMPTS,default=3"`
	PersistBackoff   time.Duration `env:"PERSIST_BACKOFF,default=250ms"`

	EnableModeration bool   `env:"ENABLE_MODERATION,default=true"`
	MaskCharacter    string `env:"MASK_CHARACTER,default=*"`
}
