package config

import "time"

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerRequestTimeout  = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Redis
const (
	RedisPingTimeout = 5 * time.Second
)

// Websocket connection settings
const (
	SocketWriteTimeout   = 10 * time.Second
	SocketPongTimeout    = 60 * time.Second
	SocketPingInterval   = 25 * time.Second
	SocketMaxMessageSize = 16 * 1024
	SocketSendBuffer     = 64
)

// Rate limiting windows
const (
	MessageRateWindow = time.Minute
	UpgradeRateWindow = time.Minute
)
