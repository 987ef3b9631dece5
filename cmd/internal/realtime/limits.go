package realtime

import "time"

const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Command text is re-checked by the validator; this only bounds the frame.
	defaultMaxCommandRunes = 240
	defaultMaxCommandArgs  = 25
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection command rate (commands per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Commands received while one is running wait in this queue.
	commandQueueSize = 32

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 10 * time.Minute
	defaultAuthTimeout  = 10 * time.Second
	defaultExecTimeout  = 10 * time.Minute
	closeGrace          = 1 * time.Second

	maxPingFailures = 3

	defaultLogQueueSize = 1024
)
