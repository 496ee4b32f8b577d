package heartbeat

import "errors"

var (
	ErrNotHeartbeat   = errors.New("message is not a heartbeat signal")
	ErrMonitorClosed  = errors.New("heartbeat monitor closed")
	ErrProtocolTagSet = errors.New("protocol tag already set")
	ErrMissingSpark   = errors.New("spark is required")
	ErrSparkExists    = errors.New("spark already registered")
	ErrSparkNotFound  = errors.New("spark not registered")
)
