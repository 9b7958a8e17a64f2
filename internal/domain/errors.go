package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrConfirmTimeout      = errors.New("buy confirmation timed out")
	ErrOracleUnavailable   = errors.New("price oracle unavailable")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
)
