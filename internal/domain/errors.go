package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrBadPrice        = errors.New("non-positive price")
	ErrBadSize         = errors.New("non-positive size")
	ErrSpotUnavailable = errors.New("spot price unavailable")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
)
