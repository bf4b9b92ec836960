package core

import (
	"errors"
	"time"
)

// Defaults applied when Options leaves a field zero
const (
	DefaultRequestTimeout  = 25 * time.Second
	DefaultMaxRequestBytes = 1 << 20
	DefaultWriteTimeout    = 10 * time.Second
)

// Bodies of the responses the runtime sends on its own
const (
	msgTimedOut   = "Request timed out"
	msgNotHandled = "Request could not be handled"
)

// Error definitions
var (
	ErrRequestTooLarge = errors.New("request exceeds size limit")
	ErrHandlerPanic    = errors.New("handler panicked")
	ErrAlreadyStarted  = errors.New("engine already started")
	ErrServerClosed    = errors.New("server closed")
	ErrReadTimeout     = errors.New("request not received in time")
	ErrWriteTimeout    = errors.New("socket write timed out")
)
