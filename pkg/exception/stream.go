package exception

import "errors"

// Private stream errors
var (
	ErrStreamAuthRejected      = errors.New("stream: auth rejected")
	ErrStreamSubscribeRejected = errors.New("stream: subscribe rejected")
	ErrStreamUnknownTopic      = errors.New("stream: unknown topic")
)
