package idle

import "errors"

var (
	errWarningNotPositive = errors.New("idle warning duration must be positive")
	errWarningTooLong     = errors.New("idle warning duration must be shorter than the timeout")
	errThrottleNegative   = errors.New("idle signal throttle must not be negative")
)
