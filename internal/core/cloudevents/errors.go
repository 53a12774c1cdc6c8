package cloudevents

import (
	"errors"
	"fmt"
	"time"
)

// Listener return errors controlling the delivery lifecycle of remote
// events.

var (
	// ErrRetry signals that the message should be retried with the default
	// backoff.
	ErrRetry = errors.New("chassis: retry message")

	// ErrDeadLetter signals that the message should go to the poison queue
	// without further retry attempts.
	ErrDeadLetter = errors.New("chassis: send to poison queue")

	// ErrSkip signals that the message should be acknowledged without
	// processing, for example a recognized duplicate.
	ErrSkip = errors.New("chassis: skip message")

	// ErrUnprocessable signals that the message is permanently invalid.
	ErrUnprocessable = errors.New("chassis: unprocessable message")
)

// RetryAfterError asks for a retry after a specific delay.
type RetryAfterError struct {
	Delay time.Duration
	Cause error
}

// ErrRetryAfter builds a RetryAfterError.
//
//	return cloudevents.ErrRetryAfter(5*time.Second, nil)
//	return cloudevents.ErrRetryAfter(time.Minute, fmt.Errorf("rate limited"))
func ErrRetryAfter(delay time.Duration, cause error) *RetryAfterError {
	return &RetryAfterError{Delay: delay, Cause: cause}
}

func (e *RetryAfterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chassis: retry after %v: %v", e.Delay, e.Cause)
	}
	return fmt.Sprintf("chassis: retry after %v", e.Delay)
}

func (e *RetryAfterError) Unwrap() error { return e.Cause }

func (e *RetryAfterError) Is(target error) bool {
	if target == ErrRetry {
		return true
	}
	_, ok := target.(*RetryAfterError)
	return ok
}

// DeadLetterError sends a message to the poison queue with a reason.
type DeadLetterError struct {
	Reason string
	Cause  error
}

// ErrDeadLetterWithReason builds a DeadLetterError.
func ErrDeadLetterWithReason(reason string, cause error) *DeadLetterError {
	return &DeadLetterError{Reason: reason, Cause: cause}
}

func (e *DeadLetterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("chassis: dead letter (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("chassis: dead letter (%s)", e.Reason)
}

func (e *DeadLetterError) Unwrap() error { return e.Cause }

func (e *DeadLetterError) Is(target error) bool {
	if target == ErrDeadLetter {
		return true
	}
	_, ok := target.(*DeadLetterError)
	return ok
}

// HandlerResult is the delivery outcome derived from a listener error.
type HandlerResult int

const (
	// ResultAck acknowledges the message.
	ResultAck HandlerResult = iota

	// ResultRetry retries with the default backoff.
	ResultRetry

	// ResultRetryAfter retries after a delay.
	ResultRetryAfter

	// ResultDeadLetter routes to the poison queue.
	ResultDeadLetter

	// ResultSkip acknowledges without processing.
	ResultSkip
)

// ClassifyError maps a listener error to a delivery outcome. RetryAfter
// outcomes also carry the requested delay. Unknown errors retry.
func ClassifyError(err error) (HandlerResult, time.Duration) {
	if err == nil {
		return ResultAck, 0
	}

	var retryAfter *RetryAfterError
	if errors.As(err, &retryAfter) {
		return ResultRetryAfter, retryAfter.Delay
	}

	if errors.Is(err, ErrDeadLetter) {
		return ResultDeadLetter, 0
	}
	if errors.Is(err, ErrSkip) {
		return ResultSkip, 0
	}
	if errors.Is(err, ErrUnprocessable) {
		return ResultDeadLetter, 0
	}
	if errors.Is(err, ErrRetry) {
		return ResultRetry, 0
	}

	return ResultRetry, 0
}

// IsRetryable reports whether the message should be delivered again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	result, _ := ClassifyError(err)
	return result == ResultRetry || result == ResultRetryAfter
}

// ShouldDeadLetter reports whether the message belongs on the poison queue.
func ShouldDeadLetter(err error) bool {
	if err == nil {
		return false
	}
	result, _ := ClassifyError(err)
	return result == ResultDeadLetter
}
