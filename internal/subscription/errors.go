package subscription

import (
	"errors"
	"fmt"
)

// ValidationError is a caller mistake: bad or missing input, or an operation
// whose precondition does not hold. Its message is safe to show to users.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ErrAccountNotFound reports an unknown account id.
var ErrAccountNotFound = errors.New("account not found")

// ErrNoActiveSubscription reports that the account has no active gateway
// subscription to operate on.
var ErrNoActiveSubscription = errors.New("no active subscription")

// ErrNotCancelled is returned by Reactivate when the subscription is not
// marked for cancellation at period end.
var ErrNotCancelled = &ValidationError{Msg: "subscription is not marked for cancellation"}

// GatewayError is a terminal gateway failure: an unexpected response or an
// exhausted retry budget. The wrapped detail is for logs only; users get a
// generic message.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
