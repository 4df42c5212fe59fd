package domain

import "fmt"

// Code is the stable machine-readable rejection reason reported to callers.
// Codes are part of the external contract and surface verbatim through the
// HTTP layer.
type Code string

// Rejection reason codes.
const (
	CodeEmptyPath            Code = "EmptyPath"
	CodePriceUnderLimit      Code = "PriceUnderLimit"
	CodeCapacityUnderLimit   Code = "CapacityUnderLimit"
	CodeBlueprintsUnderLimit Code = "BlueprintsUnderLimit"
	CodeInvalidAddress       Code = "InvalidAddress"
	CodeInvalidId            Code = "InvalidId"
	CodeInvalidBlueprintId   Code = "InvalidBlueprintId"
	CodeInvalidTokenId       Code = "InvalidTokenId"
	CodeInvalidCollection    Code = "InvalidCollection"
	CodeInvalidAmount        Code = "InvalidAmount"
	CodeInvalidRequestId     Code = "InvalidRequestId"
	CodeAlreadyFulfilled     Code = "AlreadyFulfilled"
	CodeUnauthorized         Code = "Unauthorized"
	CodeUnauthorizedCaller   Code = "UnauthorizedCaller"
)

// ValidationError rejects an operation synchronously before any state change.
type ValidationError struct {
	Code    Code
	Message string
}

func (e ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError reports a reference to an entity or request that does not
// exist.
type NotFoundError struct {
	Code   Code
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s not found", e.Code, e.Entity, e.ID)
}

// AuthorizationError rejects a caller that is not the configured principal
// for a restricted entry point.
type AuthorizationError struct {
	Code   Code
	Caller Address
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("%s: caller %s", e.Code, e.Caller)
}

// FulfillmentError reports a callback that cannot be consumed, such as a
// replay against an already fulfilled order. No state is mutated.
type FulfillmentError struct {
	Code      Code
	RequestID RequestID
}

func (e FulfillmentError) Error() string {
	return fmt.Sprintf("%s: request %s", e.Code, e.RequestID)
}

// ErrorCode extracts the rejection code from any domain error, or empty when
// the error carries none.
func ErrorCode(err error) Code {
	switch e := err.(type) {
	case ValidationError:
		return e.Code
	case NotFoundError:
		return e.Code
	case AuthorizationError:
		return e.Code
	case FulfillmentError:
		return e.Code
	}
	return ""
}
