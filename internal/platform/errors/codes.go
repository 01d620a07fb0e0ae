// Package errors provides structured, coded errors for the listings engine.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization errors
	CodeNotAuthorized   Code = "NOT_AUTHORIZED"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Listing errors
	CodeIncorrectConfiguration Code = "INCORRECT_CONFIGURATION"
	CodeListingExecuted        Code = "LISTING_EXECUTED"
	CodeListingInactive        Code = "LISTING_INACTIVE"
	CodeIncorrectPaymentAmount Code = "INCORRECT_PAYMENT_AMOUNT"

	// Settlement errors
	CodeAssetTransferFailed Code = "ASSET_TRANSFER_FAILED"
	CodePayoutFailed        Code = "PAYOUT_FAILED"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Storage errors
	CodeStorage Code = "STORAGE"
)

// HTTPStatus maps the code to the HTTP status the API surface responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotAuthorized:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeIncorrectConfiguration, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeListingExecuted, CodeListingInactive:
		return http.StatusConflict
	case CodeIncorrectPaymentAmount:
		return http.StatusPaymentRequired
	case CodeAssetTransferFailed, CodePayoutFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
