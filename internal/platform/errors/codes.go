package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidRequest represents a malformed client request.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// User errors
	CodeUserEmptyEmail      Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidEmail    Code = "USER_INVALID_EMAIL"
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeEmailTaken          Code = "USER_EMAIL_TAKEN"
	CodeUsernameTaken       Code = "USER_USERNAME_TAKEN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Passkey errors
	CodeNoCredentials             Code = "PASSKEY_NO_CREDENTIALS"
	CodeCredentialNotFound        Code = "PASSKEY_CREDENTIAL_NOT_FOUND"
	CodeCredentialExists          Code = "PASSKEY_CREDENTIAL_EXISTS"
	CodeChallengeMissing          Code = "PASSKEY_CHALLENGE_MISSING"
	CodeChallengeMismatch         Code = "PASSKEY_CHALLENGE_MISMATCH"
	CodeCounterRegression         Code = "PASSKEY_COUNTER_REGRESSION"
	CodePasskeyVerificationFailed Code = "PASSKEY_VERIFICATION_FAILED"

	// Two-factor errors
	CodeTwoFactorEnabled     Code = "TWO_FACTOR_ALREADY_ENABLED"
	CodeTwoFactorNotEnabled  Code = "TWO_FACTOR_NOT_ENABLED"
	CodeTwoFactorNotPending  Code = "TWO_FACTOR_SETUP_NOT_PENDING"
	CodeTwoFactorInvalidCode Code = "TWO_FACTOR_INVALID_CODE"

	// Session token errors
	CodeTokenInvalid         Code = "SESSION_TOKEN_INVALID"
	CodeSecondFactorRequired Code = "SESSION_SECOND_FACTOR_REQUIRED"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, failed ceremonies.
	// Crypto failures deliberately share one status so clients cannot
	// tell which verification step rejected them.
	case CodeInvalidRequest,
		CodeUserEmptyEmail,
		CodeUserInvalidEmail,
		CodeUserEmptyUsername,
		CodeUserInvalidUsername,
		CodeNoCredentials,
		CodeCredentialNotFound,
		CodeCredentialExists,
		CodeChallengeMissing,
		CodeChallengeMismatch,
		CodeCounterRegression,
		CodePasskeyVerificationFailed,
		CodeTwoFactorEnabled,
		CodeTwoFactorNotEnabled,
		CodeTwoFactorNotPending,
		CodeTwoFactorInvalidCode:
		return http.StatusBadRequest

	// Conflict - duplicate identity
	case CodeEmailTaken, CodeUsernameTaken:
		return http.StatusConflict

	// Not found
	case CodeNotFound:
		return http.StatusNotFound

	// Unauthorized - token failures
	case CodeTokenInvalid, CodeSecondFactorRequired:
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}
