package service

import "errors"

// Kind clasifica los errores de servicio para mapearlos a respuestas HTTP.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInvalid      Kind = "invalid"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error es un error de servicio con tipo estable y mensaje apto para el cliente.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf devuelve el tipo del primer *Error de la cadena, o KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf devuelve el mensaje publico del error, sin exponer causas internas.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

var (
	ErrInvalidEmail = newError(KindValidation, "invalid email")
	ErrWeakPassword = newError(KindValidation, "password too short")
	ErrLongPassword = newError(KindValidation, "password too long")
	ErrInvalidInput = newError(KindValidation, "invalid request")
	ErrOAuthInvalid = newError(KindValidation, "oauth data invalid")
	ErrOAuthState   = newError(KindValidation, "invalid oauth state")
	ErrSamePassword = newError(KindValidation, "new password must differ from the current one")
	ErrEmailTaken   = newError(KindConflict, "email already registered")

	ErrInvalidCredentials = newError(KindUnauthorized, "invalid credentials")
	ErrJWTInvalid         = newError(KindUnauthorized, "invalid token")
	ErrJWTExpired         = newError(KindUnauthorized, "token expired")
	ErrRefreshInvalid     = newError(KindUnauthorized, "invalid refresh token")
	ErrRefreshReused      = newError(KindUnauthorized, "refresh token reuse detected")
	ErrTokenRevoked       = newError(KindUnauthorized, "token revoked")

	ErrEmailNotVerified = newError(KindForbidden, "please verify your email before logging in")
	ErrAccountDisabled  = newError(KindForbidden, "account disabled")

	ErrTokenInvalid          = newError(KindInvalid, "invalid or expired token")
	ErrAlreadyVerified       = newError(KindInvalid, "email already verified")
	ErrTOTPInvalid           = newError(KindInvalid, "invalid two-factor code")
	ErrBackupCodeInvalid     = newError(KindInvalid, "invalid backup code")
	ErrTwoFactorNotSetUp     = newError(KindInvalid, "two-factor authentication has not been set up")
	ErrTwoFactorEnabled      = newError(KindInvalid, "two-factor authentication is already enabled")
	ErrTwoFactorNotEnabled   = newError(KindInvalid, "two-factor authentication is not enabled")
	ErrPasswordNotConfigured = newError(KindInvalid, "account has no password")

	ErrUserNotFound    = newError(KindNotFound, "user not found")
	ErrSessionNotFound = newError(KindNotFound, "session not found")

	ErrRateLimited = newError(KindRateLimited, "too many requests")

	ErrEmailSendFailure   = newError(KindUnavailable, "email send failed")
	ErrOAuthUnavailable   = newError(KindUnavailable, "identity provider unavailable")
	ErrOAuthNotConfigured = newError(KindUnavailable, "oauth provider not configured")
)
