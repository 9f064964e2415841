package auth

import "errors"

// Validation failures. Validate wraps one of these around the underlying
// library error so both can be matched with errors.Is.
var (
	ErrMissingToken         = errors.New("missing bearer token")
	ErrInvalidSignature     = errors.New("invalid token signature")
	ErrExpiredOrNotYetValid = errors.New("token expired or not yet valid")
	ErrAudienceMismatch     = errors.New("token audience mismatch")
	ErrIssuerMismatch       = errors.New("token issuer mismatch")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrUnknownSigningKey is returned by the key cache when a key id is absent
	// even after a refresh. The validator reports it as ErrInvalidSignature.
	ErrUnknownSigningKey = errors.New("unknown signing key")
)

// Reason returns a short, stable label for a validation error, suitable for
// logs and metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, ErrUnknownSigningKey):
		return "unknown_signing_key"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpiredOrNotYetValid):
		return "expired_or_not_yet_valid"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	default:
		return "other"
	}
}
