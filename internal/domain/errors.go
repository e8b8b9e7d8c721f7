// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers. Fetch and permission
// failures are wrapped around these so callers can classify with errors.Is.
var (
	ErrTransport        = errors.New("transport error")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrParse            = errors.New("parse error")
	ErrPermissionQuery  = errors.New("permission query failed")

	ErrInvalidConsent      = errors.New("invalid consent value")
	ErrInvalidPlatform     = errors.New("invalid platform")
	ErrInvalidPermission   = errors.New("invalid permission status")
	ErrInvalidTermsVersion = errors.New("invalid terms version")
)

// ErrInvalidSample marks an encounter sample without a timestamp or evidence.
var ErrInvalidSample = errors.New("invalid encounter sample")
