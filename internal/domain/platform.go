package domain

import (
	"fmt"
	"strings"
)

// Platform names the host operating system family.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform normalizes s and rejects unknown platforms.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformIOS, PlatformAndroid:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
	}
}

// PermissionStatus is the OS answer for the bluetooth permission.
type PermissionStatus string

const (
	PermissionGranted     PermissionStatus = "granted"
	PermissionDenied      PermissionStatus = "denied"
	PermissionBlocked     PermissionStatus = "blocked"
	PermissionUnavailable PermissionStatus = "unavailable"
)

// ParsePermissionStatus validates a host-reported status.
func ParsePermissionStatus(s string) (PermissionStatus, error) {
	switch p := PermissionStatus(strings.ToLower(strings.TrimSpace(s))); p {
	case PermissionGranted, PermissionDenied, PermissionBlocked, PermissionUnavailable:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
}
