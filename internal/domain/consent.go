package domain

import (
	"encoding/json"
	"fmt"
)

// Consent is a user decision that distinguishes "never asked" from "denied".
type Consent int

const (
	// ConsentUnknown means the user has not decided yet and may be asked.
	ConsentUnknown Consent = iota
	ConsentGranted
	ConsentDenied
)

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "granted"
	case ConsentDenied:
		return "denied"
	case ConsentUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Consent(%d)", int(c))
	}
}

// ParseConsent is the inverse of String.
func ParseConsent(s string) (Consent, error) {
	switch s {
	case "granted":
		return ConsentGranted, nil
	case "denied":
		return ConsentDenied, nil
	case "unknown":
		return ConsentUnknown, nil
	default:
		return ConsentUnknown, fmt.Errorf("%w: %q", ErrInvalidConsent, s)
	}
}

// ConsentFromBool maps a remembered yes/no answer.
func ConsentFromBool(granted bool) Consent {
	if granted {
		return ConsentGranted
	}
	return ConsentDenied
}

// MarshalJSON encodes the consent by name.
func (c Consent) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a consent name.
func (c *Consent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseConsent(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ConsentFlags is the snapshot handed to the UI at foreground time.
type ConsentFlags struct {
	BLE                 Consent `json:"ble"`
	BatteryOpt          Consent `json:"battery_optimization"`
	HideLocationHistory bool    `json:"hide_location_history"`
}
