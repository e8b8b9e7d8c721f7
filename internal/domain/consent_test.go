package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentJSON(t *testing.T) {
	b, err := json.Marshal(ConsentFlags{BLE: ConsentGranted, BatteryOpt: ConsentUnknown, HideLocationHistory: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ble":"granted","battery_optimization":"unknown","hide_location_history":true}`, string(b))

	var c Consent
	require.NoError(t, json.Unmarshal([]byte(`"denied"`), &c))
	assert.Equal(t, ConsentDenied, c)

	err = json.Unmarshal([]byte(`"maybe"`), &c)
	assert.True(t, errors.Is(err, ErrInvalidConsent))
}

func TestConsentFromBool(t *testing.T) {
	assert.Equal(t, ConsentGranted, ConsentFromBool(true))
	assert.Equal(t, ConsentDenied, ConsentFromBool(false))
	assert.Equal(t, "Consent(9)", Consent(9).String())
}

func TestParsePlatformAndPermission(t *testing.T) {
	p, err := ParsePlatform(" iOS ")
	require.NoError(t, err)
	assert.Equal(t, PlatformIOS, p)
	_, err = ParsePlatform("windows")
	assert.ErrorIs(t, err, ErrInvalidPlatform)

	s, err := ParsePermissionStatus("BLOCKED")
	require.NoError(t, err)
	assert.Equal(t, PermissionBlocked, s)
	_, err = ParsePermissionStatus("limited")
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestGateDecisionJSON(t *testing.T) {
	b, err := json.Marshal(ShowTerms(5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"show_terms","terms_version":5}`, string(b))

	b, err = json.Marshal(ShowUpdate(true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"show_update","force":true}`, string(b))

	b, err = json.Marshal(Allow())
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"ok"}`, string(b))
}

func TestVersionsDocumentWireShape(t *testing.T) {
	raw := `{"v2":{"ios":"1.4.0","android":"1.3.2","shouldForceIOS":true,"shouldForceAndroid":false,"terms":7}}`
	var doc VersionsDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, VersionManifest{IOSMinVersion: "1.4.0", AndroidMinVersion: "1.3.2", ForceIOS: true, TermsVersion: 7}, doc.V2)
}
