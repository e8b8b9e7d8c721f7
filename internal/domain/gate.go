package domain

import (
	"encoding/json"
	"fmt"
)

// VersionManifest is the server-declared minimum version and terms state.
type VersionManifest struct {
	IOSMinVersion     string `json:"ios"`
	AndroidMinVersion string `json:"android"`
	ForceIOS          bool   `json:"shouldForceIOS"`
	ForceAndroid      bool   `json:"shouldForceAndroid"`
	TermsVersion      int    `json:"terms"`
}

// VersionsDocument is the verified payload served by the versions endpoint.
type VersionsDocument struct {
	V2 VersionManifest `json:"v2"`
}

// GateState is the outcome of one version/terms evaluation.
type GateState int

const (
	GateOK GateState = iota
	GateShowTerms
	GateShowUpdate
)

var gateStateNames = map[GateState]string{
	GateOK:         "ok",
	GateShowTerms:  "show_terms",
	GateShowUpdate: "show_update",
}

func (s GateState) String() string {
	if n, ok := gateStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("GateState(%d)", int(s))
}

// MarshalJSON encodes the state by name.
func (s GateState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// GateDecision is emitted once per evaluation. TermsVersion is set for
// GateShowTerms and Force for GateShowUpdate.
type GateDecision struct {
	State        GateState `json:"state"`
	TermsVersion int       `json:"terms_version,omitempty"`
	Force        bool      `json:"force,omitempty"`
}

// Allow is the decision used whenever the gate cannot reach a verdict.
func Allow() GateDecision { return GateDecision{State: GateOK} }

// ShowTerms asks the UI to re-prompt for the given terms version.
func ShowTerms(version int) GateDecision {
	return GateDecision{State: GateShowTerms, TermsVersion: version}
}

// ShowUpdate asks the UI to prompt for an update, blocking when force is set.
func ShowUpdate(force bool) GateDecision {
	return GateDecision{State: GateShowUpdate, Force: force}
}
