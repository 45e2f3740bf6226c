// Package checkin holds the student side of attendance: readiness flags, the
// gate that combines them with the attendance window, and per-student
// sessions that drive camera acquisition and submission.
package checkin

// Readiness is the set of preconditions a student satisfies before checking in.
type Readiness struct {
	CameraReady     bool   `json:"camera_ready"`
	BeaconPresent   bool   `json:"beacon_present"`
	SubjectSelected string `json:"subject_selected"`
	IdentityPresent bool   `json:"identity_present"`
}

// Dimension names reported by Missing.
const (
	DimWindow   = "window"
	DimCamera   = "camera"
	DimBeacon   = "beacon"
	DimSubject  = "subject"
	DimIdentity = "identity"
)

// Evaluate reports whether a check-in is permitted: the window is open and
// every readiness flag holds.
func Evaluate(windowOpen bool, r Readiness) bool {
	return windowOpen &&
		r.CameraReady &&
		r.BeaconPresent &&
		r.SubjectSelected != "" &&
		r.IdentityPresent
}

// Missing lists the dimensions that currently block a check-in.
func Missing(windowOpen bool, r Readiness) []string {
	missing := []string{}
	if !windowOpen {
		missing = append(missing, DimWindow)
	}
	if !r.CameraReady {
		missing = append(missing, DimCamera)
	}
	if !r.BeaconPresent {
		missing = append(missing, DimBeacon)
	}
	if r.SubjectSelected == "" {
		missing = append(missing, DimSubject)
	}
	if !r.IdentityPresent {
		missing = append(missing, DimIdentity)
	}
	return missing
}

// ToggleBeacon flips simulated beacon presence.
func ToggleBeacon(current bool) bool {
	return !current
}
