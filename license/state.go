package license

// State is a step of the acquisition flow.
type State int

const (
	Start State = iota
	DeviceLoaded
	SessionReady
	CertFetched
	CertSet
	ChallengeReady
	LicenseFetched
	KeysParsed
	Done
	// AbortedTransport is reached when an exchange fails.
	AbortedTransport
	// Aborted is reached when the engine rejects a step.
	Aborted
)

var stateNames = [...]string{
	Start:            "START",
	DeviceLoaded:     "DEVICE_LOADED",
	SessionReady:     "SESSION_READY",
	CertFetched:      "CERT_FETCHED",
	CertSet:          "CERT_SET",
	ChallengeReady:   "CHALLENGE_READY",
	LicenseFetched:   "LICENSE_FETCHED",
	KeysParsed:       "KEYS_PARSED",
	Done:             "DONE",
	AbortedTransport: "ABORTED_TRANSPORT",
	Aborted:          "ABORTED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == AbortedTransport || s == Aborted
}
