package account

// Stage is the session lifecycle state published to observers.
type Stage int

const (
	StageIdle Stage = iota
	StageBooting
	StageRunning
	StageKilling
	StageKilledWaiting
	StageKilledVerified
	StageKilledUnverified
	StageKilledNoVerify
	StageLockedView
	StageStopping
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageBooting:
		return "BOOTING"
	case StageRunning:
		return "RUNNING"
	case StageKilling:
		return "KILLING"
	case StageKilledWaiting:
		return "KILLED_WAITING"
	case StageKilledVerified:
		return "KILLED_VERIFIED"
	case StageKilledUnverified:
		return "KILLED_UNVERIFIED"
	case StageKilledNoVerify:
		return "KILLED_NO_VERIFY"
	case StageLockedView:
		return "LOCKED_VIEW_ONLY"
	case StageStopping:
		return "STOPPING"
	case StageError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Killed reports whether the stage is a terminal kill outcome.
func (s Stage) Killed() bool {
	switch s {
	case StageKilledWaiting, StageKilledVerified, StageKilledUnverified, StageKilledNoVerify:
		return true
	}
	return false
}
