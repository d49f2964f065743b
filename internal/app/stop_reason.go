package app

// StopReason is logged by Stop and mapped to the process exit code.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopSessionDone StopReason = "session_done"
	StopFatalError  StopReason = "fatal_error"
)
