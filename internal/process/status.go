package process

// Status is the lifecycle state of a supervised process.
type Status int

const (
	// StatusPending means Start has not launched the process yet.
	StatusPending Status = iota
	// StatusRunning means the process is alive.
	StatusRunning
	// StatusExited means the process exited on its own.
	StatusExited
	// StatusKilled means the process was terminated by the supervisor.
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the process is gone.
func (s Status) IsTerminal() bool {
	return s == StatusExited || s == StatusKilled
}
