package coordinator

// Phase is where a coordinator is in its lifecycle.
type Phase int32

const (
	NotStarted Phase = iota
	Starting
	Running
	Stopping
	Stopped
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}
