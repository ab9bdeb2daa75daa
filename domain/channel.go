package domain

// Channel identifies one of the two transports a target is reached on.
type Channel int

const (
	Reliable Channel = iota
	BestEffort
)

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case BestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}
