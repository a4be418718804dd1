package entity

// URLState is the position of a canonical URL in the crawl state machine.
// VisitedSuccess and VisitedFailure are terminal.
type URLState int

const (
	Unseen URLState = iota
	Queued
	Fetching
	VisitedSuccess
	VisitedFailure
)

func (s URLState) String() string {
	switch s {
	case Unseen:
		return "unseen"
	case Queued:
		return "queued"
	case Fetching:
		return "fetching"
	case VisitedSuccess:
		return "visited_success"
	case VisitedFailure:
		return "visited_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s URLState) Terminal() bool {
	return s == VisitedSuccess || s == VisitedFailure
}
