package request

// validTransitions defines allowed status transitions.
// Key is the "from" status, value is list of valid "to" statuses.
var validTransitions = map[Status][]Status{
	StatusPending:        {StatusSearching, StatusDownloading, StatusFailed},
	StatusSearching:      {StatusDownloading, StatusFailed},
	StatusDownloading:    {StatusAwaitingImport, StatusCompleted, StatusFailed},
	StatusAwaitingImport: {StatusCompleted, StatusFailed},
	StatusCompleted:      {}, // terminal
	StatusFailed:         {StatusSearching, StatusDownloading}, // allow retry
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	valid, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, v := range valid {
		if v == target {
			return true
		}
	}
	return false
}

// IsActive returns true while a request still has work in flight.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusSearching, StatusDownloading, StatusAwaitingImport:
		return true
	default:
		return false
	}
}
