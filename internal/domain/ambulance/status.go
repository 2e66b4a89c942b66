package ambulance

import "fmt"

// Status is the operational state of an ambulance.
type Status string

const (
	StatusAvailable Status = "available"
	StatusEnRoute   Status = "en_route"
	StatusOnScene   Status = "on_scene"
	StatusReturning Status = "returning"
	StatusOffline   Status = "offline"
)

var validTransitions = map[Status][]Status{
	StatusAvailable: {StatusEnRoute, StatusOffline},
	StatusEnRoute:   {StatusOnScene, StatusAvailable},
	StatusOnScene:   {StatusReturning, StatusAvailable},
	StatusReturning: {StatusAvailable, StatusOffline},
	StatusOffline:   {StatusAvailable},
}

func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo returns true if a transition from s to target is allowed.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsDispatchable reports whether the ambulance may be selected for a booking.
func (s Status) IsDispatchable() bool {
	return s == StatusAvailable
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid ambulance status: %s", s)
	}
	return status, nil
}
