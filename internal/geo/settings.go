package geo

import "fmt"

// MatchSettings holds the per-match knobs that must validate before a
// match can leave the Lobby state.
type MatchSettings struct {
	Rounds             int
	TimeLimitSeconds   int
	MapID              string
	MovementAllowed    bool
	ZoomAllowed        bool
	RotationAllowed    bool
}

const maxMapIDLength = 64

// Validate returns every violation found, not just the first. An empty
// slice means the settings are legal.
func (s MatchSettings) Validate() []error {
	var violations []error

	if s.Rounds < 1 || s.Rounds > 20 {
		violations = append(violations, fmt.Errorf("rounds must be in [1,20], got %d", s.Rounds))
	}
	if s.TimeLimitSeconds != 0 && (s.TimeLimitSeconds < 10 || s.TimeLimitSeconds > 600) {
		violations = append(violations, fmt.Errorf("time_limit_seconds must be 0 or in [10,600], got %d", s.TimeLimitSeconds))
	}
	if s.MapID == "" {
		violations = append(violations, fmt.Errorf("map_id must not be empty"))
	} else if len(s.MapID) > maxMapIDLength {
		violations = append(violations, fmt.Errorf("map_id longer than %d chars", maxMapIDLength))
	}

	return violations
}

// Clamp silently coerces out-of-range fields into the nearest legal value,
// matching the Lobby UpdateSettings edge case in the spec.
func (s MatchSettings) Clamp() MatchSettings {
	clamped := s
	if clamped.Rounds < 1 {
		clamped.Rounds = 1
	}
	if clamped.Rounds > 20 {
		clamped.Rounds = 20
	}
	if clamped.TimeLimitSeconds != 0 {
		if clamped.TimeLimitSeconds < 10 {
			clamped.TimeLimitSeconds = 10
		}
		if clamped.TimeLimitSeconds > 600 {
			clamped.TimeLimitSeconds = 600
		}
	}
	if len(clamped.MapID) > maxMapIDLength {
		clamped.MapID = clamped.MapID[:maxMapIDLength]
	}
	return clamped
}
