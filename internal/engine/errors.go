package engine

import "errors"

// Kind groups failure reasons into the categories reported to clients.
type Kind string

const (
	KindNotFound     Kind = "not-found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindInvalidInput Kind = "invalid-input"
	KindRaceLost     Kind = "race-lost"
	KindStorage      Kind = "storage-error"
)

// Error is a client-reportable failure with a stable reason string.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

var (
	ErrSessionNotFound = &Error{KindNotFound, "game-not-found"}
	ErrPlayerNotFound  = &Error{KindNotFound, "player-not-found"}

	ErrDuplicateCode       = &Error{KindConflict, "duplicate-code"}
	ErrNicknameTaken       = &Error{KindConflict, "nickname-taken"}
	ErrPlayerExists        = &Error{KindConflict, "player-exists"}
	ErrGameFull            = &Error{KindConflict, "game-full"}
	ErrGameEnded           = &Error{KindConflict, "game-ended"}
	ErrGameNotStarted      = &Error{KindConflict, "game-not-started"}
	ErrRoundInProgress     = &Error{KindConflict, "round-in-progress"}
	ErrRoundMismatch       = &Error{KindConflict, "round-mismatch"}
	ErrNotEnoughPlayers    = &Error{KindConflict, "not-enough-players"}
	ErrShowdownPending     = &Error{KindConflict, "showdown-pending"}
	ErrNoShowdown          = &Error{KindConflict, "no-showdown"}
	ErrRiskPhaseClosed     = &Error{KindConflict, "risk-phase-not-active"}
	ErrAlreadyRisked       = &Error{KindConflict, "already-risked"}
	ErrAlreadyRevealed     = &Error{KindConflict, "already-revealed"}
	ErrMaxCommunityCards   = &Error{KindConflict, "max-community-cards"}
	ErrPlayerNotActive     = &Error{KindConflict, "player-not-active"}
	ErrNotConnected        = &Error{KindConflict, "not-connected"}
	ErrNotInVolunteerPhase = &Error{KindConflict, "not-in-volunteer-phase"}
	ErrReentryUnavailable  = &Error{KindConflict, "reentry-unavailable"}

	ErrNotHost = &Error{KindForbidden, "not-host"}

	ErrMissingFields      = &Error{KindInvalidInput, "missing-fields"}
	ErrUnknownCommand     = &Error{KindInvalidInput, "unknown-command"}
	ErrBadRequest         = &Error{KindInvalidInput, "bad-request"}
	ErrNotFinalist        = &Error{KindInvalidInput, "not-a-finalist"}
	ErrRiskNotMultipleOf5 = &Error{KindInvalidInput, "risk-not-multiple-of-5"}
	ErrRiskBelowMinimum   = &Error{KindInvalidInput, "risk-below-minimum"}
	ErrRiskExceedsPoints  = &Error{KindInvalidInput, "risk-exceeds-points"}
	ErrRiskExceedsCap     = &Error{KindInvalidInput, "risk-exceeds-cap"}

	ErrAlreadyClaimed = &Error{KindRaceLost, "already-claimed"}

	ErrStorage = &Error{KindStorage, "storage-error"}
)

// KindOf returns the taxonomy kind of err. Anything outside the taxonomy is
// treated as a storage failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// ReasonOf returns the stable reason string reported to clients.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ErrStorage.Reason
}
