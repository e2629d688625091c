package symphony

import (
	"fmt"
	"strings"
)

// PresenceStatus is the bot's published availability state.
type PresenceStatus int

const (
	PresenceAvailable PresenceStatus = iota
	PresenceBusy
	PresenceAway
	PresenceOnThePhone
	PresenceBeRightBack
	PresenceInAMeeting
	PresenceOutOfOffice
	PresenceOffWork
	PresenceOffline
)

var presenceCategories = [...]string{
	PresenceAvailable:   "AVAILABLE",
	PresenceBusy:        "BUSY",
	PresenceAway:        "AWAY",
	PresenceOnThePhone:  "ON_THE_PHONE",
	PresenceBeRightBack: "BE_RIGHT_BACK",
	PresenceInAMeeting:  "IN_A_MEETING",
	PresenceOutOfOffice: "OUT_OF_OFFICE",
	PresenceOffWork:     "OFF_WORK",
	PresenceOffline:     "OFFLINE",
}

// Category returns the platform wire form of the status, like "ON_THE_PHONE".
func (p PresenceStatus) Category() string {
	if p < 0 || int(p) >= len(presenceCategories) {
		return "AVAILABLE"
	}
	return presenceCategories[p]
}

func (p PresenceStatus) String() string { return p.Category() }

// ParsePresenceStatus parses a status name, case-insensitively, accepting
// either the wire form ("ON_THE_PHONE") or a hyphenated form ("on-the-phone").
func ParsePresenceStatus(s string) (PresenceStatus, error) {
	norm := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for i, cat := range presenceCategories {
		if cat == norm {
			return PresenceStatus(i), nil
		}
	}
	return PresenceAvailable, fmt.Errorf("unknown presence status %q", s)
}
