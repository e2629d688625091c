package symphony

import "testing"

func TestPresenceCategory(t *testing.T) {
	cases := map[PresenceStatus]string{
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
	for status, want := range cases {
		if got := status.Category(); got != want {
			t.Errorf("%d: expected %q, got %q", status, want, got)
		}
	}
}

func TestParsePresenceStatus(t *testing.T) {
	cases := map[string]PresenceStatus{
		"AVAILABLE":     PresenceAvailable,
		"available":     PresenceAvailable,
		"on-the-phone":  PresenceOnThePhone,
		"ON_THE_PHONE":  PresenceOnThePhone,
		"be-right-back": PresenceBeRightBack,
	}
	for in, want := range cases {
		got, err := ParsePresenceStatus(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}

	if _, err := ParsePresenceStatus("sleeping"); err == nil {
		t.Fatal("unknown status must be rejected")
	}
}
