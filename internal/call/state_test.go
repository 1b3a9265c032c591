package call

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	if !CanTransition(StatusInitiated, StatusRinging) {
		t.Fatalf("initiated -> ringing should be allowed")
	}
	if !CanTransition(StatusInitiated, StatusInProgress) {
		t.Fatalf("initiated -> in-progress should be allowed")
	}
	if CanTransition(StatusInProgress, StatusRinging) {
		t.Fatalf("in-progress -> ringing must be rejected")
	}
	if CanTransition(StatusRinging, StatusRinging) {
		t.Fatalf("self transition must be rejected")
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled}
	for _, from := range terminals {
		if !IsTerminal(from) {
			t.Fatalf("IsTerminal(%q) = false", from)
		}
		for _, to := range []Status{StatusRinging, StatusInProgress, StatusCompleted, StatusCanceled} {
			if CanTransition(from, to) {
				t.Fatalf("%q -> %q must be rejected once terminal", from, to)
			}
		}
	}
}

func TestAnyLiveStateMayTerminate(t *testing.T) {
	for _, from := range []Status{StatusInitiated, StatusRinging, StatusInProgress} {
		for _, to := range []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled} {
			if !CanTransition(from, to) {
				t.Fatalf("%q -> %q should be allowed", from, to)
			}
		}
	}
}
