package status

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Queued, Pending},
		{Pending, Sending},
		{Sending, Sent},
		{Sending, Pending},
		{Sending, Failed},
		{Sent, Delivered},
		{Delivered, Read},
		{Failed, Pending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// TestTransitionTableIsExact walks the full from/to grid and checks that
// only the transitions listed in the state machine are allowed. Catches
// accidental widening of the table.
func TestTransitionTableIsExact(t *testing.T) {
	allowed := map[Status]map[Status]bool{
		Queued:    {Pending: true},
		Pending:   {Sending: true},
		Sending:   {Sent: true, Pending: true, Failed: true},
		Sent:      {Delivered: true},
		Delivered: {Read: true},
		Read:      {},
		Failed:    {Pending: true},
	}

	for _, from := range All() {
		for _, to := range All() {
			got := CanTransition(from, to)
			want := allowed[from][to]
			if got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestReadIsTerminal(t *testing.T) {
	for _, to := range All() {
		if CanTransition(Read, to) {
			t.Errorf("CanTransition(read, %s) should be false", to)
		}
	}
}

func TestFailedOnlyReentersPending(t *testing.T) {
	for _, to := range All() {
		want := to == Pending
		if CanTransition(Failed, to) != want {
			t.Errorf("CanTransition(failed, %s) = %v, want %v", to, !want, want)
		}
	}
}

func TestValid(t *testing.T) {
	for _, s := range All() {
		if !Valid(s) {
			t.Errorf("Valid(%s) = false, want true", s)
		}
	}
	if Valid("archived") {
		t.Error("Valid(archived) = true, want false")
	}
	if Valid("") {
		t.Error("Valid(\"\") = true, want false")
	}
}
