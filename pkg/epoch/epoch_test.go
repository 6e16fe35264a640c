package epoch

import (
	"testing"
	"time"
)

func TestIsGraceActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prevEpoch := 1
	future := now.Add(1 * time.Hour)
	past := now.Add(-1 * time.Hour)

	tests := []struct {
		name  string
		state *State
		want  bool
	}{
		{
			name:  "nil state",
			state: nil,
			want:  false,
		},
		{
			name: "no previous epoch",
			state: &State{
				CurrentEpoch:      2,
				GracePeriodEndsAt: &future,
			},
			want: false,
		},
		{
			name: "grace active",
			state: &State{
				CurrentEpoch:      2,
				PreviousEpoch:     &prevEpoch,
				PreviousPublicKey: []byte{0x04},
				GracePeriodEndsAt: &future,
			},
			want: true,
		},
		{
			name: "grace expired",
			state: &State{
				CurrentEpoch:      2,
				PreviousEpoch:     &prevEpoch,
				PreviousPublicKey: []byte{0x04},
				GracePeriodEndsAt: &past,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsGraceActive(now); got != tt.want {
				t.Errorf("IsGraceActive() = %v, want %v", got, tt.want)
			}
		})
	}
}
