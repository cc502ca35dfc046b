package bot

import (
	"testing"

	"triarb/internal/models"
)

// TestCanTransition_ValidTransitions проверяет валидные переходы между состояниями
func TestCanTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{
			name: "PLANNED → LEG1_SUBMITTED (start execution)",
			from: models.ExecPlanned,
			to:   models.ExecLeg1Submitted,
			want: true,
		},
		{
			name: "LEG1_SUBMITTED → LEG1_FILLED (fill confirmed)",
			from: models.ExecLeg1Submitted,
			to:   models.ExecLeg1Filled,
			want: true,
		},
		{
			name: "LEG1_FILLED → LEG2_SUBMITTED (next leg)",
			from: models.ExecLeg1Filled,
			to:   models.ExecLeg2Submitted,
			want: true,
		},
		{
			name: "LEG2_SUBMITTED → LEG2_FILLED",
			from: models.ExecLeg2Submitted,
			to:   models.ExecLeg2Filled,
			want: true,
		},
		{
			name: "LEG2_FILLED → LEG3_SUBMITTED",
			from: models.ExecLeg2Filled,
			to:   models.ExecLeg3Submitted,
			want: true,
		},
		{
			name: "LEG3_SUBMITTED → LEG3_FILLED",
			from: models.ExecLeg3Submitted,
			to:   models.ExecLeg3Filled,
			want: true,
		},
		{
			name: "LEG3_FILLED → COMPLETED (live trade)",
			from: models.ExecLeg3Filled,
			to:   models.ExecCompleted,
			want: true,
		},
		{
			name: "LEG3_FILLED → SIMULATED (dry-run)",
			from: models.ExecLeg3Filled,
			to:   models.ExecSimulated,
			want: true,
		},
		{
			name: "PLANNED → ABORTED (pre-flight check failed)",
			from: models.ExecPlanned,
			to:   models.ExecAborted,
			want: true,
		},
		{
			name: "LEG1_SUBMITTED → ABORTED (timeout)",
			from: models.ExecLeg1Submitted,
			to:   models.ExecAborted,
			want: true,
		},
		{
			name: "LEG2_SUBMITTED → ABORTED (timeout)",
			from: models.ExecLeg2Submitted,
			to:   models.ExecAborted,
			want: true,
		},
		{
			name: "LEG3_SUBMITTED → ABORTED (rejection)",
			from: models.ExecLeg3Submitted,
			to:   models.ExecAborted,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestCanTransition_InvalidTransitions проверяет запрещённые переходы
func TestCanTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
	}{
		{"skip leg: PLANNED → LEG2_SUBMITTED", models.ExecPlanned, models.ExecLeg2Submitted},
		{"skip fill: LEG1_SUBMITTED → LEG2_SUBMITTED", models.ExecLeg1Submitted, models.ExecLeg2Submitted},
		{"backwards: LEG2_FILLED → LEG1_SUBMITTED", models.ExecLeg2Filled, models.ExecLeg1Submitted},
		{"early completion: LEG2_FILLED → COMPLETED", models.ExecLeg2Filled, models.ExecCompleted},
		{"terminal COMPLETED → anything", models.ExecCompleted, models.ExecPlanned},
		{"terminal ABORTED → anything", models.ExecAborted, models.ExecLeg1Submitted},
		{"terminal SIMULATED → anything", models.ExecSimulated, models.ExecCompleted},
		{"abort after fill confirmed: LEG3_FILLED → ABORTED", models.ExecLeg3Filled, models.ExecAborted},
		{"unknown state", "UNKNOWN", models.ExecPlanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
			}
		})
	}
}

// TestTerminalStatesHaveNoTransitions гарантирует, что терминальные состояния конечны
func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for state, next := range ValidTransitions {
		if models.IsTerminalExecState(state) && len(next) != 0 {
			t.Errorf("terminal state %s has outgoing transitions: %v", state, next)
		}
	}
}

// TestEverySubmittedStateCanAbort - из любого SUBMITTED можно уйти в ABORTED
func TestEverySubmittedStateCanAbort(t *testing.T) {
	for _, leg := range []int{1, 2, 3} {
		state := models.LegSubmittedState(leg)
		if !CanTransition(state, models.ExecAborted) {
			t.Errorf("state %s must allow transition to ABORTED", state)
		}
	}
}
