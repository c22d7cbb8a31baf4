package gate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/dirigent/internal/model"
)

type fakeReviewer struct {
	verdict ReviewVerdict
	err     error
	prompts []string
}

func (f *fakeReviewer) Review(_ context.Context, _ *model.WorkItem, prompt string) (ReviewVerdict, error) {
	f.prompts = append(f.prompts, prompt)
	return f.verdict, f.err
}

func commandGate(name, cmd string, required bool) model.QualityGate {
	return model.QualityGate{Name: name, Kind: model.GateCommand, Command: cmd, Required: required}
}

func TestRunNoGates(t *testing.T) {
	r := NewRunner(Config{}, nil)
	s := r.Run(context.Background(), &model.WorkItem{})

	if !s.RequiredPassed || !s.AllPassed {
		t.Errorf("empty verification plan should auto-pass: %+v", s)
	}
	if !strings.Contains(s.Note, "no quality gates") {
		t.Errorf("auto-pass note missing: %q", s.Note)
	}
	if len(s.Results) != 0 {
		t.Errorf("expected no results, got %d", len(s.Results))
	}
}

func TestRunCommandGates(t *testing.T) {
	tests := []struct {
		name         string
		gates        []model.QualityGate
		wantRequired bool
		wantAll      bool
		wantStatuses []GateStatus
	}{
		{
			name:         "single passing gate",
			gates:        []model.QualityGate{commandGate("true", "true", true)},
			wantRequired: true,
			wantAll:      true,
			wantStatuses: []GateStatus{Passed},
		},
		{
			name:         "single failing required gate",
			gates:        []model.QualityGate{commandGate("false", "false", true)},
			wantRequired: false,
			wantAll:      false,
			wantStatuses: []GateStatus{Failed},
		},
		{
			name: "required failure skips the rest",
			gates: []model.QualityGate{
				commandGate("fail", "false", true),
				commandGate("never runs", "true", true),
				commandGate("never runs either", "true", false),
			},
			wantRequired: false,
			wantAll:      false,
			wantStatuses: []GateStatus{Failed, Skipped, Skipped},
		},
		{
			name: "optional failure does not skip",
			gates: []model.QualityGate{
				commandGate("fail", "false", false),
				commandGate("still runs", "true", true),
			},
			wantRequired: true,
			wantAll:      false,
			wantStatuses: []GateStatus{Failed, Passed},
		},
		{
			name: "expected nonzero exit",
			gates: []model.QualityGate{
				{Name: "grep-miss", Kind: model.GateCommand, Command: "exit 1", ExpectedExit: 1, Required: true},
			},
			wantRequired: true,
			wantAll:      true,
			wantStatuses: []GateStatus{Passed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(Config{}, nil)
			s := r.Run(context.Background(), &model.WorkItem{Gates: tt.gates})

			if s.RequiredPassed != tt.wantRequired {
				t.Errorf("RequiredPassed = %v, want %v", s.RequiredPassed, tt.wantRequired)
			}
			if s.AllPassed != tt.wantAll {
				t.Errorf("AllPassed = %v, want %v", s.AllPassed, tt.wantAll)
			}
			for i, want := range tt.wantStatuses {
				if s.Results[i].Status != want {
					t.Errorf("gate %d status = %s, want %s", i, s.Results[i].Status, want)
				}
			}
		})
	}
}

func TestRunContinueOnFailure(t *testing.T) {
	r := NewRunner(Config{ContinueOnFailure: true}, nil)
	item := &model.WorkItem{Gates: []model.QualityGate{
		commandGate("fail", "false", true),
		commandGate("runs anyway", "true", true),
	}}

	s := r.Run(context.Background(), item)
	if s.Results[1].Status != Passed {
		t.Errorf("second gate status = %s, want passed", s.Results[1].Status)
	}
	if s.RequiredPassed {
		t.Error("RequiredPassed should still be false")
	}
}

// A timed-out command is a failure, not an exception aborting the run.
func TestRunCommandTimeout(t *testing.T) {
	r := NewRunner(Config{}, nil)
	item := &model.WorkItem{Gates: []model.QualityGate{
		{Name: "slow", Kind: model.GateCommand, Command: "sleep 5", Required: false, TimeoutSeconds: 1},
		commandGate("after", "true", true),
	}}

	start := time.Now()
	s := r.Run(context.Background(), item)
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("timeout did not kill the command (took %s)", elapsed)
	}

	if s.Results[0].Status != Failed || !s.Results[0].TimedOut {
		t.Errorf("timed-out gate = %+v, want failed+timedOut", s.Results[0])
	}
	if s.Results[1].Status != Passed {
		t.Errorf("gate after optional timeout = %s, want passed", s.Results[1].Status)
	}
	if !s.RequiredPassed {
		t.Error("optional timeout must not fail required verdict")
	}
}

func TestRunCommandCapturesOutput(t *testing.T) {
	r := NewRunner(Config{}, nil)
	item := &model.WorkItem{Gates: []model.QualityGate{
		commandGate("echo", "echo hello-from-gate", true),
	}}

	s := r.Run(context.Background(), item)
	if !strings.Contains(s.Results[0].Output, "hello-from-gate") {
		t.Errorf("output not captured: %q", s.Results[0].Output)
	}
}

func TestRunReviewGates(t *testing.T) {
	tests := []struct {
		name     string
		reviewer *fakeReviewer
		want     GateStatus
		likes    string
	}{
		{
			name:     "reviewer pass accepted verbatim",
			reviewer: &fakeReviewer{verdict: ReviewVerdict{Pass: true, Reasoning: "looks correct"}},
			want:     Passed,
			likes:    "looks correct",
		},
		{
			name:     "reviewer fail accepted verbatim",
			reviewer: &fakeReviewer{verdict: ReviewVerdict{Pass: false, Reasoning: "missing edge case"}},
			want:     Failed,
			likes:    "missing edge case",
		},
		{
			name:     "reviewer error fails the gate",
			reviewer: &fakeReviewer{err: errors.New("reviewer offline")},
			want:     Failed,
			likes:    "reviewer offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(Config{}, tt.reviewer)
			item := &model.WorkItem{Gates: []model.QualityGate{
				{Name: "review", Kind: model.GateReview, Prompt: "is this done?", Required: true},
			}}

			s := r.Run(context.Background(), item)
			if s.Results[0].Status != tt.want {
				t.Errorf("status = %s, want %s", s.Results[0].Status, tt.want)
			}
			if !strings.Contains(s.Results[0].Reasoning, tt.likes) {
				t.Errorf("reasoning %q does not contain %q", s.Results[0].Reasoning, tt.likes)
			}
			if len(tt.reviewer.prompts) != 1 || tt.reviewer.prompts[0] != "is this done?" {
				t.Errorf("reviewer prompts = %v", tt.reviewer.prompts)
			}
		})
	}
}

func TestRunReviewWithoutReviewer(t *testing.T) {
	r := NewRunner(Config{}, nil)
	item := &model.WorkItem{Gates: []model.QualityGate{
		{Name: "review", Kind: model.GateReview, Prompt: "ok?", Required: true},
	}}

	s := r.Run(context.Background(), item)
	if s.Results[0].Status != Failed {
		t.Errorf("review gate without reviewer = %s, want failed", s.Results[0].Status)
	}
}
