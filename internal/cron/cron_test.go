package cron

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func okJob(context.Context) (string, error) { return "ok", nil }

func TestNewJob(t *testing.T) {
	job := NewJob("test", "0 0 0 * * *", okJob)
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "test" {
		t.Errorf("name = %q, want test", job.Name)
	}
	if !job.Enabled {
		t.Error("job should be enabled by default")
	}
}

func TestValidateExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 0 0 * * *", false},
		{"*/5 * * * * *", false},
		{"@every 1h", false},
		{"@daily", false},
		{"0 0 * * *", true},
		{"not a cron", true},
		{"", true},
	}

	for _, tt := range tests {
		if err := ValidateExpr(tt.expr); (err != nil) != tt.wantErr {
			t.Errorf("ValidateExpr(%q) = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	s := NewService()

	job, err := s.AddJob("plan-sweep", "0 0 0 * * *", okJob)
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.Name != "plan-sweep" {
		t.Errorf("name = %q, want plan-sweep", job.Name)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].Expr != "0 0 0 * * *" {
		t.Errorf("expr = %q", jobs[0].Expr)
	}
	if _, ok := s.entryMap[job.ID]; !ok {
		t.Error("job should be registered with cron")
	}
}

func TestService_AddJob_Rejects(t *testing.T) {
	s := NewService()
	s.AddJob("dup", "@every 1h", okJob)

	if _, err := s.AddJob("dup", "@every 1h", okJob); err == nil {
		t.Error("expected error for duplicate name")
	}
	if _, err := s.AddJob("bad", "invalid cron", okJob); err == nil {
		t.Error("expected error for invalid expression")
	}
	if _, err := s.AddJob("nil", "@every 1h", nil); err == nil {
		t.Error("expected error for nil function")
	}
	if len(s.ListJobs()) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(s.ListJobs()))
	}
}

func TestService_EnableJob(t *testing.T) {
	s := NewService()
	job, _ := s.AddJob("toggle", "@every 1h", okJob)

	updated, err := s.EnableJob(job.ID, false)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if updated.Enabled {
		t.Error("job should be disabled")
	}
	if _, ok := s.entryMap[job.ID]; ok {
		t.Error("disabled job should leave the cron")
	}
	if !s.NextRun(job.ID).IsZero() {
		t.Error("disabled job should have no next run")
	}

	updated, err = s.EnableJob(job.ID, true)
	if err != nil {
		t.Fatalf("EnableJob error: %v", err)
	}
	if !updated.Enabled {
		t.Error("job should be enabled")
	}
	if _, ok := s.entryMap[job.ID]; !ok {
		t.Error("enabled job should be registered again")
	}

	if _, err := s.EnableJob("nonexistent", true); err == nil {
		t.Error("expected error for nonexistent job")
	}
}

func TestService_RunJob(t *testing.T) {
	s := NewService()
	var calls atomic.Int32
	job, _ := s.AddJob("manual", "@every 1h", func(context.Context) (string, error) {
		calls.Add(1)
		return "done", nil
	})

	if err := s.RunJob(job.ID); err != nil {
		t.Fatalf("RunJob error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	got, ok := s.Job(job.ID)
	if !ok {
		t.Fatal("Job not found")
	}
	if state := got.State; state.LastStatus != "ok" || state.Runs != 1 || state.LastRunAt.IsZero() {
		t.Errorf("state = %+v", state)
	}
	if _, ok := s.Job("nonexistent"); ok {
		t.Error("Job should report unknown ids")
	}

	if err := s.RunJob("nonexistent"); err == nil {
		t.Error("expected error for nonexistent job")
	}
}

func TestService_RunJob_Error(t *testing.T) {
	s := NewService()
	job, _ := s.AddJob("failing", "@every 1h", func(context.Context) (string, error) {
		return "", errors.New("sweep failed")
	})

	s.RunJob(job.ID)

	state := s.ListJobs()[0].State
	if state.LastStatus != "error" || state.LastError != "sweep failed" {
		t.Errorf("state = %+v", state)
	}
}

func TestService_StartStop(t *testing.T) {
	s := NewService()
	job, _ := s.AddJob("nightly", "0 0 0 * * *", okJob)

	if next := s.NextRun(job.ID); next.IsZero() || next.Hour() != 0 || !next.After(time.Now()) {
		t.Errorf("next run before Start = %v, want the coming midnight", next)
	}
	if !s.NextRun("nonexistent").IsZero() {
		t.Error("unknown job should have no next run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.NextRun(job.ID).IsZero() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	next := s.NextRun(job.ID)
	if next.IsZero() || next.Hour() != 0 || next.Minute() != 0 {
		t.Errorf("next run = %v, want a midnight", next)
	}

	cancel()
	s.Stop()
}

func TestService_Start_ParentCancelInvokesStop(t *testing.T) {
	s := NewService()

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		stopped := s.cancel == nil && s.stopCh == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.Stop()
	t.Fatal("expected parent context cancellation to trigger Stop")
}

func TestService_ScheduledExecution(t *testing.T) {
	s := NewService()

	var executeCount atomic.Int32
	var sawCtx atomic.Bool
	s.AddJob("tick", "@every 1s", func(ctx context.Context) (string, error) {
		sawCtx.Store(ctx != nil && ctx.Err() == nil)
		executeCount.Add(1)
		return "ok", nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for executeCount.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if executeCount.Load() == 0 {
		t.Fatal("expected at least one scheduled execution before Stop")
	}
	if !sawCtx.Load() {
		t.Error("job should receive the live run context")
	}

	s.Stop()
	countAfterStop := executeCount.Load()
	time.Sleep(1300 * time.Millisecond)

	if executeCount.Load() != countAfterStop {
		t.Fatalf("jobs should stop after Stop; count changed from %d to %d", countAfterStop, executeCount.Load())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{strings.Repeat("a", 12), 10, strings.Repeat("a", 10) + "..."},
		{"", 5, ""},
		{"ЯЯЯ", 3, "Я..."},
		{"удалено 3 плана", 9, "удал..."},
		{"📅📅", 5, "📅..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.input, tt.n)
		}
	}
}
