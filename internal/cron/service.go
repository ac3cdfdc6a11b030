package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	rcron "github.com/robfig/cron/v3"
)

// parser accepts six-field expressions (with seconds) and descriptors such as
// "@every 1h".
var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Service runs named maintenance jobs on cron schedules.
type Service struct {
	mu       sync.Mutex
	jobs     []Job
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService() *Service {
	return &Service{
		cron:     rcron.New(rcron.WithParser(parser)),
		entryMap: make(map[string]rcron.EntryID),
		runCtx:   context.Background(),
	}
}

// ValidateExpr reports whether expr is a schedule the service accepts.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// AddJob schedules fn under name. Jobs may be added before or after Start.
func (s *Service) AddJob(name, expr string, fn JobFunc) (*Job, error) {
	if fn == nil {
		return nil, fmt.Errorf("job %s has no function", name)
	}
	if err := ValidateExpr(expr); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Name == name {
			return nil, fmt.Errorf("job %s already exists", name)
		}
	}

	job := NewJob(name, expr, fn)
	if err := s.registerJob(job); err != nil {
		return nil, err
	}
	s.jobs = append(s.jobs, job)
	return &job, nil
}

func (s *Service) registerJob(job Job) error {
	id, err := s.cron.AddFunc(job.Expr, func() {
		s.executeJob(job.ID)
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", job.Name, job.Expr, err)
	}
	s.entryMap[job.ID] = id
	return nil
}

// RunJob executes the job immediately, outside its schedule.
func (s *Service) RunJob(id string) error {
	s.mu.Lock()
	found := s.indexLocked(id) >= 0
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("job %s not found", id)
	}
	s.executeJob(id)
	return nil
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	job := s.jobs[i]
	ctx := s.runCtx
	s.mu.Unlock()

	log.Printf("[cron] executing job %s (%s)", job.Name, job.ID)
	result, err := job.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &s.jobs[i].State
	state.LastRunAt = time.Now()
	state.Runs++
	if err != nil {
		state.LastStatus = "error"
		state.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", job.Name, err)
	} else {
		state.LastStatus = "ok"
		state.LastError = ""
		log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
	}
}

// ListJobs returns copies of the jobs with their run state.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	s.jobs[i].Enabled = enabled
	if enabled {
		if _, ok := s.entryMap[id]; !ok {
			if err := s.registerJob(s.jobs[i]); err != nil {
				return nil, err
			}
		}
	} else if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	job := s.jobs[i]
	return &job, nil
}

// NextRun reports when the job fires next. It is zero for a disabled or
// unknown job.
func (s *Service) NextRun(id string) time.Time {
	s.mu.Lock()
	entryID, ok := s.entryMap[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	e := s.cron.Entry(entryID)
	if e.Next.IsZero() && e.Schedule != nil {
		// The scheduler fills Next in asynchronously after Start.
		return e.Schedule.Next(time.Now())
	}
	return e.Next
}

// Job returns a copy of the job with its run state.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Job{}, false
	}
	return s.jobs[i], true
}

func (s *Service) indexLocked(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
