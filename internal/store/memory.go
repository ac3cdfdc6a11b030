package store

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stellarlinkco/dayplan/internal/agenda"
	"github.com/stellarlinkco/dayplan/internal/config"
)

// MemoryRegistry is a process-lifetime Registry with a chat id index.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byEmail map[string]int64
	byChat  map[int64]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byEmail: make(map[string]int64),
		byChat:  make(map[int64]string),
	}
}

func (r *MemoryRegistry) Register(email string, chatID int64) (string, error) {
	email, ok := NormalizeEmail(email)
	if !ok {
		return "", ErrInvalidEmail
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.byEmail[email]; exists && old != chatID && r.byChat[old] == email {
		delete(r.byChat, old)
		// Another email may still point at the old chat.
		for e, id := range r.byEmail {
			if id == old && e != email {
				r.byChat[old] = e
				break
			}
		}
	}
	r.byEmail[email] = chatID
	r.byChat[chatID] = email
	return email, nil
}

func (r *MemoryRegistry) ChatID(email string) (int64, bool, error) {
	email, _ = NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	return id, ok, nil
}

func (r *MemoryRegistry) Email(chatID int64) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email, ok := r.byChat[chatID]
	return email, ok, nil
}

type planEntry struct {
	texts   map[agenda.Day]string
	updated map[agenda.Day]time.Time
}

func newPlanEntry() *planEntry {
	return &planEntry{
		texts:   make(map[agenda.Day]string),
		updated: make(map[agenda.Day]time.Time),
	}
}

// MemoryPlans is a PlanCache bounded to a fixed number of emails; the least
// recently used email is evicted first.
type MemoryPlans struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *planEntry]
	capacity int
	now      func() time.Time
}

func NewMemoryPlans(maxUsers int) (*MemoryPlans, error) {
	if maxUsers <= 0 {
		maxUsers = config.DefaultStoreMaxUsers
	}
	cache, err := lru.New[string, *planEntry](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}
	return &MemoryPlans{entries: cache, capacity: maxUsers, now: time.Now}, nil
}

func (p *MemoryPlans) Capacity() int {
	return p.capacity
}

func (p *MemoryPlans) Touch(email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entryLocked(email)
	return nil
}

func (p *MemoryPlans) Put(email string, day agenda.Day, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entryLocked(email)
	e.texts[day] = text
	e.updated[day] = p.now()
	return nil
}

func (p *MemoryPlans) Get(email string, day agenda.Day) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Get(email)
	if !ok {
		return "", false, nil
	}
	text, ok := e.texts[day]
	return text, ok, nil
}

func (p *MemoryPlans) Last(email string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries.Get(email)
	if !ok {
		return "", false, nil
	}
	return lastOf(func(day agenda.Day) (string, bool, error) {
		text, ok := e.texts[day]
		return text, ok, nil
	})
}

func (p *MemoryPlans) Sweep(before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for _, email := range p.entries.Keys() {
		e, ok := p.entries.Peek(email)
		if !ok {
			continue
		}
		for day, at := range e.updated {
			if at.Before(before) {
				delete(e.texts, day)
				delete(e.updated, day)
				dropped++
			}
		}
	}
	return dropped, nil
}

// Len reports the number of emails with an entry.
func (p *MemoryPlans) Len() int {
	return p.entries.Len()
}

func (p *MemoryPlans) entryLocked(email string) *planEntry {
	if e, ok := p.entries.Get(email); ok {
		return e
	}
	e := newPlanEntry()
	p.entries.Add(email, e)
	return e
}
