package store

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/dayplan/internal/agenda"
	"github.com/stellarlinkco/dayplan/internal/config"
)

var ErrInvalidEmail = errors.New("invalid email")

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail trims and lower-cases s and reports whether the result looks
// like local@domain.tld.
func NormalizeEmail(s string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(s))
	return email, emailPattern.MatchString(email)
}

// Registry maps emails to Telegram chat ids and back.
type Registry interface {
	// Register stores chatID for the normalized email, replacing any previous
	// value, and returns the normalized email.
	Register(email string, chatID int64) (string, error)
	ChatID(email string) (int64, bool, error)
	// Email returns an email registered for chatID. When several emails share
	// the chat, which one is returned is unspecified.
	Email(chatID int64) (string, bool, error)
}

// PlanCache keeps the last rendered agenda per email and day.
type PlanCache interface {
	// Touch makes sure an (empty) entry exists for email.
	Touch(email string) error
	Put(email string, day agenda.Day, text string) error
	Get(email string, day agenda.Day) (string, bool, error)
	// Last returns the first cached plan in agenda.LastOrder.
	Last(email string) (string, bool, error)
	// Sweep drops plans written before the cutoff and reports how many.
	Sweep(before time.Time) (int, error)
}

// Stores bundles the two stores of one backend.
type Stores struct {
	Users Registry
	Plans PlanCache
	close func() error
}

func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// Open builds the backend selected by cfg.Driver.
func Open(cfg config.StoreConfig) (*Stores, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.StoreDriverMemory:
		plans, err := NewMemoryPlans(cfg.MaxUsers)
		if err != nil {
			return nil, err
		}
		log.Printf("[store] using memory backend (max %d plan entries)", plans.Capacity())
		return &Stores{Users: NewMemoryRegistry(), Plans: plans}, nil
	case config.StoreDriverSQLite:
		path := cfg.DBPath()
		db, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		log.Printf("[store] using sqlite backend at %s", path)
		return &Stores{Users: db, Plans: db, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func lastOf(get func(agenda.Day) (string, bool, error)) (string, bool, error) {
	for _, day := range agenda.LastOrder {
		text, ok, err := get(day)
		if err != nil {
			return "", false, err
		}
		if ok {
			return text, true, nil
		}
	}
	return "", false, nil
}
