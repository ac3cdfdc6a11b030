package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/stellarlinkco/dayplan/internal/agenda"
	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/conversation"
	"github.com/stellarlinkco/dayplan/internal/store"
)

type Status string

const (
	StatusDelivered     Status = "ok"
	StatusNotRegistered Status = "user not registered"
	StatusInvalidDay    Status = "invalid day"
)

// Request is one calendar push: the events of one day for one mailbox.
// Events is kept raw; its shape is decided by agenda.Decode.
type Request struct {
	Email  string          `json:"email"`
	Day    string          `json:"day"`
	Events json.RawMessage `json:"events"`
}

type Result struct {
	Status     Status `json:"status"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Day        string `json:"day,omitempty"`
	Events     int    `json:"events"`
	Skipped    int    `json:"skipped,omitempty"`
	Shape      string `json:"shape,omitempty"`
}

type Sender interface {
	Send(chatID int64, text string, keyboard bus.Keyboard)
}

type Handler struct {
	users  store.Registry
	plans  store.PlanCache
	sender Sender
	newID  func() string
}

func NewHandler(users store.Registry, plans store.PlanCache, sender Sender) *Handler {
	return &Handler{
		users:  users,
		plans:  plans,
		sender: sender,
		newID:  uuid.NewString,
	}
}

// Ingest renders req for its day, caches the text and pushes it to the
// registered chat. Nothing is cached or sent for an unknown mailbox or day.
func (h *Handler) Ingest(req Request) (Result, error) {
	day, err := agenda.ParseDay(req.Day)
	if err != nil {
		log.Printf("[ingest] rejected push for %s: %v", req.Email, err)
		return Result{Status: StatusInvalidDay}, nil
	}

	batch := agenda.Decode(req.Events)
	if batch.Shape == agenda.ShapeUnrecognized && hasPayload(req.Events) {
		log.Printf("[ingest] unrecognized events payload for %s, delivering empty %s plan", req.Email, day)
	}
	if batch.Skipped > 0 {
		log.Printf("[ingest] skipped %d malformed events for %s", batch.Skipped, req.Email)
	}

	email, _ := store.NormalizeEmail(req.Email)
	chatID, ok, err := h.users.ChatID(email)
	if err != nil {
		return Result{}, fmt.Errorf("resolve chat for %s: %w", email, err)
	}
	result := Result{
		Day:     day.String(),
		Events:  len(batch.Events),
		Skipped: batch.Skipped,
		Shape:   batch.Shape.String(),
	}
	if !ok {
		log.Printf("[ingest] %s is not registered, dropping %s plan", email, day)
		result.Status = StatusNotRegistered
		return result, nil
	}

	text := agenda.FormatDay(day, batch.Events)
	if err := h.plans.Put(email, day, text); err != nil {
		return Result{}, fmt.Errorf("cache %s plan for %s: %w", day, email, err)
	}

	h.sender.Send(chatID, text, conversation.MainMenu())

	result.Status = StatusDelivered
	result.DeliveryID = h.newID()
	log.Printf("[ingest] delivered %s plan to %s (%d events, shape %s, id %s)", day, email, result.Events, result.Shape, result.DeliveryID)
	return result, nil
}

func hasPayload(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
