package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/notify"
	"github.com/teranos/cadence/pulse/schedule"
)

// EmailPayload describes a notification job. To accepts a string or a list.
type EmailPayload struct {
	To      recipients `json:"to"`
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
}

type recipients []string

func (r *recipients) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one != "" {
			*r = recipients{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Wrap(err, "to must be a string or a list of strings")
	}
	*r = many
	return nil
}

// EmailStrategy hands notifications to a notifier.
// Success means the hand-off worked, not that the message was delivered.
type EmailStrategy struct {
	notifier notify.Notifier
	now      func() time.Time
}

// NewEmailStrategy creates the notification strategy
func NewEmailStrategy(notifier notify.Notifier) *EmailStrategy {
	return &EmailStrategy{notifier: notifier, now: time.Now}
}

// Type implements Strategy
func (s *EmailStrategy) Type() schedule.JobType { return schedule.TypeEmail }

// Execute implements Strategy
func (s *EmailStrategy) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p EmailPayload
	if err := decodePayload(schedule.TypeEmail, payload, &p); err != nil {
		return nil, err
	}

	sentAt := s.now().UTC()
	msg := notify.Message{
		Kind:    notify.KindEmail,
		To:      p.To,
		Subject: p.Subject,
		Body:    p.Body,
		SentAt:  sentAt,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		return nil, &schedule.ExecutionError{Type: schedule.TypeEmail, Err: errors.Wrap(err, "notification hand-off failed")}
	}

	return json.Marshal(map[string]interface{}{
		"sent":    true,
		"to":      []string(p.To),
		"subject": p.Subject,
		"sent_at": sentAt.Format(time.RFC3339Nano),
	})
}
