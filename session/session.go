package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Turn is one completed exchange of a conversation.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// MarshalJSON encodes a turn as a [user, assistant] pair, the shape chat
// clients send history in.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.User, t.Assistant})
}

// UnmarshalJSON accepts both the pair form and the object form.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		switch len(pair) {
		case 2:
			t.User, t.Assistant = pair[0], pair[1]
		case 1:
			t.User, t.Assistant = pair[0], ""
		default:
			return fmt.Errorf("turn must have 2 elements, got %d", len(pair))
		}
		return nil
	}

	var obj struct {
		User      string `json:"user"`
		Assistant string `json:"assistant"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode turn: %w", err)
	}
	t.User, t.Assistant = obj.User, obj.Assistant
	return nil
}

// History is an ordered list of turns, most recent last.
type History []Turn

// Window returns the last n turns. n <= 0 yields an empty history.
func (h History) Window(n int) History {
	if n <= 0 || len(h) == 0 {
		return nil
	}
	if n >= len(h) {
		return h
	}
	return h[len(h)-n:]
}

// Render formats the history the way prompts quote earlier conversation.
func (h History) Render() string {
	lines := make([]string, 0, len(h))
	for _, t := range h {
		lines = append(lines, "使用者："+t.User+"\n助理："+t.Assistant)
	}
	return strings.Join(lines, "\n")
}

// Clone returns an independent copy.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Record is the persisted state of one chat session.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	History   History   `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates an empty record stamped with the current time.
func NewRecord(id, mode string) *Record {
	now := time.Now()
	return &Record{ID: id, Mode: mode, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.History = r.History.Clone()
	return &c
}

// Append adds a turn, keeping at most limit turns when limit > 0.
func (r *Record) Append(turn Turn, limit int) {
	r.History = append(r.History, turn)
	if limit > 0 && len(r.History) > limit {
		r.History = r.History.Window(limit).Clone()
	}
	r.UpdatedAt = time.Now()
}

// Store defines the interface for session storage backends that operate on
// serializable session records.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}
