package store

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/session"
)

func TestRedisKeyLayout(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	s := NewRedisStoreWithClient(client, "esgrag:", time.Hour)
	if got := s.sessionKey("abc"); got != "esgrag:session:abc" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := s.setKey(); got != "esgrag:session:set" {
		t.Errorf("setKey = %q", got)
	}
}

func TestRecordEncoding(t *testing.T) {
	rec := session.NewRecord("abc", "esg")
	rec.Append(session.Turn{User: "台積電 2022 用水量", Assistant: "100 噸"}, 0)

	raw, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "abc" || got.Mode != "esg" || len(got.History) != 1 || got.History[0].Assistant != "100 噸" {
		t.Fatalf("decoded record %+v", got)
	}

	if _, err := encodeRecord(&session.Record{}); !errorskg.Is(err, errorskg.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := decodeRecord([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
