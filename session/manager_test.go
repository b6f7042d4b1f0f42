package session_test

import (
	"context"
	"testing"

	"github.com/sweetpotato0/esg-rag/contrib/session/inmemory"
	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/pkg/logging"
	"github.com/sweetpotato0/esg-rag/session"
)

func TestManagerAppendCreatesSession(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(inmemory.NewStore(), session.WithHistoryLimit(2), session.WithLogger(logging.Discard()))

	h, err := mgr.History(ctx, "s1")
	if err != nil || h != nil {
		t.Fatalf("History of unknown session = %v, %v", h, err)
	}

	for _, q := range []string{"q1", "q2", "q3"} {
		if _, err := mgr.Append(ctx, "s1", "news", session.Turn{User: q, Assistant: "a"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rec, err := mgr.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Mode != "news" || len(rec.History) != 2 || rec.History[1].User != "q3" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := mgr.SetTitle(ctx, "s1", "台積電新聞"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	rec, _ = mgr.Get(ctx, "s1")
	if rec.Title != "台積電新聞" {
		t.Fatalf("title = %q", rec.Title)
	}
}

func TestManagerErrors(t *testing.T) {
	ctx := context.Background()
	mgr := session.NewManager(inmemory.NewStore(), session.WithLogger(logging.Discard()))

	if _, err := mgr.Get(ctx, ""); !errorskg.Is(err, errorskg.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := mgr.Get(ctx, "missing"); !errorskg.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mgr.Delete(ctx, "missing"); !errorskg.Is(err, errorskg.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
