package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/session"
)

type recordingMiddleware struct {
	name  string
	err   error
	order *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) Execute(ctx *Context, next Handler) error {
	*m.order = append(*m.order, m.name)
	if m.err != nil {
		return m.err
	}
	return next(ctx)
}

func TestChain(t *testing.T) {
	t.Run("empty chain executes final handler", func(t *testing.T) {
		executed := false
		err := NewChain().Execute(NewContext(context.Background()), func(*Context) error {
			executed = true
			return nil
		})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !executed {
			t.Error("final handler was not executed")
		}
	})

	t.Run("middlewares run in order", func(t *testing.T) {
		var order []string
		chain := NewChain(&recordingMiddleware{name: "m1", order: &order}).
			Add(&recordingMiddleware{name: "m2", order: &order})

		chain.Execute(NewContext(context.Background()), func(*Context) error {
			order = append(order, "final")
			return nil
		})

		if got := strings.Join(order, ","); got != "m1,m2,final" {
			t.Errorf("order = %s", got)
		}
		if got := strings.Join(chain.Names(), ","); got != "m1,m2" {
			t.Errorf("Names() = %s", got)
		}
	})

	t.Run("error stops chain and is recorded", func(t *testing.T) {
		var order []string
		boom := errors.New("boom")
		chain := NewChain(
			&recordingMiddleware{name: "m1", err: boom, order: &order},
			&recordingMiddleware{name: "m2", order: &order},
		)
		ctx := NewContext(context.Background())

		finalCalled := false
		err := chain.Execute(ctx, func(*Context) error {
			finalCalled = true
			return nil
		})

		if !errors.Is(err, boom) || !errors.Is(ctx.Error, boom) {
			t.Errorf("err = %v, ctx.Error = %v", err, ctx.Error)
		}
		if finalCalled || len(order) != 1 {
			t.Error("chain continued after error")
		}
	})
}

type answererFunc func(ctx context.Context, q string, h session.History, mode string) (*esg.Response, error)

func (f answererFunc) Answer(ctx context.Context, q string, h session.History, mode string) (*esg.Response, error) {
	return f(ctx, q, h, mode)
}

func TestAnswerHandler(t *testing.T) {
	var gotQ, gotMode string
	var gotHistory session.History
	a := answererFunc(func(_ context.Context, q string, h session.History, mode string) (*esg.Response, error) {
		gotQ, gotHistory, gotMode = q, h, mode
		return &esg.Response{Answer: "ok", Sources: []string{"a.json"}}, nil
	})

	ctx := NewContext(context.Background())
	ctx.Question, ctx.Mode = "台積電 用水", "esg"
	ctx.History = session.History{{User: "u", Assistant: "a"}}

	if err := AnswerHandler(a)(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQ != "台積電 用水" || gotMode != "esg" || len(gotHistory) != 1 {
		t.Errorf("answerer called with %q %q %v", gotQ, gotMode, gotHistory)
	}
	if ctx.Response == nil || ctx.Response.Answer != "ok" {
		t.Errorf("Response = %+v", ctx.Response)
	}

	failing := answererFunc(func(context.Context, string, session.History, string) (*esg.Response, error) {
		return nil, errors.New("down")
	})
	ctx = NewContext(context.Background())
	if err := AnswerHandler(failing)(ctx); err == nil || ctx.Response != nil {
		t.Errorf("err = %v, Response = %+v", err, ctx.Response)
	}
}

func TestContextDefaultsToBackground(t *testing.T) {
	if (&Context{}).Context() == nil {
		t.Error("Context() returned nil")
	}
}
