package errorhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/sweetpotato0/esg-rag/middleware"
)

func TestErrorHandler(t *testing.T) {
	t.Run("catches error from next middleware", func(t *testing.T) {
		var caught error
		handler := NewErrorHandler(func(_ *middleware.Context, err error) error {
			caught = err
			return nil // suppress error
		})

		err := handler.Execute(middleware.NewContext(context.Background()), func(*middleware.Context) error {
			return errors.New("test error")
		})

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if caught == nil {
			t.Error("error was not caught")
		}
	})

	t.Run("passes through non-errors", func(t *testing.T) {
		handlerCalled := false
		handler := NewErrorHandler(func(_ *middleware.Context, err error) error {
			handlerCalled = true
			return err
		})

		err := handler.Execute(middleware.NewContext(context.Background()), func(*middleware.Context) error {
			return nil
		})

		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if handlerCalled {
			t.Error("error handler should not be called for nil errors")
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		handler := NewErrorHandler(func(_ *middleware.Context, err error) error { return err })

		err := handler.Execute(middleware.NewContext(context.Background()), func(*middleware.Context) error {
			panic("nil map")
		})

		var pe *PanicError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %v, want *PanicError", err)
		}
		if pe.Value != "nil map" || len(pe.Stack) == 0 {
			t.Errorf("PanicError = %+v", pe)
		}
	})

	t.Run("nil handler keeps error", func(t *testing.T) {
		boom := errors.New("boom")
		err := NewErrorHandler(nil).Execute(middleware.NewContext(context.Background()), func(*middleware.Context) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})
}
