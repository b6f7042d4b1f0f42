package errorhandler

import (
	"fmt"
	"runtime/debug"

	"github.com/sweetpotato0/esg-rag/middleware"
)

// ErrorHandlerFunc maps an error raised downstream. Returning nil
// suppresses it.
type ErrorHandlerFunc func(*middleware.Context, error) error

// ErrorHandler handles errors in the middleware chain. Panics below it are
// recovered and handled as errors.
type ErrorHandler struct {
	handler ErrorHandlerFunc
}

// PanicError carries a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// NewErrorHandler creates an error handling middleware
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute handles errors from downstream middlewares
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		if err != nil && m.handler != nil {
			err = m.handler(ctx, err)
		}
	}()
	return next(ctx)
}
