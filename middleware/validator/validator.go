package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/middleware"
)

// ValidatorFunc validates a request. Errors should wrap errors.ErrInvalidInput.
type ValidatorFunc func(*middleware.Context) error

// InputValidator rejects malformed requests before they reach the pipeline.
// A blank question is valid; the pipeline answers it with guidance.
type InputValidator struct {
	validators []ValidatorFunc
}

// NewInputValidator creates an input validation middleware running
// validators in order.
func NewInputValidator(validators ...ValidatorFunc) *InputValidator {
	return &InputValidator{validators: validators}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, v := range m.validators {
		if v == nil {
			continue
		}
		if err := v(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// ValidText rejects questions and history turns that are not valid UTF-8
// or contain NUL bytes.
func ValidText() ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if err := checkText("question", ctx.Question); err != nil {
			return err
		}
		for i, t := range ctx.History {
			if err := checkText(fmt.Sprintf("history[%d].user", i), t.User); err != nil {
				return err
			}
			if err := checkText(fmt.Sprintf("history[%d].assistant", i), t.Assistant); err != nil {
				return err
			}
		}
		return nil
	}
}

func checkText(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", errorskg.ErrInvalidInput, field)
	}
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %s contains NUL", errorskg.ErrInvalidInput, field)
	}
	return nil
}

// MaxRunes rejects questions longer than n runes. n <= 0 disables the check.
func MaxRunes(n int) ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if n > 0 && utf8.RuneCountInString(ctx.Question) > n {
			return fmt.Errorf("%w: question exceeds %d characters", errorskg.ErrInvalidInput, n)
		}
		return nil
	}
}

// MaxHistory rejects requests carrying more than n turns. n <= 0 disables
// the check.
func MaxHistory(n int) ValidatorFunc {
	return func(ctx *middleware.Context) error {
		if n > 0 && len(ctx.History) > n {
			return fmt.Errorf("%w: history exceeds %d turns", errorskg.ErrInvalidInput, n)
		}
		return nil
	}
}
