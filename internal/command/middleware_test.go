package command

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/ec-ordering/internal/domain/order"
	"github.com/example/ec-ordering/internal/etag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestChain_RunsInDeclaredOrder(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next Next) Next {
			return func(ctx context.Context, cmd Command) (any, error) {
				trace = append(trace, name+">")
				res, err := next(ctx, cmd)
				trace = append(trace, "<"+name)
				return res, err
			}
		}
	}
	final := func(context.Context, Command) (any, error) {
		trace = append(trace, "handler")
		return "done", nil
	}

	res, err := Chain(final, mark("a"), mark("b"))(context.Background(), DeleteOrder{OrderID: "x"})

	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, trace)
}

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&order.ValidationError{Field: "items", Reason: "empty"}, OutcomeInvalid},
		{fmt.Errorf("wrap: %w", order.ErrInvalidStatus), OutcomeInvalid},
		{fmt.Errorf("%w: stale", etag.ErrInvalidEtag), OutcomePreconditionFailed},
		{order.ErrOrderNotFound, OutcomeNotFound},
		{errors.New("boom"), OutcomeError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Outcome(tc.err), "%v", tc.err)
	}
}

func TestValidation_ShortCircuits(t *testing.T) {
	called := false
	next := func(context.Context, Command) (any, error) {
		called = true
		return nil, nil
	}

	_, err := Validation()(next)(context.Background(), DeleteOrder{})

	assert.ErrorIs(t, err, order.ErrValidation)
	assert.False(t, called)
}

func TestLogging_LevelByOutcome(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	fail := func(err error) Next {
		return func(context.Context, Command) (any, error) { return nil, err }
	}

	_, _ = Logging(log)(fail(nil))(context.Background(), DeleteOrder{OrderID: "x"})
	_, _ = Logging(log)(fail(order.ErrOrderNotFound))(context.Background(), DeleteOrder{OrderID: "x"})
	_, _ = Logging(log)(fail(errors.New("db down")))(context.Background(), DeleteOrder{OrderID: "x"})

	require.Equal(t, 3, logs.Len())
	entries := logs.AllUntimed()
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, "delete_order", entries[0].ContextMap()["command"])
	assert.Equal(t, OutcomeNotFound, entries[1].ContextMap()["outcome"])
}

func TestCommands_Validate(t *testing.T) {
	assert.NoError(t, createCmd().Validate())

	c := createCmd()
	c.CustomerID = " "
	assert.ErrorIs(t, c.Validate(), order.ErrValidation)

	u := updateCmd("", `W/"0"`, 1)
	assert.ErrorIs(t, u.Validate(), order.ErrValidation)

	u = updateCmd("id", `W/"0"`, 1)
	u.Status = "nope"
	var verr *order.ValidationError
	require.ErrorAs(t, u.Validate(), &verr)
	assert.Equal(t, "status", verr.Field)
}
