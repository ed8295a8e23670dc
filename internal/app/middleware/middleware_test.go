package middleware_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/middleware"
	appoutbox "marketplace/internal/app/outbox"
	"marketplace/internal/app/queries"
	"marketplace/internal/infra/storage/memory"
	"marketplace/internal/infra/validation"
)

type echoCommand struct {
	UserID  string `validate:"required"`
	Text    string `validate:"required,max=5"`
	IdemKey string
}

type echoResult struct {
	Text  string
	Calls int64
}

func (echoCommand) Key() string              { return "test.echo" }
func (c echoCommand) Actor() string          { return c.UserID }
func (c echoCommand) IdempotencyKey() string { return c.IdemKey }
func (echoCommand) ResultPrototype() any     { return &echoResult{} }

type whoamiQuery struct{ UserID string }

func (whoamiQuery) Key() string     { return "test.whoami" }
func (q whoamiQuery) Actor() string { return q.UserID }

func newEchoBus(calls *atomic.Int64, fail error) *commands.InMemoryBus {
	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, echoCommand{}.Key(), commands.HandlerFunc[echoCommand, *echoResult](
		func(_ context.Context, cmd echoCommand) (*echoResult, error) {
			n := calls.Add(1)
			if fail != nil {
				return nil, fail
			}
			return &echoResult{Text: cmd.Text, Calls: n}, nil
		}))
	return bus
}

func TestValidationRejectsBeforeHandler(t *testing.T) {
	var calls atomic.Int64
	bus := middleware.ChainCommands(newEchoBus(&calls, nil), middleware.Validation(validation.New()))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, echoCommand{UserID: "u", Text: "too long"})
	var verr *middleware.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, middleware.ErrValidation)
	assert.NotEmpty(t, verr.Fields)
	assert.Zero(t, calls.Load())
}

func TestAuthorizationRequiresActor(t *testing.T) {
	var calls atomic.Int64
	bus := middleware.ChainCommands(newEchoBus(&calls, nil), middleware.Authorization(middleware.RequireActor{}))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, echoCommand{UserID: " ", Text: "hi"})
	assert.ErrorIs(t, err, middleware.ErrUnauthenticated)
	assert.Zero(t, calls.Load())

	qbus := queries.NewInMemoryBus()
	queries.RegisterHandler(qbus, whoamiQuery{}.Key(), queries.HandlerFunc[whoamiQuery, string](
		func(_ context.Context, q whoamiQuery) (string, error) { return q.UserID, nil }))
	chained := middleware.ChainQueries(qbus, middleware.QueryAuthorization(middleware.RequireActor{}))

	_, err = queries.Ask[whoamiQuery, string](context.Background(), chained, whoamiQuery{})
	assert.ErrorIs(t, err, middleware.ErrUnauthenticated)
	who, err := queries.Ask[whoamiQuery, string](context.Background(), chained, whoamiQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", who)
}

func TestIdempotencyReplaysPerActor(t *testing.T) {
	var calls atomic.Int64
	bus := middleware.ChainCommands(newEchoBus(&calls, nil), middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil))
	ctx := context.Background()

	first, err := commands.Dispatch[echoCommand, *echoResult](ctx, bus, echoCommand{UserID: "alice", Text: "hi", IdemKey: "k1"})
	require.NoError(t, err)
	replay, err := commands.Dispatch[echoCommand, *echoResult](ctx, bus, echoCommand{UserID: "alice", Text: "other", IdemKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first, replay)
	assert.EqualValues(t, 1, calls.Load())

	other, err := commands.Dispatch[echoCommand, *echoResult](ctx, bus, echoCommand{UserID: "bob", Text: "hi", IdemKey: "k1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, other.Calls)

	_, err = commands.Dispatch[echoCommand, *echoResult](ctx, bus, echoCommand{UserID: "alice", Text: "hi"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("boom")
	bus := middleware.ChainCommands(newEchoBus(&calls, boom), middleware.Idempotency(memory.NewIdempotencyStore(0), nil))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := commands.Dispatch[echoCommand, *echoResult](ctx, bus, echoCommand{UserID: "alice", Text: "hi", IdemKey: "k"})
		assert.ErrorIs(t, err, boom)
	}
	assert.EqualValues(t, 2, calls.Load())
}

type failingSink struct{ err error }

func (s failingSink) Publish(context.Context, []appoutbox.EventRecord) error { return s.err }

func TestOutboxFlushKeepsCommandResult(t *testing.T) {
	var calls atomic.Int64
	box := memory.NewOutbox(failingSink{err: errors.New("broker down")})
	require.NoError(t, box.Add(context.Background(), appoutbox.EventRecord{ID: "e1", Name: "test"}))
	bus := middleware.ChainCommands(newEchoBus(&calls, nil), middleware.OutboxFlush(box, nil))

	res, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, echoCommand{UserID: "alice", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
	assert.Len(t, box.Pending(), 1)

	box.Sink = nil
	_, err = commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, echoCommand{UserID: "alice", Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, box.Pending())
}

type recordingObserver struct {
	keys []string
	errs []error
}

func (o *recordingObserver) ObserveCall(kind, key string, _ time.Duration, err error) {
	o.keys = append(o.keys, kind+":"+key)
	o.errs = append(o.errs, err)
}

func TestInstrumentReportsOutcome(t *testing.T) {
	var calls atomic.Int64
	obs := &recordingObserver{}
	bus := middleware.ChainCommands(newEchoBus(&calls, nil), middleware.Instrument(obs, nil))

	_, err := commands.Dispatch[echoCommand, *echoResult](context.Background(), bus, echoCommand{UserID: "u", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"command:test.echo"}, obs.keys)
	assert.Nil(t, obs.errs[0])
}
