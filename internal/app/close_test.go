package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockCloser records Close calls.
type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestApp_CloseRunsEveryCloserInReverse(t *testing.T) {
	t.Parallel()

	var order []string
	first, second := new(mockCloser), new(mockCloser)
	first.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "first") }).
		Return(errors.New("db error")).Once()
	second.On("Close", mock.Anything).Run(func(mock.Arguments) { order = append(order, "second") }).
		Return(errors.New("queue error")).Once()

	a := &App{Logger: zap.NewNop(), closers: []func(context.Context) error{first.Close, second.Close}}
	err := a.Close(context.Background())

	require.ErrorContains(t, err, "db error")
	require.ErrorContains(t, err, "queue error")
	require.Equal(t, []string{"second", "first"}, order)
	first.AssertExpectations(t)
	second.AssertExpectations(t)

	// A second Close is a no-op.
	require.NoError(t, a.Close(context.Background()))
}

func TestApp_CloseNil(t *testing.T) {
	t.Parallel()

	var a *App
	require.NoError(t, a.Close(context.Background()))
}

func TestApp_ReadyStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	healthy, failing, unreached := new(mockPinger), new(mockPinger), new(mockPinger)
	healthy.On("Ping", mock.Anything).Return(nil).Once()
	failing.On("Ping", mock.Anything).Return(errors.New("redis ping: refused")).Once()

	a := &App{readiness: []func(context.Context) error{healthy.Ping, failing.Ping, unreached.Ping}}
	require.ErrorContains(t, a.Ready(context.Background()), "refused")

	healthy.AssertExpectations(t)
	failing.AssertExpectations(t)
	unreached.AssertNotCalled(t, "Ping", mock.Anything)
}
