package token_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-client/internal/token"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) SetAPNSToken(deviceID []byte) {
	m.Called(deviceID)
}

func recordTransitions(r *token.Registry) *[]token.Change {
	var changes []token.Change
	r.Subscribe(func(c token.Change) { changes = append(changes, c) })
	return &changes
}

func TestRegistry_Transitions(t *testing.T) {
	t.Run("First issuance then same token", func(t *testing.T) {
		r := token.NewRegistry(nil, newTestLogger())
		changes := recordTransitions(r)

		_, ok := r.Current()
		require.False(t, ok)

		c, ok := r.Issue("abc")
		require.True(t, ok)
		assert.Equal(t, token.FirstIssuance, c.Transition)
		cur, _ := r.Current()
		assert.Equal(t, "abc", cur)

		c, ok = r.Issue("abc")
		require.True(t, ok)
		assert.Equal(t, token.Unchanged, c.Transition)
		cur, _ = r.Current()
		assert.Equal(t, "abc", cur)

		require.Len(t, *changes, 2)
		assert.Equal(t, token.FirstIssuance, (*changes)[0].Transition)
		assert.Equal(t, token.Unchanged, (*changes)[1].Transition)
	})

	t.Run("First issuance then different token", func(t *testing.T) {
		r := token.NewRegistry(nil, newTestLogger())
		changes := recordTransitions(r)

		r.Issue("abc")
		c, ok := r.Issue("xyz")
		require.True(t, ok)

		assert.Equal(t, token.Changed, c.Transition)
		assert.Equal(t, "abc", c.Previous)
		assert.Equal(t, "xyz", c.Current)
		assert.Equal(t, "abc", r.Previous())

		cur, _ := r.Current()
		assert.Equal(t, "xyz", cur)
		require.Len(t, *changes, 2)
		assert.Equal(t, []token.Transition{token.FirstIssuance, token.Changed},
			[]token.Transition{(*changes)[0].Transition, (*changes)[1].Transition})
	})

	t.Run("Empty token is a no-op", func(t *testing.T) {
		r := token.NewRegistry(nil, newTestLogger())
		changes := recordTransitions(r)

		_, ok := r.Issue("")
		assert.False(t, ok)
		_, present := r.Current()
		assert.False(t, present)

		r.Issue("abc")
		_, ok = r.Issue("")
		assert.False(t, ok)
		cur, _ := r.Current()
		assert.Equal(t, "abc", cur)
		assert.Len(t, *changes, 1, "empty issuances are never classified")
	})

	t.Run("Current tracks the latest non-empty issuance", func(t *testing.T) {
		r := token.NewRegistry(nil, newTestLogger())
		seq := []string{"a", "", "b", "b", "", "c", "a", ""}
		last := ""
		for _, tok := range seq {
			r.Issue(tok)
			if tok != "" {
				last = tok
			}
			cur, _ := r.Current()
			assert.Equal(t, last, cur)
		}
	})

	t.Run("Unsubscribed observers stop receiving", func(t *testing.T) {
		r := token.NewRegistry(nil, newTestLogger())
		calls := 0
		unsub := r.Subscribe(func(token.Change) { calls++ })
		r.Issue("abc")
		unsub()
		unsub()
		r.Issue("xyz")
		assert.Equal(t, 1, calls)
	})
}

func TestRegistry_Restore(t *testing.T) {
	r := token.NewRegistry(nil, newTestLogger())
	r.Restore(&push.TokenRecord{Token: "abc", DeviceID: "0a0b"})

	c, ok := r.Issue("abc")
	require.True(t, ok)
	assert.Equal(t, token.Unchanged, c.Transition)

	id, ok := r.DeviceIdentifier()
	require.True(t, ok)
	assert.Equal(t, "0a0b", id)

	r.Restore(nil)
	cur, _ := r.Current()
	assert.Equal(t, "abc", cur)
}

func TestRegistry_DeviceIdentifier(t *testing.T) {
	bridge := new(mockBridge)
	r := token.NewRegistry(bridge, newTestLogger())

	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	bridge.On("SetAPNSToken", raw).Return().Once()

	r.ForwardDeviceIdentifier(raw)
	r.ForwardDeviceIdentifier(nil)

	id, ok := r.DeviceIdentifier()
	require.True(t, ok)
	assert.Equal(t, "deadbeef", id)
	bridge.AssertExpectations(t)

	// Registration failures are terminal and leave state untouched.
	r.RegistrationFailed(errors.New("no entitlement"))
	_, ok = r.Current()
	assert.False(t, ok)
}
