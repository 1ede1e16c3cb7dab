package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerDisabledWithoutHostPort(t *testing.T) {
	m := NewManager(Config{}, &Activities{})

	require.False(t, m.Enabled())
	require.Equal(t, DefaultTaskQueue, m.TaskQueue())

	_, err := m.Deliberate(context.Background(), DeliberationInput{
		Question: "anything",
		Agents:   []string{"deepseek"},
	})
	require.ErrorIs(t, err, ErrDisabled)

	require.ErrorIs(t, m.Start(), ErrDisabled)

	_, err = m.Client()
	require.ErrorIs(t, err, ErrDisabled)

	// Stop on a never-started manager is a no-op.
	m.Stop()
}

func TestManagerConfigDefaults(t *testing.T) {
	m := NewManager(Config{HostPort: "temporal:7233", TaskQueue: "custom-queue"}, &Activities{})
	require.True(t, m.Enabled())
	require.Equal(t, "custom-queue", m.TaskQueue())
}
