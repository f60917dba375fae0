package telephony

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/clawdbot/callnode/modules/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandDialerUnavailable(t *testing.T) {
	d := NewCommandDialer(command.Template{Command: "callnode-no-such-dialer"}, nil, nil)
	assert.ErrorIs(t, d.Available(), ErrPermissionDenied)
}

func TestCommandDialerDials(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var got []string
	runner := func(_ context.Context, _ string, args []string) error {
		got = args
		return nil
	}
	d := NewCommandDialer(command.Template{Command: "sh"}, runner, nil)
	require.NoError(t, d.Available())
	require.NoError(t, d.Dial(context.Background(), " +15551234567 "))
	assert.Equal(t, []string{"+15551234567"}, got)
	assert.Error(t, d.Dial(context.Background(), ""))
}

func TestCommandDialerPropagatesFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	boom := errors.New("telephony service crashed")
	d := NewCommandDialer(command.Template{Command: "sh"}, func(context.Context, string, []string) error { return boom }, nil)
	assert.ErrorIs(t, d.Dial(context.Background(), "1"), boom)
}
