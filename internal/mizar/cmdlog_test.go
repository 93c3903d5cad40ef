package mizar

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunLoggedCapturesStreams(t *testing.T) {
	exe := NewExecutor(context.Background())
	cmd := exec.Command("sh", "-c", "echo out1; echo err1 >&2; echo out2")

	res, err := runLogged(exe, cmd, false)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"out1", "out2"}, res.Stdout)
	require.Equal(t, []string{"err1"}, res.Stderr)
}

func TestRunLoggedNonZeroExit(t *testing.T) {
	exe := NewExecutor(context.Background())
	cmd := exec.Command("sh", "-c", "echo 'error: target not found: foo'; exit 4")

	res, err := runLogged(exe, cmd, false)
	require.NoError(t, err)
	require.Equal(t, 4, res.ExitCode)
	require.Equal(t, []string{"error: target not found: foo"}, res.Stdout)
}

func TestRunLoggedStartFailure(t *testing.T) {
	exe := NewExecutor(context.Background())
	cmd := exec.Command("/nonexistent/definitely-not-a-binary")

	_, err := runLogged(exe, cmd, false)
	require.Error(t, err)
}

func TestYesReader(t *testing.T) {
	buf := make([]byte, 6)
	n, err := yesReader{}.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "y\ny\ny\n", string(buf))

	one := make([]byte, 1)
	n, err = yesReader{}.Read(one)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('y'), one[0])
}
