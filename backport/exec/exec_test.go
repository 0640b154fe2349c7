package exec_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/cherrysync/backport/exec"
)

func TestRun_success(t *testing.T) {
	t.Parallel()

	r := &exec.Runner{}

	out, err := r.Run(
		context.Background(), "echo", "hello",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestRun_withDir(t *testing.T) {
	t.Parallel()

	r := &exec.Runner{Dir: "/tmp"}

	out, err := r.Run(context.Background(), "pwd")

	require.NoError(t, err)
	assert.Contains(t, out, "/tmp")
}

func TestRun_failure(t *testing.T) {
	t.Parallel()

	r := &exec.Runner{}

	_, err := r.Run(context.Background(), "false")

	assert.Error(t, err)
}

func TestRun_timeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	r := &exec.Runner{}

	_, err := r.Run(ctx, "sleep", "5")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_redactsErrorArgs(t *testing.T) {
	t.Parallel()

	r := &exec.Runner{
		Redact: func(s string) string {
			return strings.ReplaceAll(
				s, "hunter2", "***",
			)
		},
	}

	_, err := r.Run(
		context.Background(),
		"false", "--password", "hunter2",
	)

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "***")
}
