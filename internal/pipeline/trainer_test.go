package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecTrainerPassesEnvironment(t *testing.T) {
	tr := &ExecTrainer{Command: []string{"sh", "-c",
		`test "$CLUSTERPROMOTE_PARTITIONS" = 3 && test "$CLUSTERPROMOTE_LABELED_PATH" = /tmp/labeled.csv && test "$CLUSTERPROMOTE_EXPERIMENT" = phising`,
	}}
	err := tr.Train(context.Background(), TrainRequest{Experiment: "phising", LabeledPath: "/tmp/labeled.csv", Partitions: 3})
	assert.NoError(t, err)
}

func TestExecTrainerNonZeroExit(t *testing.T) {
	tr := &ExecTrainer{Command: []string{"sh", "-c", "echo cannot read labels >&2; exit 4"}}
	err := tr.Train(context.Background(), TrainRequest{Partitions: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 4")
	assert.Contains(t, err.Error(), "cannot read labels")
}

func TestExecTrainerTimeout(t *testing.T) {
	tr := &ExecTrainer{Command: []string{"sleep", "5"}, Timeout: 50 * time.Millisecond}
	err := tr.Train(context.Background(), TrainRequest{Partitions: 1})
	assert.ErrorIs(t, err, ErrTrainerTimeout)
}

func TestExecTrainerEmptyCommand(t *testing.T) {
	err := (&ExecTrainer{}).Train(context.Background(), TrainRequest{})
	assert.Error(t, err)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
	assert.False(t, strings.Contains(b.String(), "e"))
}
