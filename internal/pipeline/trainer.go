package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
)

// Environment variables handed to an ExecTrainer command.
const (
	EnvLabeledPath = "CLUSTERPROMOTE_LABELED_PATH"
	EnvPartitions  = "CLUSTERPROMOTE_PARTITIONS"
	EnvExperiment  = "CLUSTERPROMOTE_EXPERIMENT"
)

// maxTrainerOutput bounds the captured trainer output kept for errors.
const maxTrainerOutput = 64 << 10

// ErrTrainerTimeout is returned when the trainer command exceeds Timeout.
var ErrTrainerTimeout = errors.New("pipeline: trainer timed out")

// #region exec-trainer
// ExecTrainer runs an external command that trains one model per partition.
// The command reads the labeled CSV named by CLUSTERPROMOTE_LABELED_PATH and
// logs its runs to the registry itself.
type ExecTrainer struct {
	Command []string
	Dir     string
	// Timeout of zero means no limit beyond ctx.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Train runs the command and fails on a non-zero exit.
func (t *ExecTrainer) Train(ctx context.Context, req TrainRequest) error {
	if len(t.Command) == 0 {
		return errors.New("pipeline: trainer command is empty")
	}
	logger := logging.OrDiscard(t.Logger)

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	cmd.Dir = t.Dir
	cmd.Env = append(os.Environ(),
		EnvLabeledPath+"="+req.LabeledPath,
		EnvPartitions+"="+strconv.Itoa(req.Partitions),
		EnvExperiment+"="+req.Experiment,
	)
	out := &limitedBuffer{limit: maxTrainerOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("starting trainer",
		"command", strings.Join(t.Command, " "),
		"partitions", req.Partitions,
		"labeled_path", req.LabeledPath,
	)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Warn("trainer timed out", "timeout", t.Timeout)
		return fmt.Errorf("%w after %s", ErrTrainerTimeout, elapsed.Round(time.Millisecond))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("trainer exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(out.String()))
		}
		return fmt.Errorf("run trainer: %w", err)
	}

	logger.Info("trainer finished", "duration", elapsed)
	return nil
}
// #endregion exec-trainer

// limitedBuffer keeps the first limit bytes written and drops the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
