// Package selector picks the best registered model family for each
// partition from logged run metrics.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/logging"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/metrics"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
)

// #region keys
// MetricSuffix ends every best-score metric name.
const MetricSuffix = "-best_score"

// MetricKey is the run column holding a family's best score, e.g.
// "metrics.XGBoost0-best_score".
func MetricKey(family string) string {
	return registry.MetricColumnPrefix + family + MetricSuffix
}

// FamilyFromMetricKey strips the column prefix and score suffix.
func FamilyFromMetricKey(key string) (string, bool) {
	if !strings.HasPrefix(key, registry.MetricColumnPrefix) || !strings.HasSuffix(key, MetricSuffix) {
		return "", false
	}
	f := strings.TrimSuffix(strings.TrimPrefix(key, registry.MetricColumnPrefix), MetricSuffix)
	return f, f != ""
}

// ParseFamily splits a registered name into its base and trailing partition
// index: "XGBoost10" is ("XGBoost", 10). Names without trailing digits or
// without a base do not belong to a partition.
func ParseFamily(name string) (base string, partition int, ok bool) {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) || i == 0 {
		return "", 0, false
	}
	p, err := strconv.Atoi(name[i:])
	if err != nil {
		return "", 0, false
	}
	return name[:i], p, true
}
// #endregion keys

// #region errors
var ErrMissingPartitionCandidate = errors.New("selector: no candidate for partition")

// MissingCandidateError names the partition that had no logged candidate.
type MissingCandidateError struct {
	Partition int
}

func (e *MissingCandidateError) Error() string {
	return fmt.Sprintf("selector: no candidate for partition %d", e.Partition)
}

func (e *MissingCandidateError) Unwrap() error { return ErrMissingPartitionCandidate }
// #endregion errors

// #region winners
// Winner is the best family for one partition.
type Winner struct {
	Partition int     `json:"partition"`
	Family    string  `json:"family"`
	Base      string  `json:"base"`
	MetricKey string  `json:"metric_key"`
	Score     float64 `json:"score"`
}

// Winners holds exactly one entry per partition, in partition order.
type Winners []Winner

// Bases returns the winning base names, e.g. ["A", "A"].
func (w Winners) Bases() []string {
	out := make([]string, len(w))
	for i, x := range w {
		out[i] = x.Base
	}
	return out
}

// Families returns the winning registered family names, e.g. ["A0", "A1"].
func (w Winners) Families() []string {
	out := make([]string, len(w))
	for i, x := range w {
		out[i] = x.Family
	}
	return out
}
// #endregion winners

// #region select
// BestScores returns, per metric column, the maximum value across runs.
// NaN values are ignored.
func BestScores(runs []registry.RunRecord) map[string]float64 {
	best := make(map[string]float64)
	for _, r := range runs {
		for col, v := range r.Columns() {
			if math.IsNaN(v) {
				continue
			}
			if cur, ok := best[col]; !ok || v > cur {
				best[col] = v
			}
		}
	}
	return best
}

// Select computes one winner per partition in [0, k). families is every
// registered name; partitioningFamily is excluded. Within a partition the
// highest score wins and equal scores go to the larger metric key.
func Select(families []string, partitioningFamily string, runs []registry.RunRecord, k int) (Winners, error) {
	if k < 1 {
		return nil, fmt.Errorf("selector: partition count must be at least 1, got %d", k)
	}
	scores := BestScores(runs)

	byPartition := make([][]Winner, k)
	for _, fam := range families {
		if fam == partitioningFamily {
			continue
		}
		base, p, ok := ParseFamily(fam)
		if !ok || p >= k {
			continue
		}
		key := MetricKey(fam)
		score, ok := scores[key]
		if !ok {
			continue
		}
		byPartition[p] = append(byPartition[p], Winner{
			Partition: p, Family: fam, Base: base, MetricKey: key, Score: score,
		})
	}

	out := make(Winners, k)
	for p, cands := range byPartition {
		if len(cands) == 0 {
			return nil, &MissingCandidateError{Partition: p}
		}
		best := cands[0]
		for _, c := range cands[1:] {
			if c.Score > best.Score || (c.Score == best.Score && c.MetricKey > best.MetricKey) {
				best = c
			}
		}
		out[p] = best
	}
	return out, nil
}
// #endregion select

// #region selector
// Selector reads registered families from the registry and selects winners.
type Selector struct {
	families           FamilyLister
	partitioningFamily string
	logger             *slog.Logger
}

// FamilyLister lists registered family names.
type FamilyLister interface {
	ListFamilies(ctx context.Context) ([]string, error)
}

// New builds a Selector. partitioningFamily is never a candidate.
func New(families FamilyLister, partitioningFamily string, logger *slog.Logger) *Selector {
	return &Selector{families: families, partitioningFamily: partitioningFamily, logger: logging.OrDiscard(logger)}
}

// SelectBestModels returns exactly k winners, or a MissingCandidateError
// for the first partition that has none.
func (s *Selector) SelectBestModels(ctx context.Context, runs []registry.RunRecord, k int) (Winners, error) {
	fams, err := s.families.ListFamilies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	winners, err := Select(fams, s.partitioningFamily, runs, k)
	if err != nil {
		var mc *MissingCandidateError
		if errors.As(err, &mc) {
			metrics.IncSelectionFailure()
			s.logger.Error("partition has no candidate", "partition", mc.Partition, "k", k, "families", len(fams), "runs", len(runs))
		}
		return nil, err
	}
	for _, w := range winners {
		s.logger.Info("selected best model", "partition", w.Partition, "family", w.Family, "score", w.Score)
	}
	return winners, nil
}
// #endregion selector
