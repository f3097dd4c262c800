package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// LabelColumn is the name of the partition-id column appended by the assigner.
const LabelColumn = "Cluster"

var (
	ErrNoRows       = errors.New("dataset: no data rows")
	ErrLabelCount   = errors.New("dataset: label count does not match rows")
	ErrAlreadyLabel = errors.New("dataset: observations already labeled")
)

// #region observations
// Observations is an ordered set of numeric feature rows.
type Observations struct {
	Columns []string
	Data    *mat.Dense
	// Labels holds one partition id per row once assigned; nil before.
	Labels []int
}

// New wraps a feature matrix. Column names default to f0..fn.
func New(data *mat.Dense, columns []string) (*Observations, error) {
	if data == nil || data.IsEmpty() {
		return nil, ErrNoRows
	}
	_, cols := data.Dims()
	if columns == nil {
		columns = make([]string, cols)
		for i := range columns {
			columns[i] = "f" + strconv.Itoa(i)
		}
	}
	if len(columns) != cols {
		return nil, fmt.Errorf("dataset: %d column names for %d columns", len(columns), cols)
	}
	return &Observations{Columns: columns, Data: data}, nil
}

// Rows returns the number of observations.
func (o *Observations) Rows() int {
	r, _ := o.Data.Dims()
	return r
}

// WithLabels returns a copy carrying one label per row. The receiver is
// not modified.
func (o *Observations) WithLabels(labels []int) (*Observations, error) {
	if o.Labels != nil {
		return nil, ErrAlreadyLabel
	}
	if len(labels) != o.Rows() {
		return nil, fmt.Errorf("%w: %d labels, %d rows", ErrLabelCount, len(labels), o.Rows())
	}
	out := &Observations{
		Columns: append([]string(nil), o.Columns...),
		Data:    mat.DenseCopyOf(o.Data),
		Labels:  append([]int(nil), labels...),
	}
	return out, nil
}

// PartitionSizes counts rows per label in [0, k). Empty partitions show as 0.
func (o *Observations) PartitionSizes(k int) []int {
	sizes := make([]int, k)
	for _, l := range o.Labels {
		if l >= 0 && l < k {
			sizes[l]++
		}
	}
	return sizes
}
// #endregion observations

// #region csv
// ReadCSV parses a header row followed by numeric rows. A trailing
// LabelColumn, if present, is read back into Labels.
func ReadCSV(r io.Reader) (*Observations, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	labeled := len(header) > 0 && strings.EqualFold(header[len(header)-1], LabelColumn)
	width := len(header)
	if labeled {
		width--
	}
	if width == 0 {
		return nil, errors.New("dataset: no feature columns")
	}

	var values []float64
	var labels []int
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		for j := 0; j < width; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[j], err)
			}
			values = append(values, v)
		}
		if labeled {
			l, err := strconv.Atoi(strings.TrimSpace(rec[width]))
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, LabelColumn, err)
			}
			labels = append(labels, l)
		}
	}
	if len(values) == 0 {
		return nil, ErrNoRows
	}

	obs := &Observations{
		Columns: append([]string(nil), header[:width]...),
		Data:    mat.NewDense(len(values)/width, width, values),
	}
	if labeled {
		obs.Labels = labels
	}
	return obs, nil
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string) (*Observations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV writes the header and rows, appending LabelColumn when labeled.
func (o *Observations) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string(nil), o.Columns...)
	if o.Labels != nil {
		header = append(header, LabelColumn)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rows, cols := o.Data.Dims()
	rec := make([]string, len(header))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rec[j] = strconv.FormatFloat(o.Data.At(i, j), 'g', -1, 64)
		}
		if o.Labels != nil {
			rec[cols] = strconv.Itoa(o.Labels[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the observations to path, replacing it.
func (o *Observations) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := o.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
// #endregion csv
