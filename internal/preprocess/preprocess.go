// Package preprocess applies the frozen, fitted column transform that maps
// engineered applicant records to the classifier's feature vector.
package preprocess

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Unknown-category policies of a categorical column.
const (
	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

// Record is the input accepted by Transform.
// domain.EngineeredRecord implements it.
type Record interface {
	FieldNames() []string
	Numeric(name string) (float64, bool)
	Categorical(name string) (string, bool)
}

// NumericColumn is a standard-scaled column.
type NumericColumn struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// CategoricalColumn is a one-hot encoded column.
type CategoricalColumn struct {
	Name          string    `json:"name"`
	Categories    []string  `json:"categories"`
	HandleUnknown string    `json:"handle_unknown"`
	Frequencies   []float64 `json:"frequencies,omitempty"`
}

// Spec is the serialized form of a fitted preprocessor.
type Spec struct {
	RunID        string              `json:"run_id"`
	InputColumns []string            `json:"input_columns"`
	Numeric      []NumericColumn     `json:"numeric"`
	Categorical  []CategoricalColumn `json:"categorical"`
}

// Preprocessor is an immutable fitted transform.
// Transform is a pure function of its parameters and safe for concurrent use.
type Preprocessor struct {
	spec        Spec
	outputNames []string
	groups      map[string]string
}

// New validates spec and builds a Preprocessor.
func New(spec Spec) (*Preprocessor, error) {
	if len(spec.InputColumns) == 0 {
		return nil, fmt.Errorf("preprocessor has no input columns")
	}

	inputs := make(map[string]bool, len(spec.InputColumns))
	for _, c := range spec.InputColumns {
		if inputs[c] {
			return nil, fmt.Errorf("duplicate input column %s", c)
		}
		inputs[c] = true
	}

	mapped := make(map[string]bool, len(inputs))
	p := &Preprocessor{
		spec:   spec,
		groups: make(map[string]string),
	}

	for _, col := range spec.Numeric {
		if !inputs[col.Name] {
			return nil, fmt.Errorf("numeric column %s is not an input column", col.Name)
		}
		if mapped[col.Name] {
			return nil, fmt.Errorf("column %s is transformed twice", col.Name)
		}
		mapped[col.Name] = true
		p.outputNames = append(p.outputNames, col.Name)
		p.groups[col.Name] = col.Name
	}

	for _, col := range spec.Categorical {
		if !inputs[col.Name] {
			return nil, fmt.Errorf("categorical column %s is not an input column", col.Name)
		}
		if mapped[col.Name] {
			return nil, fmt.Errorf("column %s is transformed twice", col.Name)
		}
		if len(col.Categories) == 0 {
			return nil, fmt.Errorf("categorical column %s has no categories", col.Name)
		}
		switch col.HandleUnknown {
		case HandleUnknownIgnore, HandleUnknownError:
		case "":
			return nil, fmt.Errorf("categorical column %s: handle_unknown is required", col.Name)
		default:
			return nil, fmt.Errorf("categorical column %s: unsupported handle_unknown %q", col.Name, col.HandleUnknown)
		}
		if len(col.Frequencies) > 0 && len(col.Frequencies) != len(col.Categories) {
			return nil, fmt.Errorf("categorical column %s: %d frequencies for %d categories",
				col.Name, len(col.Frequencies), len(col.Categories))
		}
		mapped[col.Name] = true
		for _, cat := range col.Categories {
			name := col.Name + "_" + cat
			p.outputNames = append(p.outputNames, name)
			p.groups[name] = col.Name
		}
	}

	for _, c := range spec.InputColumns {
		if !mapped[c] {
			return nil, fmt.Errorf("input column %s has no transform", c)
		}
	}

	return p, nil
}

// Decode reads a JSON spec and builds a Preprocessor.
func Decode(r io.Reader) (*Preprocessor, error) {
	var spec Spec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode preprocessor: %w", err)
	}
	return New(spec)
}

// RunID returns the training run the preprocessor was fitted in.
func (p *Preprocessor) RunID() string {
	return p.spec.RunID
}

// InputColumns returns the columns the preprocessor expects.
func (p *Preprocessor) InputColumns() []string {
	out := make([]string, len(p.spec.InputColumns))
	copy(out, p.spec.InputColumns)
	return out
}

// OutputNames returns the processed feature names in vector order.
func (p *Preprocessor) OutputNames() []string {
	out := make([]string, len(p.outputNames))
	copy(out, p.outputNames)
	return out
}

// Width returns the length of the produced feature vector.
func (p *Preprocessor) Width() int {
	return len(p.outputNames)
}

// Groups maps every processed feature to the input column it came from.
func (p *Preprocessor) Groups() map[string]string {
	out := make(map[string]string, len(p.groups))
	for k, v := range p.groups {
		out[k] = v
	}
	return out
}

// CheckSchema compares the record's fields with the expected input columns.
// Missing and unexpected fields are both a mismatch.
func (p *Preprocessor) CheckSchema(fields []string) error {
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f] = true
	}

	var missing, extra []string
	for _, c := range p.spec.InputColumns {
		if !have[c] {
			missing = append(missing, c)
		}
		delete(have, c)
	}
	for f := range have {
		extra = append(extra, f)
	}
	sort.Strings(extra)

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(extra, ", "))
	}
	return fmt.Errorf("%w: preprocessor input columns: %s", domain.ErrSchemaMismatch, strings.Join(parts, "; "))
}

// Transform maps rec to a feature vector.
func (p *Preprocessor) Transform(rec Record) ([]float64, error) {
	if err := p.CheckSchema(rec.FieldNames()); err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(p.outputNames))

	for _, col := range p.spec.Numeric {
		v, ok := rec.Numeric(col.Name)
		if !ok {
			return nil, fmt.Errorf("%w: column %s is not numeric", domain.ErrSchemaMismatch, col.Name)
		}
		scale := col.Scale
		if scale == 0 {
			scale = 1
		}
		out = append(out, (v-col.Mean)/scale)
	}

	for _, col := range p.spec.Categorical {
		v, ok := rec.Categorical(col.Name)
		if !ok {
			return nil, fmt.Errorf("%w: column %s is not categorical", domain.ErrSchemaMismatch, col.Name)
		}
		matched := false
		for _, cat := range col.Categories {
			if cat == v {
				out = append(out, 1)
				matched = true
			} else {
				out = append(out, 0)
			}
		}
		if !matched && col.HandleUnknown == HandleUnknownError {
			return nil, fmt.Errorf("%w: column %s: unknown category %q", domain.ErrSchemaMismatch, col.Name, v)
		}
	}

	return out, nil
}

// ExpectedRow returns the training-mean feature vector: zero for scaled
// numeric columns and the category frequencies (uniform if not exported)
// for one-hot columns. It is the fallback background when no reference
// population is available.
func (p *Preprocessor) ExpectedRow() []float64 {
	out := make([]float64, 0, len(p.outputNames))
	for range p.spec.Numeric {
		out = append(out, 0)
	}
	for _, col := range p.spec.Categorical {
		if len(col.Frequencies) == len(col.Categories) {
			out = append(out, col.Frequencies...)
			continue
		}
		u := 1 / float64(len(col.Categories))
		for range col.Categories {
			out = append(out, u)
		}
	}
	return out
}
