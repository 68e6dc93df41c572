// Package scoring loads the served model and turns feature vectors into
// predictions.
//
// A model is a Kind plus a weights document. Kinds are a closed set; the
// weights come from the embedded defaults or from a YAML file given at
// startup.
package scoring

import (
	"embed"
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/okian/revscore/internal/domain/features"
	"github.com/okian/revscore/internal/domain/model"
)

//go:embed weights/*.yaml
var defaultWeights embed.FS

// DefaultVersion is reported when no version is configured.
const DefaultVersion = "0.5.1"

// Model scores feature vectors for one model kind.
type Model interface {
	Name() string
	Version() string
	Kind() Kind
	// Features is the full declared feature list, in vector order.
	Features() []string
	// BareFeatures is the subset returned as extended output.
	BareFeatures() []string
	// FetchExtraInfo reports whether the features need the parent
	// revision and the editor's user document.
	FetchExtraInfo() bool
	Score(vec features.Vector) (model.PredictionResult, error)
}

// ClassWeights is one class of a weights document.
type ClassWeights struct {
	Label   string             `yaml:"label"`
	Bias    float64            `yaml:"bias"`
	Weights map[string]float64 `yaml:"weights"`
}

// Weights is the YAML document describing a model.
type Weights struct {
	Features     []string       `yaml:"features"`
	BareFeatures []string       `yaml:"bare_features"`
	Threshold    float64        `yaml:"threshold"`
	Classes      []ClassWeights `yaml:"classes"`
}

// Validate checks the feature lists. Class checks are done by the
// classifier of each kind.
func (w Weights) Validate() error {
	if len(w.Features) == 0 {
		return fmt.Errorf("%w: no features declared", ErrInvalidWeights)
	}
	seen := make(map[string]struct{}, len(w.Features))
	for _, f := range w.Features {
		if !features.Known(f) {
			return fmt.Errorf("%w: unknown feature %q", ErrInvalidWeights, f)
		}
		if _, dup := seen[f]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidWeights, f)
		}
		seen[f] = struct{}{}
	}
	if len(w.BareFeatures) == 0 {
		return fmt.Errorf("%w: no bare features declared", ErrInvalidWeights)
	}
	for _, f := range w.BareFeatures {
		if _, ok := seen[f]; !ok {
			return fmt.Errorf("%w: bare feature %q is not in the feature list", ErrInvalidWeights, f)
		}
	}
	return nil
}

// ParseWeights decodes a YAML weights document.
func ParseWeights(data []byte) (Weights, error) {
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("%w: %w", ErrInvalidWeights, err)
	}
	return w, nil
}

// DefaultWeights returns the embedded weights of kind.
func DefaultWeights(kind Kind) (Weights, error) {
	ks, ok := kinds[kind]
	if !ok {
		return Weights{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	data, err := defaultWeights.ReadFile(ks.weightsFile)
	if err != nil {
		return Weights{}, fmt.Errorf("read default weights: %w", err)
	}
	return ParseWeights(data)
}

// Option configures New.
type Option func(*options)

type options struct {
	name        string
	version     string
	weightsPath string
	weights     *Weights
}

// WithName sets the reported model name. Defaults to the kind.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithVersion sets the reported model version.
func WithVersion(version string) Option {
	return func(o *options) {
		if version != "" {
			o.version = version
		}
	}
}

// WithWeightsFile loads weights from a YAML file instead of the embedded
// defaults.
func WithWeightsFile(path string) Option {
	return func(o *options) {
		o.weightsPath = path
	}
}

// WithWeights uses w directly. It takes precedence over WithWeightsFile.
func WithWeights(w Weights) Option {
	return func(o *options) {
		o.weights = &w
	}
}

// New builds the model of kind.
func New(kind Kind, opts ...Option) (Model, error) {
	ks, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	o := options{name: string(kind), version: DefaultVersion}
	for _, opt := range opts {
		opt(&o)
	}

	var w Weights
	switch {
	case o.weights != nil:
		w = *o.weights
	case o.weightsPath != "":
		data, err := os.ReadFile(o.weightsPath)
		if err != nil {
			return nil, fmt.Errorf("read weights %s: %w", o.weightsPath, err)
		}
		if w, err = ParseWeights(data); err != nil {
			return nil, err
		}
	default:
		var err error
		if w, err = DefaultWeights(kind); err != nil {
			return nil, err
		}
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	clf, err := ks.build(w)
	if err != nil {
		return nil, err
	}
	return &linearModel{
		kind:      kind,
		name:      o.name,
		version:   o.version,
		features:  slices.Clone(w.Features),
		bare:      slices.Clone(w.BareFeatures),
		extraInfo: features.NeedsExtraInfo(w.Features),
		clf:       clf,
	}, nil
}

type linearModel struct {
	kind      Kind
	name      string
	version   string
	features  []string
	bare      []string
	extraInfo bool
	clf       classifier
}

func (m *linearModel) Name() string           { return m.name }
func (m *linearModel) Version() string        { return m.version }
func (m *linearModel) Kind() Kind             { return m.kind }
func (m *linearModel) Features() []string     { return slices.Clone(m.features) }
func (m *linearModel) BareFeatures() []string { return slices.Clone(m.bare) }
func (m *linearModel) FetchExtraInfo() bool   { return m.extraInfo }

// Score checks that vec is the model's full vector and classifies it.
func (m *linearModel) Score(vec features.Vector) (model.PredictionResult, error) {
	if !slices.Equal(vec.Names, m.features) || len(vec.Values) != len(m.features) {
		return model.PredictionResult{}, fmt.Errorf("%w: got %d features, want %d", ErrFeatureMismatch, len(vec.Values), len(m.features))
	}
	for i, v := range vec.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.PredictionResult{}, fmt.Errorf("%w: %s=%v", ErrNonFiniteFeature, vec.Names[i], v)
		}
	}
	return m.clf.predict(vec.Values), nil
}
