package scoring

import (
	"fmt"
	"math"

	"github.com/okian/revscore/internal/domain/model"
)

const defaultThreshold = 0.5

// classifier maps a feature vector, already aligned with the model's
// feature list, to a prediction.
type classifier interface {
	predict(x []float64) model.PredictionResult
}

// linear holds one class's bias and a weight per model feature.
type linear struct {
	label string
	bias  float64
	w     []float64
}

func (l linear) logit(x []float64) float64 {
	z := l.bias
	for i, v := range x {
		z += l.w[i] * v
	}
	return z
}

func newLinear(features []string, c ClassWeights) (linear, error) {
	index := make(map[string]int, len(features))
	for i, f := range features {
		index[f] = i
	}
	l := linear{label: c.Label, bias: c.Bias, w: make([]float64, len(features))}
	for name, w := range c.Weights {
		i, ok := index[name]
		if !ok {
			return linear{}, fmt.Errorf("%w: class %q weights undeclared feature %q", ErrInvalidWeights, c.Label, name)
		}
		l.w[i] = w
	}
	return l, nil
}

// binary is a logistic regression over a single positive class. The
// prediction is a bool and the probability map has "true" and "false".
type binary struct {
	positive  linear
	threshold float64
}

func newBinary(w Weights) (classifier, error) {
	if len(w.Classes) != 1 {
		return nil, fmt.Errorf("%w: binary model needs exactly one class, got %d", ErrInvalidWeights, len(w.Classes))
	}
	l, err := newLinear(w.Features, w.Classes[0])
	if err != nil {
		return nil, err
	}
	t := w.Threshold
	if t == 0 {
		t = defaultThreshold
	}
	if t <= 0 || t >= 1 {
		return nil, fmt.Errorf("%w: threshold %v outside (0,1)", ErrInvalidWeights, t)
	}
	return binary{positive: l, threshold: t}, nil
}

func (b binary) predict(x []float64) model.PredictionResult {
	p := sigmoid(b.positive.logit(x))
	return model.PredictionResult{
		Prediction:  p >= b.threshold,
		Probability: map[string]float64{"true": p, "false": 1 - p},
	}
}

// multiclass is a softmax over labelled classes; the prediction is the
// most probable label.
type multiclass struct {
	classes []linear
}

func newMulticlass(w Weights) (classifier, error) {
	if len(w.Classes) < 2 {
		return nil, fmt.Errorf("%w: multiclass model needs at least two classes, got %d", ErrInvalidWeights, len(w.Classes))
	}
	seen := make(map[string]struct{}, len(w.Classes))
	m := multiclass{classes: make([]linear, 0, len(w.Classes))}
	for _, c := range w.Classes {
		if c.Label == "" {
			return nil, fmt.Errorf("%w: class without label", ErrInvalidWeights)
		}
		if _, dup := seen[c.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate class %q", ErrInvalidWeights, c.Label)
		}
		seen[c.Label] = struct{}{}
		l, err := newLinear(w.Features, c)
		if err != nil {
			return nil, err
		}
		m.classes = append(m.classes, l)
	}
	return m, nil
}

func (m multiclass) predict(x []float64) model.PredictionResult {
	z := make([]float64, len(m.classes))
	zmax := math.Inf(-1)
	for i, c := range m.classes {
		z[i] = c.logit(x)
		zmax = math.Max(zmax, z[i])
	}
	var sum float64
	for i := range z {
		z[i] = math.Exp(z[i] - zmax)
		sum += z[i]
	}
	probs := make(map[string]float64, len(m.classes))
	best := 0
	for i, c := range m.classes {
		probs[c.label] = z[i] / sum
		if z[i] > z[best] {
			best = i
		}
	}
	return model.PredictionResult{Prediction: m.classes[best].label, Probability: probs}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
