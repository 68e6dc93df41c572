package scoring

import "errors"

// Scoring errors.
var (
	ErrUnknownKind      = errors.New("unknown model kind")
	ErrInvalidWeights   = errors.New("invalid model weights")
	ErrFeatureMismatch  = errors.New("feature vector does not match model")
	ErrNonFiniteFeature = errors.New("non-finite feature value")
)
