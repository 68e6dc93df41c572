package scoring

import (
	"fmt"
	"strings"
)

// Kind identifies a supported model family. The set is closed: adding a
// model means adding a Kind and its entry in kinds.
type Kind string

// Supported model kinds.
const (
	KindDamaging       Kind = "damaging"
	KindGoodfaith      Kind = "goodfaith"
	KindArticleQuality Kind = "articlequality"
)

// kindSpec pairs a kind with its default weights and its classifier.
type kindSpec struct {
	weightsFile string
	build       func(w Weights) (classifier, error)
}

var kinds = map[Kind]kindSpec{
	KindDamaging:       {weightsFile: "weights/damaging.yaml", build: newBinary},
	KindGoodfaith:      {weightsFile: "weights/goodfaith.yaml", build: newBinary},
	KindArticleQuality: {weightsFile: "weights/articlequality.yaml", build: newMulticlass},
}

// Kinds returns the supported kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindDamaging, KindGoodfaith, KindArticleQuality}
}

// ParseKind resolves a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kinds[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }
