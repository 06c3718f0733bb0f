//go:build !silero

package speech

import (
	"github.com/tphakala/trackmix/internal/errors"
)

// NewSilero is unavailable in builds without the silero tag
func NewSilero(SileroConfig) (Classifier, error) {
	return nil, errors.Newf("silero classifier not compiled in, rebuild with -tags silero").
		Component("speech").
		Category(errors.CategoryClassifier).
		Build()
}
