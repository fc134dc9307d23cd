package vision

import (
	"edgecast/pkg/models"
)

// Processor is the unified frame stage: optional background subtraction
// followed by edge detection with a configurable overlay color.
type Processor struct {
	Overlay   models.RGB
	PreFilter Subtractor // nil means no subtraction
}

// NewProcessor creates a processor. pre should already be wrapped by Guard.
func NewProcessor(overlay models.RGB, pre Subtractor) *Processor {
	return &Processor{Overlay: overlay, PreFilter: pre}
}

// Process runs the stages on f in place
func (p *Processor) Process(f *models.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	if p.PreFilter != nil {
		out, err := p.PreFilter.Apply(f)
		if err == nil && out != nil && out != f && len(out.Pix) == len(f.Pix) {
			copy(f.Pix, out.Pix)
		}
	}

	return Detect(f, p.Overlay)
}
