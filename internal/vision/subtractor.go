package vision

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"edgecast/pkg/models"
)

// Subtractor segments foreground from a learned background model.
// Implementations keep state across calls and must not modify their input;
// they return a new frame of the same size.
type Subtractor interface {
	Apply(frame *models.Frame) (*models.Frame, error)
}

// Passthrough is the identity subtractor used when none is configured
type Passthrough struct{}

// Apply returns the frame unchanged
func (Passthrough) Apply(frame *models.Frame) (*models.Frame, error) {
	return frame, nil
}

// guarded isolates a Subtractor so its failures never reach the caller
type guarded struct {
	sub    Subtractor
	log    *logrus.Entry
	onFail func()
}

// Guard wraps sub so that an error, a panic or an output of the wrong size
// is logged and the original frame is returned untouched. A nil sub is
// treated as Passthrough. onFail may be nil.
func Guard(sub Subtractor, log *logrus.Entry, onFail func()) Subtractor {
	if sub == nil {
		return Passthrough{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &guarded{sub: sub, log: log, onFail: onFail}
}

func (g *guarded) Apply(frame *models.Frame) (out *models.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(fmt.Errorf("panic: %v", r))
			out, err = frame, nil
		}
	}()

	res, err := g.sub.Apply(frame)
	if err != nil {
		g.fail(err)
		return frame, nil
	}
	if res == nil || res.Width != frame.Width || res.Height != frame.Height || res.Validate() != nil {
		g.fail(fmt.Errorf("subtractor returned a frame of a different shape"))
		return frame, nil
	}

	return res, nil
}

func (g *guarded) fail(err error) {
	g.log.WithError(err).Warn("Background subtraction failed, passing frame through")
	if g.onFail != nil {
		g.onFail()
	}
}
