package pipeline

import "github.com/castreel/api/internal/model"

// Notifier receives job events after they have been persisted.
type Notifier interface {
	ClipChanged(job *model.CompositeVideo, clip *model.Clip)
	Progress(job *model.CompositeVideo, step string)
	Completed(job *model.CompositeVideo)
	Failed(job *model.CompositeVideo)
}

type nopNotifier struct{}

func (nopNotifier) ClipChanged(*model.CompositeVideo, *model.Clip) {}
func (nopNotifier) Progress(*model.CompositeVideo, string)         {}
func (nopNotifier) Completed(*model.CompositeVideo)                {}
func (nopNotifier) Failed(*model.CompositeVideo)                   {}
