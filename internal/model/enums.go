package model

// Segment types
type SegmentType string

const (
	SegmentHook        SegmentType = "hook"
	SegmentTestimonial SegmentType = "testimonial"
	SegmentCTA         SegmentType = "cta"
)

// Aspect ratios supported by the stitcher
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectSquare    AspectRatio = "1:1"
	AspectLandscape AspectRatio = "16:9"
)

var ValidAspectRatios = []AspectRatio{AspectPortrait, AspectSquare, AspectLandscape}

// Resolution returns the target frame size for the ratio. Unknown ratios fall back to portrait.
func (a AspectRatio) Resolution() (width, height int) {
	switch a {
	case AspectSquare:
		return 1080, 1080
	case AspectLandscape:
		return 1920, 1080
	default:
		return 1080, 1920
	}
}

func (a AspectRatio) OrDefault() AspectRatio {
	for _, v := range ValidAspectRatios {
		if a == v {
			return a
		}
	}
	return AspectPortrait
}

// Generation model families
type GenerationModel string

const (
	ModelSelfVoicing  GenerationModel = "self_voicing"
	ModelTTSAnimation GenerationModel = "tts_animation"
)

// Clip statuses
type ClipStatus string

const (
	ClipPending         ClipStatus = "pending"
	ClipGeneratingAudio ClipStatus = "generating_audio"
	ClipGeneratingVideo ClipStatus = "generating_video"
	ClipCompleted       ClipStatus = "completed"
	ClipFailed          ClipStatus = "failed"
)

func (s ClipStatus) IsTerminal() bool {
	return s == ClipCompleted || s == ClipFailed
}

// Composite job statuses
type CompositeStatus string

const (
	CompositePending         CompositeStatus = "pending"
	CompositeGeneratingClips CompositeStatus = "generating_clips"
	CompositeStitching       CompositeStatus = "stitching"
	CompositeCompleted       CompositeStatus = "completed"
	CompositeFailed          CompositeStatus = "failed"
)

func (s CompositeStatus) IsTerminal() bool {
	return s == CompositeCompleted || s == CompositeFailed
}
