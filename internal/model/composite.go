package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/castreel/api/internal/apperr"
)

// VoiceDescriptor describes the speaking voice of an actor.
type VoiceDescriptor struct {
	VoiceID     string `json:"voiceId,omitempty"`
	Description string `json:"description,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Age         string `json:"age,omitempty"`
	Accent      string `json:"accent,omitempty"`
	Tone        string `json:"tone,omitempty"`
	Pace        string `json:"pace,omitempty"`
}

// ActorReference is the fixed look and voice used across a job.
type ActorReference struct {
	ImageURL string          `json:"imageUrl"`
	Voice    VoiceDescriptor `json:"voice"`
}

// CompositeVideo is one end-to-end generation job.
type CompositeVideo struct {
	ID                    string                             `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID               string                             `json:"ownerId,omitempty" gorm:"type:varchar(255);index"`
	Status                CompositeStatus                    `json:"status" gorm:"type:varchar(32);not null;index;default:'pending'"`
	Model                 GenerationModel                    `json:"model" gorm:"type:varchar(32);not null"`
	Actor                 datatypes.JSONType[ActorReference] `json:"actor" gorm:"type:jsonb"`
	AspectRatio           AspectRatio                        `json:"aspectRatio" gorm:"type:varchar(8);not null"`
	Script                string                             `json:"script" gorm:"type:text;not null"`
	TargetDuration        float64                            `json:"targetDuration"`
	CurrentClipIndex      int                                `json:"currentClipIndex" gorm:"not null;default:0"`
	TotalClips            int                                `json:"totalClips" gorm:"not null"`
	FinalVideoArtifactRef string                             `json:"finalVideoArtifactRef,omitempty" gorm:"type:text"`
	ActualDuration        float64                            `json:"actualDuration,omitempty"`
	Degraded              bool                               `json:"degraded,omitempty"`
	ErrorMessage          string                             `json:"errorMessage,omitempty" gorm:"type:text"`
	RetryOf               string                             `json:"retryOf,omitempty" gorm:"type:varchar(64);index"`
	CancelRequested       bool                               `json:"cancelRequested,omitempty"`
	CreatedAt             time.Time                          `json:"createdAt"`
	StartedAt             *time.Time                         `json:"startedAt,omitempty"`
	UpdatedAt             time.Time                          `json:"updatedAt"`
	CompletedAt           *time.Time                         `json:"completedAt,omitempty"`

	Clips []Clip `json:"clips,omitempty" gorm:"foreignKey:CompositeID;references:ID"`
}

func (CompositeVideo) TableName() string {
	return "composite_videos"
}

// ActorRef returns the actor reference stored on the job.
func (j *CompositeVideo) ActorRef() ActorReference {
	return j.Actor.Data()
}

// Clip is the generation unit for one segment.
type Clip struct {
	ID                 string      `json:"id" gorm:"type:uuid;primaryKey"`
	CompositeID        string      `json:"compositeId" gorm:"type:uuid;not null;uniqueIndex:idx_clip_composite_index"`
	Index              int         `json:"index" gorm:"not null;uniqueIndex:idx_clip_composite_index"`
	SegmentType        SegmentType `json:"segmentType" gorm:"type:varchar(16)"`
	ScriptContent      string      `json:"scriptContent" gorm:"type:text;not null"`
	EstimatedDuration  float64     `json:"estimatedDuration"`
	TargetDuration     float64     `json:"targetDuration"`
	Status             ClipStatus  `json:"status" gorm:"type:varchar(32);not null;default:'pending'"`
	VideoArtifactRef   string      `json:"videoArtifactRef,omitempty" gorm:"type:text"`
	AudioArtifactRef   string      `json:"audioArtifactRef,omitempty" gorm:"type:text"`
	ContinuityImageRef string      `json:"continuityImageRef,omitempty" gorm:"type:text"`
	ProviderRequestID  string      `json:"providerRequestId,omitempty" gorm:"type:varchar(255)"`
	DurationSeconds    float64     `json:"durationSeconds,omitempty"`
	ErrorMessage       string      `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
	CompletedAt        *time.Time  `json:"completedAt,omitempty"`
}

func (Clip) TableName() string {
	return "composite_clips"
}

var clipTransitions = map[ClipStatus][]ClipStatus{
	ClipPending:         {ClipGeneratingAudio, ClipGeneratingVideo, ClipFailed},
	ClipGeneratingAudio: {ClipGeneratingVideo, ClipFailed},
	ClipGeneratingVideo: {ClipCompleted, ClipFailed},
}

var compositeTransitions = map[CompositeStatus][]CompositeStatus{
	CompositePending:         {CompositeGeneratingClips},
	CompositeGeneratingClips: {CompositeStitching, CompositeFailed},
	CompositeStitching:       {CompositeCompleted, CompositeFailed},
}

// ValidateClipTransition is the only place clip status changes are checked.
func ValidateClipTransition(from, to ClipStatus) error {
	for _, next := range clipTransitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.InvalidTransition("clip", string(from), string(to))
}

// ValidateCompositeTransition is the only place job status changes are checked.
func ValidateCompositeTransition(from, to CompositeStatus) error {
	for _, next := range compositeTransitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.InvalidTransition("composite", string(from), string(to))
}

func (c *Clip) transition(to ClipStatus) error {
	if err := ValidateClipTransition(c.Status, to); err != nil {
		return err
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// StartAudio moves the clip into speech synthesis.
func (c *Clip) StartAudio() error {
	return c.transition(ClipGeneratingAudio)
}

// StartVideo moves the clip into video generation. An audio artifact must
// already exist when the model needs one.
func (c *Clip) StartVideo(requiresAudio bool) error {
	if requiresAudio && c.AudioArtifactRef == "" {
		return apperr.InvalidTransition("clip", string(c.Status), string(ClipGeneratingVideo)).
			WithDetail("reason", "audio artifact missing")
	}
	return c.transition(ClipGeneratingVideo)
}

// Complete records the finished video.
func (c *Clip) Complete(videoRef string, duration float64, providerRequestID string) error {
	if videoRef == "" || duration <= 0 {
		return apperr.InvalidTransition("clip", string(c.Status), string(ClipCompleted)).
			WithDetail("reason", "video reference and duration are required")
	}
	if err := c.transition(ClipCompleted); err != nil {
		return err
	}
	c.VideoArtifactRef = videoRef
	c.DurationSeconds = duration
	c.ProviderRequestID = providerRequestID
	c.ErrorMessage = ""
	now := c.UpdatedAt
	c.CompletedAt = &now
	return nil
}

// Fail records a terminal failure.
func (c *Clip) Fail(message string) error {
	if strings.TrimSpace(message) == "" {
		return apperr.InvalidTransition("clip", string(c.Status), string(ClipFailed)).
			WithDetail("reason", "error message is required")
	}
	if err := c.transition(ClipFailed); err != nil {
		return err
	}
	c.ErrorMessage = message
	return nil
}

func (j *CompositeVideo) transition(to CompositeStatus) error {
	if err := ValidateCompositeTransition(j.Status, to); err != nil {
		return err
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// StartGenerating moves a pending job into clip generation.
func (j *CompositeVideo) StartGenerating() error {
	if err := j.transition(CompositeGeneratingClips); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.StartedAt = &now
	return nil
}

func (j *CompositeVideo) StartStitching() error {
	return j.transition(CompositeStitching)
}

// Complete records the final artifact. duration is the measured or summed length.
func (j *CompositeVideo) Complete(finalRef string, duration float64, degraded bool) error {
	if finalRef == "" {
		return apperr.InvalidTransition("composite", string(j.Status), string(CompositeCompleted)).
			WithDetail("reason", "final artifact is required")
	}
	if err := j.transition(CompositeCompleted); err != nil {
		return err
	}
	j.FinalVideoArtifactRef = finalRef
	j.ActualDuration = duration
	j.Degraded = degraded
	j.CurrentClipIndex = j.TotalClips
	now := j.UpdatedAt
	j.CompletedAt = &now
	return nil
}

func (j *CompositeVideo) Fail(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "composite generation failed"
	}
	if err := j.transition(CompositeFailed); err != nil {
		return err
	}
	j.ErrorMessage = message
	now := j.UpdatedAt
	j.CompletedAt = &now
	return nil
}

// RecordProgress advances the completed-clips counter. It never moves backwards.
func (j *CompositeVideo) RecordProgress(completed int) {
	if completed > j.TotalClips {
		completed = j.TotalClips
	}
	if completed > j.CurrentClipIndex {
		j.CurrentClipIndex = completed
		j.UpdatedAt = time.Now().UTC()
	}
}

// CompletedClips counts clips in the completed state.
func (j *CompositeVideo) CompletedClips() int {
	n := 0
	for _, c := range j.Clips {
		if c.Status == ClipCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (j *CompositeVideo) Clone() *CompositeVideo {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Clips = make([]Clip, len(j.Clips))
	for i := range j.Clips {
		cp.Clips[i] = *j.Clips[i].Clone()
	}
	return &cp
}

func (c *Clip) Clone() *Clip {
	cp := *c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
