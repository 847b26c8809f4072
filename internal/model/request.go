package model

import "time"

// CompositeStartRequest is the inbound job request.
type CompositeStartRequest struct {
	Script                string          `json:"script" validate:"required,max=20000"`
	Actor                 ActorRequest    `json:"actor"`
	TargetDurationSeconds float64         `json:"targetDurationSeconds" validate:"omitempty,gt=0,lte=300"`
	AspectRatio           AspectRatio     `json:"aspectRatio" validate:"omitempty,oneof=9:16 1:1 16:9"`
	Model                 GenerationModel `json:"model" validate:"omitempty,oneof=self_voicing tts_animation"`
}

type ActorRequest struct {
	ImageURL string          `json:"imageUrl" validate:"required,url"`
	Voice    VoiceDescriptor `json:"voice"`
}

// CompositeStartResponse is returned as soon as the job is queued.
type CompositeStartResponse struct {
	JobID      string          `json:"jobId"`
	Status     CompositeStatus `json:"status"`
	TotalClips int             `json:"totalClips"`
	Segments   []Segment       `json:"segments"`
	RetryOf    string          `json:"retryOf,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ClipStatusView is the per-clip part of a status query.
type ClipStatusView struct {
	Index           int         `json:"index"`
	SegmentType     SegmentType `json:"segmentType"`
	Status          ClipStatus  `json:"status"`
	VideoURL        string      `json:"videoUrl,omitempty"`
	AudioURL        string      `json:"audioUrl,omitempty"`
	DurationSeconds float64     `json:"durationSeconds,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
}

// CompositeStatusResponse answers a status query.
type CompositeStatusResponse struct {
	JobID            string           `json:"jobId"`
	Status           CompositeStatus  `json:"status"`
	Model            GenerationModel  `json:"model"`
	CurrentClipIndex int              `json:"currentClipIndex"`
	TotalClips       int              `json:"totalClips"`
	Clips            []ClipStatusView `json:"clips"`
	FinalVideoURL    string           `json:"finalVideoUrl,omitempty"`
	ActualDuration   float64          `json:"actualDuration,omitempty"`
	Degraded         bool             `json:"degraded,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	CancelRequested  bool             `json:"cancelRequested,omitempty"`
	RetryOf          string           `json:"retryOf,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

type CompositeCancelResponse struct {
	Success         bool            `json:"success"`
	JobID           string          `json:"jobId"`
	Status          CompositeStatus `json:"status"`
	CancelRequested bool            `json:"cancelRequested"`
}

// SegmentPreviewRequest segments a script without creating a job.
type SegmentPreviewRequest struct {
	Script                string  `json:"script" validate:"required,max=20000"`
	TargetDurationSeconds float64 `json:"targetDurationSeconds" validate:"omitempty,gt=0,lte=300"`
	MaxClipSeconds        float64 `json:"maxClipSeconds" validate:"omitempty,gte=2,lte=30"`
}

type SegmentPreviewResponse struct {
	Segments               []Segment `json:"segments"`
	TotalEstimatedDuration float64   `json:"totalEstimatedDuration"`
	TotalTargetDuration    float64   `json:"totalTargetDuration"`
	Strategy               string    `json:"strategy"`
}

// StatusView builds the status query response for a job.
func (j *CompositeVideo) StatusView() *CompositeStatusResponse {
	clips := make([]ClipStatusView, 0, len(j.Clips))
	for _, c := range j.Clips {
		clips = append(clips, ClipStatusView{
			Index:           c.Index,
			SegmentType:     c.SegmentType,
			Status:          c.Status,
			VideoURL:        c.VideoArtifactRef,
			AudioURL:        c.AudioArtifactRef,
			DurationSeconds: c.DurationSeconds,
			ErrorMessage:    c.ErrorMessage,
		})
	}
	return &CompositeStatusResponse{
		JobID:            j.ID,
		Status:           j.Status,
		Model:            j.Model,
		CurrentClipIndex: j.CurrentClipIndex,
		TotalClips:       j.TotalClips,
		Clips:            clips,
		FinalVideoURL:    j.FinalVideoArtifactRef,
		ActualDuration:   j.ActualDuration,
		Degraded:         j.Degraded,
		ErrorMessage:     j.ErrorMessage,
		CancelRequested:  j.CancelRequested,
		RetryOf:          j.RetryOf,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}
