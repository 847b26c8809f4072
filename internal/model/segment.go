package model

// Segment is one planned spoken unit of a script.
type Segment struct {
	Type              SegmentType `json:"type"`
	Content           string      `json:"content"`
	Order             int         `json:"order"`
	WordCount         int         `json:"wordCount"`
	EstimatedDuration float64     `json:"estimatedDuration"`
	TargetDuration    float64     `json:"targetDuration"`
}
