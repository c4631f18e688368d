package project

import (
	"time"

	"vellum/internal/analyze"
	"vellum/internal/evaluate"
	"vellum/internal/extract"
)

// Document is the remote entity for one source file.
type Document struct {
	ID             string
	Key            string
	Title          string
	Classification string
	PageCount      int
	Info           *extract.Info
	SourcePath     string
	ContentPath    string
	OCRPath        string
	Previews       map[string]string
	Fingerprint    time.Time
}

// Image is the remote entity for one extracted image.
type Image struct {
	ID            string
	DocumentID    string
	Name          string
	IsLikelyPhoto bool
	Eval          evaluate.Stats
	Analysis      *analyze.Analysis
	Derivatives   map[string]string
	OCRPath       string
	SourcePath    string
	Fingerprint   time.Time
}

// Landmarks are the five facial keypoints flattened into named fields, the
// shape the remote schema indexes on.
type Landmarks struct {
	LeftEyeX    float64 `json:"left_eye_x"`
	LeftEyeY    float64 `json:"left_eye_y"`
	RightEyeX   float64 `json:"right_eye_x"`
	RightEyeY   float64 `json:"right_eye_y"`
	NoseX       float64 `json:"nose_x"`
	NoseY       float64 `json:"nose_y"`
	MouthLeftX  float64 `json:"mouth_left_x"`
	MouthLeftY  float64 `json:"mouth_left_y"`
	MouthRightX float64 `json:"mouth_right_x"`
	MouthRightY float64 `json:"mouth_right_y"`
}

// Face is the remote entity for one detection inside an image.
type Face struct {
	ID          string
	ImageID     string
	DocumentID  string
	Ordinal     int
	BBox        []float64
	Landmarks   Landmarks
	DetScore    float64
	Embedding   []float32
	Age         int
	Gender      int
	Fingerprint time.Time
}
