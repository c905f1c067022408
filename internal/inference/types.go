// Package inference talks to the detection service and implements the
// session context factory on top of its session API.
package inference

// CreateSessionRequest asks the service to load a model on a backend
type CreateSessionRequest struct {
	Model      string     `json:"model"`
	Backend    string     `json:"backend"`
	TargetSize int        `json:"target_size"`
	MeanValues [3]float64 `json:"mean_values"`
	NormValues [3]float64 `json:"norm_values"`
}

// CreateSessionResponse identifies a loaded model
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// InferenceRequest represents a request to the inference service
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded frame
	Format              string   `json:"format"`                         // "jpeg" or "h264"
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
	EnabledClasses      []string `json:"enabled_classes,omitempty"`      // Optional filter
}

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from the inference service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"`       // [height, width]
	ModelInputShape []int         `json:"model_input_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// ErrorResponse is the body the service sends with non-2xx statuses
type ErrorResponse struct {
	Detail string `json:"detail"`
}
