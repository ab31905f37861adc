package demo

import (
	"strings"

	"github.com/example/vision-demo/internal/transport"
)

// DemoType selects the remote analysis. Values are the wire names used by the vision API.
type DemoType string

const (
	ObjectDetection   DemoType = "object_detection"
	FacialRecognition DemoType = "facial_recognition"
	GestureControl    DemoType = "gesture_control"
	ImageSegmentation DemoType = "image_segmentation"
)

const (
	endpointSessions = "/api/v1/demos/"
	endpointUpload   = "/api/v1/demos/{session_id}/upload_file/"
	endpointStatus   = "/api/v1/demos/{session_id}/status/"
	endpointResults  = "/api/v1/demos/{session_id}/results/"
	endpointFeedback = "/api/v1/feedback/"
)

type demoSpec struct {
	label   string
	trigger string
}

// dispatch is the only place that differs between demo types; every flow step is shared.
var dispatch = map[DemoType]demoSpec{
	ObjectDetection:   {label: "Object Detection", trigger: "/api/v1/processing/object_detection/"},
	FacialRecognition: {label: "Facial Recognition", trigger: "/api/v1/processing/facial_recognition/"},
	GestureControl:    {label: "Gesture Control", trigger: "/api/v1/processing/gesture_recognition/"},
	ImageSegmentation: {label: "Image Segmentation", trigger: "/api/v1/processing/image_segmentation/"},
}

// DemoTypes lists the supported demo types in display order.
func DemoTypes() []DemoType {
	return []DemoType{ObjectDetection, FacialRecognition, GestureControl, ImageSegmentation}
}

// Valid reports whether d is one of the supported demo types.
func (d DemoType) Valid() bool {
	_, ok := dispatch[d]
	return ok
}

// Label returns the human readable name.
func (d DemoType) Label() string {
	if entry, ok := dispatch[d]; ok {
		return entry.label
	}
	return string(d)
}

func (d DemoType) triggerEndpoint() (string, error) {
	entry, ok := dispatch[d]
	if !ok {
		return "", unknownDemoType(d)
	}
	return entry.trigger, nil
}

// ParseDemoType accepts wire names in any case, with dashes or underscores.
func ParseDemoType(raw string) (DemoType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	d := DemoType(normalized)
	if !d.Valid() {
		return "", unknownDemoType(DemoType(raw))
	}
	return d, nil
}

func unknownDemoType(d DemoType) error {
	return transport.NewValidationError("demo_type", "unknown demo type %q", string(d))
}
