package metrics

/*
Labels and so on for metrics used by the image service.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"

	// Labels for image production metrics
	LabelFormat = "format"
	LabelStage  = "stage"
	LabelSource = "source"
)

// Namespace prefixes every metric the service exports.
const Namespace = "sbnsis"
