package http

// Route names, used for metrics and to build URLs in the client.
const (
	Ping    = "Ping"
	Version = "Version"

	Images  = "Images"
	Query   = "Query"
	Summary = "Summary"
)

// Values of the images endpoint's format parameter that are not image
// formats.
const (
	FormatLabel = "label"
)
