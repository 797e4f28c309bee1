package imagegen

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyResult is returned when the service answers without any image.
var ErrEmptyResult = errors.New("no images returned from the API")

// Payload is the txt2img parameter object, forwarded to the service as-is.
type Payload map[string]any

// GeneratedImage is one decoded image of a generation response. Parameters and
// Info are shared by every image of the same response.
type GeneratedImage struct {
	Data       []byte
	Parameters map[string]any
	Info       string
}

// IndexedImages pairs a generation outcome with the position of its payload.
type IndexedImages struct {
	Index  int
	Images []GeneratedImage
	Err    error
}

// StatusError reports a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// SortImagesByIndex restores payload order in place and returns the slice.
func SortImagesByIndex(results []IndexedImages) []IndexedImages {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Index < results[j].Index
	})
	return results
}
