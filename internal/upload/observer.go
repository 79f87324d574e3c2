package upload

import "time"

// Shape names the form of an upload request.
type Shape string

const (
	ShapeFile Shape = "file"
	ShapeZip  Shape = "zip"
	ShapeDir  Shape = "dir"
)

// Observer receives one call per PutObject attempt. bytes is zero when the
// put failed.
type Observer interface {
	RecordPut(shape Shape, d time.Duration, bytes int64, err error)
}

type nopObserver struct{}

func (nopObserver) RecordPut(Shape, time.Duration, int64, error) {}
