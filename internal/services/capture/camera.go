package capture

import (
	"fmt"
	"strconv"
	"sync"

	"cavas/internal/pipeline"

	"gocv.io/x/gocv"
)

// Camera reads frames from a device index, a file or a stream URL.
// The same Mat is reused for every frame.
type Camera struct {
	source  string
	capture *gocv.VideoCapture
	frame   gocv.Mat
	once    sync.Once
}

// OpenCamera opens source. A numeric source is treated as a device index.
func OpenCamera(source string) (*Camera, error) {
	var device interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		device = id
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %q: %w", source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video source %q is not available", source)
	}

	return &Camera{
		source:  source,
		capture: capture,
		frame:   gocv.NewMat(),
	}, nil
}

// Read grabs the next frame as a *gocv.Mat. It reports false at end of
// stream or when the device fails.
func (c *Camera) Read() (pipeline.Frame, bool) {
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, false
	}
	return &c.frame, true
}

// Release closes the device. Safe to call more than once.
func (c *Camera) Release() error {
	var err error
	c.once.Do(func() {
		err = c.capture.Close()
		c.frame.Close()
	})
	return err
}

func (c *Camera) Source() string {
	return c.source
}
