package capture

import (
	"fmt"
	"image"
	"image/color"

	"cavas/internal/logger"
	"cavas/internal/models"
	"cavas/internal/pipeline"

	"gocv.io/x/gocv"
)

const (
	WindowTitle = "cavas"
	IdleMessage = "No relevant object detected"
	quitKey     = 'q'
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	idleColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// Broadcaster receives encoded preview frames.
type Broadcaster interface {
	Broadcast(frame []byte) bool
	GetClientCount() int
}

// SnapshotStore keeps encoded alert frames.
type SnapshotStore interface {
	AddImage(data []byte, object string) bool
}

// Renderer draws detections on gocv frames, shows them in a window and
// forwards them to preview viewers. With headless set no window is opened
// and the quit key is never reported.
type Renderer struct {
	window    *gocv.Window
	hub       Broadcaster
	snapshots SnapshotStore
	logger    *logger.Logger
	quit      bool
}

func NewRenderer(headless bool, hub Broadcaster, snapshots SnapshotStore, logger *logger.Logger) *Renderer {
	r := &Renderer{
		hub:       hub,
		snapshots: snapshots,
		logger:    logger,
	}
	if !headless {
		r.window = gocv.NewWindow(WindowTitle)
	}
	return r
}

func (r *Renderer) Annotate(frame pipeline.Frame, det models.Detection) {
	mat, ok := asMat(frame)
	if !ok {
		return
	}
	rect := image.Rect(det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2)
	if err := gocv.Rectangle(mat, rect, boxColor, 2); err != nil {
		r.logger.Warning("Failed to draw rectangle: %v", err)
		return
	}
	pt := image.Pt(det.Box.X1, det.Box.Y1-10)
	if err := gocv.PutText(mat, det.Caption(), pt, gocv.FontHersheySimplex, 0.6, boxColor, 2); err != nil {
		r.logger.Warning("Failed to draw label: %v", err)
	}
}

func (r *Renderer) MarkIdle(frame pipeline.Frame) {
	mat, ok := asMat(frame)
	if !ok {
		return
	}
	if err := gocv.PutText(mat, IdleMessage, image.Pt(10, 30), gocv.FontHersheySimplex, 0.7, idleColor, 2); err != nil {
		r.logger.Warning("Failed to draw idle banner: %v", err)
	}
}

// Show displays the frame, polls the keyboard and pushes a JPEG copy to the
// preview hub when anyone is watching.
func (r *Renderer) Show(frame pipeline.Frame) error {
	mat, ok := asMat(frame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", frame)
	}

	if r.window != nil {
		if err := r.window.IMShow(*mat); err != nil {
			return fmt.Errorf("failed to show frame: %w", err)
		}
		if key := r.window.WaitKey(1); key >= 0 && key&0xFF == quitKey {
			r.quit = true
		}
	}

	if r.hub != nil && r.hub.GetClientCount() > 0 {
		data, err := encodeJPEG(mat)
		if err != nil {
			return err
		}
		r.hub.Broadcast(data)
	}
	return nil
}

func (r *Renderer) QuitRequested() bool {
	return r.quit
}

// Snapshot stores the annotated frame of an alert.
func (r *Renderer) Snapshot(frame pipeline.Frame, rec models.EventRecord) {
	if r.snapshots == nil {
		return
	}
	mat, ok := asMat(frame)
	if !ok {
		return
	}
	data, err := encodeJPEG(mat)
	if err != nil {
		r.logger.Warning("Snapshot of %s skipped: %v", rec.Label, err)
		return
	}
	if !r.snapshots.AddImage(data, rec.Label) {
		r.logger.Warning("Snapshot buffer full, %s snapshot dropped", rec.Label)
	}
}

// Close destroys the window.
func (r *Renderer) Close() error {
	if r.window == nil {
		return nil
	}
	err := r.window.Close()
	r.window = nil
	return err
}

func asMat(frame pipeline.Frame) (*gocv.Mat, bool) {
	mat, ok := frame.(*gocv.Mat)
	if !ok || mat == nil || mat.Empty() {
		return nil, false
	}
	return mat, true
}

func encodeJPEG(mat *gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, nil
}
