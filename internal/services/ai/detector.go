package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"cavas/internal/config"
	"cavas/internal/logger"
	"cavas/internal/models"
	"cavas/internal/pipeline"

	"gocv.io/x/gocv"
)

// MinScore drops network outputs that are pure noise. The configurable
// threshold is applied later by the pipeline filter.
const MinScore = 0.05

var (
	ErrNetNotLoaded = errors.New("detection network not initialized")
	ErrBadFrame     = errors.New("frame is not a gocv.Mat")
)

// DetectorService runs an SSD MobileNet (COCO) network through OpenCV DNN.
type DetectorService struct {
	net        gocv.Net
	loaded     bool
	modelPath  string
	configPath string
	logger     *logger.Logger
	mu         sync.Mutex
}

// NewDetectorService loads the network. A missing or broken model only logs a
// warning; Detect then returns ErrNetNotLoaded.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) *DetectorService {
	service := &DetectorService{
		modelPath:  cfg.ModelPath,
		configPath: cfg.ConfigPath,
		logger:     logger,
	}

	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
	}
	return service
}

func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable target: %w", err)
	}

	s.net = net
	s.loaded = true
	s.logger.Info("Detection network initialized successfully")
	return nil
}

// Ready reports whether the network was loaded.
func (s *DetectorService) Ready() bool {
	return s.loaded
}

// Detect runs the network on a *gocv.Mat frame and returns every box above
// MinScore with its English COCO label and corner coordinates.
func (s *DetectorService) Detect(frame pipeline.Frame) ([]models.Detection, error) {
	if !s.loaded {
		return nil, ErrNetNotLoaded
	}
	mat, ok := frame.(*gocv.Mat)
	if !ok || mat == nil {
		return nil, ErrBadFrame
	}
	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	blob := gocv.BlobFromImage(*mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.mu.Lock()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	s.mu.Unlock()
	defer output.Close()

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols := float32(mat.Cols())
	height := float32(mat.Rows())

	var results []models.Detection
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence < MinScore {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		results = append(results, models.Detection{
			Label:      ClassLabel(classID),
			Confidence: float64(confidence),
			Box: models.Box{
				X1: clamp(int(rows.GetFloatAt(i, 3)*cols), mat.Cols()),
				Y1: clamp(int(rows.GetFloatAt(i, 4)*height), mat.Rows()),
				X2: clamp(int(rows.GetFloatAt(i, 5)*cols), mat.Cols()),
				Y2: clamp(int(rows.GetFloatAt(i, 6)*height), mat.Rows()),
			},
		})
	}
	return results, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	if !s.loaded {
		return nil
	}
	s.loaded = false
	return s.net.Close()
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// cocoLabels maps the TensorFlow COCO ids (1-based, with gaps) to class names.
// Id 4 is "motorbike" so it matches the default alert classes.
var cocoLabels = map[int]string{
	1: "person", 2: "bicycle", 3: "car", 4: "motorbike", 5: "airplane",
	6: "bus", 7: "train", 8: "truck", 9: "boat", 10: "traffic light",
	11: "fire hydrant", 13: "stop sign", 14: "parking meter", 15: "bench",
	16: "bird", 17: "cat", 18: "dog", 19: "horse", 20: "sheep",
	21: "cow", 22: "elephant", 23: "bear", 24: "zebra", 25: "giraffe",
	27: "backpack", 28: "umbrella", 31: "handbag", 32: "tie", 33: "suitcase",
	34: "frisbee", 35: "skis", 36: "snowboard", 37: "sports ball", 38: "kite",
	39: "baseball bat", 40: "baseball glove", 41: "skateboard", 42: "surfboard",
	43: "tennis racket", 44: "bottle", 46: "wine glass", 47: "cup", 48: "fork",
	49: "knife", 50: "spoon", 51: "bowl", 52: "banana", 53: "apple",
	54: "sandwich", 55: "orange", 56: "broccoli", 57: "carrot", 58: "hot dog",
	59: "pizza", 60: "donut", 61: "cake", 62: "chair", 63: "couch",
	64: "potted plant", 65: "bed", 67: "dining table", 70: "toilet", 72: "tv",
	73: "laptop", 74: "mouse", 75: "remote", 76: "keyboard", 77: "cell phone",
	78: "microwave", 79: "oven", 80: "toaster", 81: "sink", 82: "refrigerator",
	84: "book", 85: "clock", 86: "vase", 87: "scissors", 88: "teddy bear",
	89: "hair drier", 90: "toothbrush",
}

// ClassLabel returns the class name for a network class id.
func ClassLabel(classID int) string {
	if label, exists := cocoLabels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}
