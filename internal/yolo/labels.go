package yolo

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Labels maps class indices to names. Indices without an explicit name are
// rendered as Prefix + index.
type Labels struct {
	Names  []string
	Prefix string
}

// Name returns the label for class id.
func (l Labels) Name(id int) string {
	if id >= 0 && id < len(l.Names) && l.Names[id] != "" {
		return l.Names[id]
	}
	return fmt.Sprintf("%s%d", l.Prefix, id)
}

// IndexOf returns the class id for name, or -1.
func (l Labels) IndexOf(name string) int {
	for i, n := range l.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// LoadLabels reads one class name per line. Blank lines keep their index so
// that line numbers equal class ids; a UTF-8 BOM on the first line is dropped.
func LoadLabels(path, prefix string) (Labels, error) {
	if path == "" {
		return Labels{}, errors.New("labels path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: labels path comes from configuration
	if err != nil {
		return Labels{}, fmt.Errorf("failed to open labels: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close labels file", "path", path, "error", err)
		}
	}()

	var names []string
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		names = append(names, strings.TrimSpace(line))
	}
	if err := sc.Err(); err != nil {
		return Labels{}, fmt.Errorf("failed to read labels: %w", err)
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return Labels{}, fmt.Errorf("labels file %s is empty", path)
	}
	return Labels{Names: names, Prefix: prefix}, nil
}

// ProductLabelPrefix names product classes grozi_<id> when no labels file is
// configured.
const ProductLabelPrefix = "grozi_"

// COCOLabels are the 80 COCO class names in model output order.
var COCOLabels = Labels{Prefix: "class_", Names: []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}}
