package detection

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tphakala/spotit-go/internal/errors"
)

// Labels maps class ids to human readable names
type Labels []string

// Name returns the label for id, or "class_<id>" when the id is unknown
func (l Labels) Name(id int) string {
	if id >= 0 && id < len(l) && l[id] != "" {
		return l[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// COCOLabels returns the 80 COCO class names in model order
func COCOLabels() Labels {
	return Labels{
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
	}
}

// LoadLabels reads one label per line. Blank lines and lines starting with '#' are skipped.
// An empty path returns the COCO labels.
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return COCOLabels(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file %s is empty", path).
			Category(errors.CategoryLabelLoad).
			Build()
	}

	return labels, nil
}
