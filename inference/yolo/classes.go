package yolo

import "strings"

// COCOClasses are the 80 classes of COCO-trained YOLO exports, in output order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// DefaultAliases maps furnishing categories onto COCO class names.
var DefaultAliases = map[string]string{
	"sofa":       "couch",
	"settee":     "couch",
	"table":      "dining table",
	"plant":      "potted plant",
	"television": "tv",
	"fridge":     "refrigerator",
	"armchair":   "chair",
}

// MatchClasses resolves label phrases to class indices of classes.
//
// A phrase matches after lower-casing and dropping the trailing period, either
// directly, through aliases, or in singular form ("chairs" -> "chair").
//
// Arguments:
//   - labels: The label phrases, e.g. "Sofas.".
//   - classes: The model's class names in output order.
//   - aliases: Extra phrase to class name mappings.
//
// Returns:
//   - map[int]string: Class index to the phrase it matched, reported as the detection label.
func MatchClasses(labels []string, classes []string, aliases map[string]string) map[int]string {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	matched := make(map[int]string)
	for _, label := range labels {
		phrase := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(label), "."))
		for _, candidate := range []string{phrase, strings.TrimSuffix(phrase, "s")} {
			name := candidate
			if alias, ok := aliases[candidate]; ok {
				name = alias
			}
			if i, ok := index[name]; ok {
				if _, seen := matched[i]; !seen {
					matched[i] = label
				}
				break
			}
		}
	}
	return matched
}
