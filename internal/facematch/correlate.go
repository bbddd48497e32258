package facematch

// PrimaryFileInfo holds the dimensions of the primary file of a photo.
// Face detection runs on the primary file, so its dimensions and EXIF
// orientation define the coordinate space of every bounding box.
type PrimaryFileInfo struct {
	UID         string
	Width       int
	Height      int
	Orientation int
}

// ExtractPrimaryFileInfo pulls the primary file dimensions out of a
// PhotoPrism photo details response. Falls back to the first file when no
// file is flagged primary, and returns nil when the response has no files.
func ExtractPrimaryFileInfo(details map[string]interface{}) *PrimaryFileInfo {
	files, ok := details["Files"].([]interface{})
	if !ok || len(files) == 0 {
		return nil
	}

	var primary map[string]interface{}
	for _, f := range files {
		file, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		if isPrimary, ok := file["Primary"].(bool); ok && isPrimary {
			primary = file
			break
		}
	}
	if primary == nil {
		primary, _ = files[0].(map[string]interface{})
		if primary == nil {
			return nil
		}
	}

	info := &PrimaryFileInfo{Orientation: 1}
	if uid, ok := primary["UID"].(string); ok {
		info.UID = uid
	}
	if w, ok := primary["Width"].(float64); ok {
		info.Width = int(w)
	}
	if h, ok := primary["Height"].(float64); ok {
		info.Height = int(h)
	}
	if o, ok := primary["Orientation"].(float64); ok {
		info.Orientation = int(o)
	}
	return info
}

// MarkerInfo is the subset of a PhotoPrism marker the correlation needs.
// X, Y, W, H are display-relative (0-1).
type MarkerInfo struct {
	UID     string
	Type    string
	Name    string
	SubjUID string
	X       float64
	Y       float64
	W       float64
	H       float64
}

// MatchResult describes the marker a face was correlated with.
type MatchResult struct {
	MarkerUID   string
	SubjectUID  string
	SubjectName string
	IoU         float64
}

// MatchFaceToMarkers finds the face marker that best overlaps a detected
// face. faceBBox is [x1, y1, x2, y2] in primary-file pixel coordinates.
// Returns nil when no face marker reaches the IoU threshold.
func MatchFaceToMarkers(faceBBox []float64, markers []MarkerInfo, width, height, orientation int, iouThreshold float64) *MatchResult {
	if len(faceBBox) != 4 || width <= 0 || height <= 0 {
		return nil
	}

	rel := DisplayRelativeBBox(faceBBox, width, height, orientation)
	faceCorners := CornerBBox(rel[0], rel[1], rel[2], rel[3])

	var best *MarkerInfo
	bestIoU := 0.0
	for i := range markers {
		if markers[i].Type != "face" {
			continue
		}
		iou := ComputeIoU(faceCorners, CornerBBox(markers[i].X, markers[i].Y, markers[i].W, markers[i].H))
		if iou > bestIoU {
			bestIoU = iou
			best = &markers[i]
		}
	}

	if best == nil || bestIoU < iouThreshold {
		return nil
	}

	return &MatchResult{
		MarkerUID:   best.UID,
		SubjectUID:  best.SubjUID,
		SubjectName: best.Name,
		IoU:         bestIoU,
	}
}
