package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// Both boxes are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

// DisplayRelativeBBox converts a pixel bounding box [x1, y1, x2, y2] into
// the display-relative [x, y, w, h] format PhotoPrism markers use.
//
// The detector auto-rotates images by EXIF orientation before detection, so
// bbox coordinates already live in display space. PhotoPrism however reports
// raw file dimensions, which for orientations 5-8 (the 90 degree rotations)
// are swapped relative to the display. The only transformation needed is
// picking the right divisor.
func DisplayRelativeBBox(bbox []float64, fileWidth, fileHeight, orientation int) []float64 {
	if len(bbox) != 4 || fileWidth <= 0 || fileHeight <= 0 {
		return bbox
	}

	displayWidth, displayHeight := fileWidth, fileHeight
	if orientation >= 5 && orientation <= 8 {
		displayWidth, displayHeight = fileHeight, fileWidth
	}

	x1 := bbox[0] / float64(displayWidth)
	y1 := bbox[1] / float64(displayHeight)
	x2 := bbox[2] / float64(displayWidth)
	y2 := bbox[3] / float64(displayHeight)

	return []float64{x1, y1, x2 - x1, y2 - y1}
}

// CornerBBox converts a marker rectangle (x, y, w, h) to the [x1, y1, x2, y2]
// corner format ComputeIoU expects.
func CornerBBox(x, y, w, h float64) []float64 {
	return []float64{x, y, x + w, y + h}
}
