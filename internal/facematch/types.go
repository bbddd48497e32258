// Package facematch correlates face detections with PhotoPrism markers.
// Detections carry bounding boxes in primary-file pixel coordinates while
// markers live in display-relative coordinates, so the package also holds
// the geometry conversions between the two spaces.
package facematch

// MatchAction is what the writeback has to do for one identified face.
type MatchAction string

const (
	ActionCreateMarker  MatchAction = "create_marker"  // no marker overlaps the face, create one
	ActionAssignSubject MatchAction = "assign_subject" // marker exists without a subject, set the name
	ActionAlreadyDone   MatchAction = "already_done"   // marker already carries this subject
	ActionConflict      MatchAction = "conflict"       // marker carries a different subject, leave it alone
)

// PlanMarkerAction decides the writeback action for a face identified as
// personName, given the marker the face matched (nil when none did).
// Conflicting subjects are never overwritten; a human set them for a reason.
func PlanMarkerAction(match *MatchResult, personName string) MatchAction {
	if match == nil {
		return ActionCreateMarker
	}
	if match.SubjectName == "" {
		return ActionAssignSubject
	}
	if NormalizePersonName(match.SubjectName) == NormalizePersonName(personName) {
		return ActionAlreadyDone
	}
	return ActionConflict
}
