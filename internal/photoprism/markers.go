package photoprism

// GetPhotoMarkers collects the face markers from all files of a photo.
// Markers flagged invalid (deleted in PhotoPrism) are skipped.
func (pp *PhotoPrism) GetPhotoMarkers(photoUID string) ([]Marker, error) {
	details, err := pp.GetPhotoDetails(photoUID)
	if err != nil {
		return nil, err
	}

	var markers []Marker
	for _, file := range decodeFiles(details) {
		for _, m := range file.Markers {
			if m.Invalid {
				continue
			}
			if m.FileUID == "" {
				m.FileUID = file.UID
			}
			markers = append(markers, m)
		}
	}

	return markers, nil
}

// CreateMarker creates a new face marker on a photo file.
func (pp *PhotoPrism) CreateMarker(marker MarkerCreate) (*Marker, error) {
	return doPostJSONCreated[Marker](pp, "markers", marker)
}

// UpdateMarker updates an existing marker, e.g. to assign a person name.
func (pp *PhotoPrism) UpdateMarker(markerUID string, update MarkerUpdate) (*Marker, error) {
	return doPutJSON[Marker](pp, "markers/"+markerUID, update)
}
