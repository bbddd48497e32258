// Package writeback pushes confirmed identities back into PhotoPrism.
// Markers and subject names go through the PhotoPrism API; marker
// embeddings and face cluster centroids go straight into MariaDB because
// the API does not expose them.
package writeback

import (
	"context"
	"fmt"
	"sort"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/database/mariadb"
	"github.com/kozaktomas/face-registry/internal/facematch"
	"github.com/kozaktomas/face-registry/internal/photoprism"
)

type Applier struct {
	photoprism *photoprism.PhotoPrism
	maria      *mariadb.Pool // nil disables the embedding and centroid pushes
	detections database.DetectionWriter
	persons    database.PersonReader
	identities database.IdentityReader
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Phase    string // "loading", "markers", "push"
	Current  int
	Total    int
	PhotoUID string
	Message  string
}

type Options struct {
	DryRun         bool               // Plan actions without writing anything
	Limit          int                // Max photos to touch (0 = no limit)
	PushEmbeddings bool               // Replace PhotoPrism marker embeddings with detector ones
	PushCentroids  bool               // Write person centroids into PhotoPrism face clusters
	Quiet          bool               // Suppress the terminal progress bar (web mode)
	OnProgress     func(ProgressInfo) // Optional progress callback for web UI
}

type Result struct {
	PhotosExamined   int
	MarkersCreated   int
	SubjectsAssigned int
	AlreadyDone      int
	Conflicts        int
	EmbeddingsPushed int
	CentroidsPushed  int
	Errors           []error
}

func New(pp *photoprism.PhotoPrism, maria *mariadb.Pool, detections database.DetectionWriter,
	persons database.PersonReader, identities database.IdentityReader) *Applier {
	return &Applier{
		photoprism: pp,
		maria:      maria,
		detections: detections,
		persons:    persons,
		identities: identities,
	}
}

// applyItem is one identified detection waiting for writeback.
type applyItem struct {
	detection database.StoredDetection
	person    database.StoredPerson
}

// Run applies the identities of every confirmed person to PhotoPrism
// markers, photo by photo.
func (a *Applier) Run(ctx context.Context, opts Options) (*Result, error) {
	if (opts.PushEmbeddings || opts.PushCentroids) && a.maria == nil {
		return nil, fmt.Errorf("MariaDB connection is required for embedding or centroid push")
	}

	result := &Result{}

	if opts.OnProgress != nil {
		opts.OnProgress(ProgressInfo{Phase: "loading", Message: "collecting confirmed identities"})
	}

	confirmed, err := a.confirmedPersons(ctx)
	if err != nil {
		return nil, err
	}

	byPhoto, err := a.collectTargets(ctx, confirmed)
	if err != nil {
		return nil, err
	}

	photoUIDs := make([]string, 0, len(byPhoto))
	for uid := range byPhoto {
		photoUIDs = append(photoUIDs, uid)
	}
	sort.Strings(photoUIDs)
	if opts.Limit > 0 && len(photoUIDs) > opts.Limit {
		photoUIDs = photoUIDs[:opts.Limit]
	}

	var bar *progressbar.ProgressBar
	if !opts.Quiet && len(photoUIDs) > 0 {
		bar = progressbar.NewOptions(len(photoUIDs),
			progressbar.OptionSetDescription("Applying identities"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	// personID -> PhotoPrism subject UID, discovered while walking markers
	subjects := make(map[string]string)
	// markerUID -> detector embedding, for the optional embedding push
	markerEmbeddings := make(map[string][]float32)

	for i, photoUID := range photoUIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := a.applyPhoto(ctx, photoUID, byPhoto[photoUID], opts, result, subjects, markerEmbeddings); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("photo %s: %w", photoUID, err))
		}
		result.PhotosExamined++

		if bar != nil {
			bar.Add(1)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:    "markers",
				Current:  i + 1,
				Total:    len(photoUIDs),
				PhotoUID: photoUID,
			})
		}
	}
	if bar != nil {
		fmt.Println()
	}

	if opts.PushEmbeddings && !opts.DryRun {
		a.pushEmbeddings(ctx, markerEmbeddings, opts, result)
	}
	if opts.PushCentroids && !opts.DryRun {
		a.pushCentroids(ctx, confirmed, subjects, opts, result)
	}

	return result, nil
}

// confirmedPersons returns the confirmed, active persons keyed by ID.
func (a *Applier) confirmedPersons(ctx context.Context) (map[string]database.StoredPerson, error) {
	persons, err := a.persons.ListPersons(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}

	confirmed := make(map[string]database.StoredPerson)
	for _, p := range persons {
		if p.Confirmed {
			confirmed[p.ID] = p
		}
	}
	return confirmed, nil
}

// collectTargets loads the identified detections of the given persons and
// groups them by photo.
func (a *Applier) collectTargets(ctx context.Context, confirmed map[string]database.StoredPerson) (map[string][]applyItem, error) {
	byPhoto := make(map[string][]applyItem)

	personIDs := make([]string, 0, len(confirmed))
	for id := range confirmed {
		personIDs = append(personIDs, id)
	}
	sort.Strings(personIDs)

	for _, personID := range personIDs {
		person := confirmed[personID]

		identities, err := a.identities.ListByPerson(ctx, personID)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities of %s: %w", personID, err)
		}
		if len(identities) == 0 {
			continue
		}

		ids := make([]int64, len(identities))
		for i, identity := range identities {
			ids[i] = identity.DetectionID
		}
		detections, err := a.detections.GetBatch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load detections of %s: %w", personID, err)
		}

		for _, d := range detections {
			byPhoto[d.PhotoUID] = append(byPhoto[d.PhotoUID], applyItem{detection: d, person: person})
		}
	}
	return byPhoto, nil
}

// applyPhoto plans and executes the marker action for every identified
// face of one photo.
func (a *Applier) applyPhoto(ctx context.Context, photoUID string, items []applyItem, opts Options,
	result *Result, subjects map[string]string, markerEmbeddings map[string][]float32) error {
	details, err := a.photoprism.GetPhotoDetails(photoUID)
	if err != nil {
		return fmt.Errorf("failed to get details: %w", err)
	}
	fileInfo := facematch.ExtractPrimaryFileInfo(details)
	if fileInfo == nil || fileInfo.Width == 0 || fileInfo.Height == 0 {
		return fmt.Errorf("no usable primary file")
	}

	markers, err := a.photoprism.GetPhotoMarkers(photoUID)
	if err != nil {
		return fmt.Errorf("failed to get markers: %w", err)
	}
	markerInfos := make([]facematch.MarkerInfo, 0, len(markers))
	for i := range markers {
		m := &markers[i]
		markerInfos = append(markerInfos, facematch.MarkerInfo{
			UID:     m.UID,
			Type:    m.Type,
			Name:    m.Name,
			SubjUID: m.SubjUID,
			X:       m.X,
			Y:       m.Y,
			W:       m.W,
			H:       m.H,
		})
	}

	for _, item := range items {
		match := facematch.MatchFaceToMarkers(item.detection.BBox, markerInfos,
			fileInfo.Width, fileInfo.Height, fileInfo.Orientation, constants.IoUThreshold)

		switch facematch.PlanMarkerAction(match, item.person.DisplayName) {
		case facematch.ActionCreateMarker:
			if opts.DryRun {
				result.MarkersCreated++
				continue
			}
			created, err := a.createMarker(ctx, photoUID, fileInfo, item)
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			result.MarkersCreated++
			rememberMarker(item, created, subjects, markerEmbeddings)

		case facematch.ActionAssignSubject:
			if opts.DryRun {
				result.SubjectsAssigned++
				continue
			}
			updated, err := a.photoprism.UpdateMarker(match.MarkerUID, photoprism.MarkerUpdate{
				Name:    item.person.DisplayName,
				SubjSrc: "manual",
			})
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("assign subject on marker %s: %w", match.MarkerUID, err))
				continue
			}
			result.SubjectsAssigned++
			a.cacheMarker(ctx, item, match.MarkerUID)
			rememberMarker(item, updated, subjects, markerEmbeddings)

		case facematch.ActionAlreadyDone:
			result.AlreadyDone++
			if match.SubjectUID != "" {
				subjects[item.person.ID] = match.SubjectUID
			}
			markerEmbeddings[match.MarkerUID] = item.detection.Embedding
			if !opts.DryRun {
				a.cacheMarker(ctx, item, match.MarkerUID)
			}

		case facematch.ActionConflict:
			result.Conflicts++
		}
	}
	return nil
}

// createMarker creates a face marker carrying the person as its subject.
func (a *Applier) createMarker(ctx context.Context, photoUID string, fileInfo *facematch.PrimaryFileInfo, item applyItem) (*photoprism.Marker, error) {
	rel := facematch.DisplayRelativeBBox(item.detection.BBox, fileInfo.Width, fileInfo.Height, fileInfo.Orientation)
	created, err := a.photoprism.CreateMarker(photoprism.MarkerCreate{
		FileUID: fileInfo.UID,
		Type:    "face",
		X:       rel[0],
		Y:       rel[1],
		W:       rel[2],
		H:       rel[3],
		Name:    item.person.DisplayName,
		Src:     "manual",
		SubjSrc: "manual",
	})
	if err != nil {
		return nil, fmt.Errorf("create marker on photo %s: %w", photoUID, err)
	}
	a.cacheMarker(ctx, item, created.UID)
	return created, nil
}

// cacheMarker stores the marker linkage on the detection row. A cache miss
// is not fatal; the next run re-derives it from the markers.
func (a *Applier) cacheMarker(ctx context.Context, item applyItem, markerUID string) {
	if item.detection.MarkerUID == markerUID {
		return
	}
	_ = a.detections.UpdateMarker(ctx, item.detection.PhotoUID, item.detection.FaceIndex, markerUID)
}

// rememberMarker records the subject linkage and the marker embedding a
// later push phase needs.
func rememberMarker(item applyItem, marker *photoprism.Marker, subjects map[string]string, markerEmbeddings map[string][]float32) {
	if marker == nil {
		return
	}
	if marker.SubjUID != "" {
		subjects[item.person.ID] = marker.SubjUID
	}
	if marker.UID != "" {
		markerEmbeddings[marker.UID] = item.detection.Embedding
	}
}

// pushEmbeddings replaces PhotoPrism marker embeddings with the detector
// embeddings collected during the marker pass.
func (a *Applier) pushEmbeddings(ctx context.Context, markerEmbeddings map[string][]float32, opts Options, result *Result) {
	markerUIDs := make([]string, 0, len(markerEmbeddings))
	for uid := range markerEmbeddings {
		markerUIDs = append(markerUIDs, uid)
	}
	sort.Strings(markerUIDs)

	for i, markerUID := range markerUIDs {
		if ctx.Err() != nil {
			return
		}
		if err := a.maria.UpdateMarkerEmbedding(ctx, markerUID, markerEmbeddings[markerUID]); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("push embedding for marker %s: %w", markerUID, err))
			continue
		}
		result.EmbeddingsPushed++
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{Phase: "push", Current: i + 1, Total: len(markerUIDs), Message: "marker embeddings"})
		}
	}
}

// pushCentroids writes person centroids into the PhotoPrism face clusters
// of the subjects discovered during the marker pass.
func (a *Applier) pushCentroids(ctx context.Context, confirmed map[string]database.StoredPerson,
	subjects map[string]string, opts Options, result *Result) {
	personIDs := make([]string, 0, len(subjects))
	for id := range subjects {
		personIDs = append(personIDs, id)
	}
	sort.Strings(personIDs)

	for i, personID := range personIDs {
		if ctx.Err() != nil {
			return
		}
		person, ok := confirmed[personID]
		if !ok || len(person.Centroid) == 0 {
			continue
		}
		updated, err := a.maria.UpdateSubjectCentroid(ctx, subjects[personID], person.Centroid)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("push centroid for person %s: %w", personID, err))
			continue
		}
		result.CentroidsPushed += updated
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{Phase: "push", Current: i + 1, Total: len(personIDs), Message: "face cluster centroids"})
		}
	}
}
