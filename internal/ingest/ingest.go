// Package ingest walks the PhotoPrism library, runs the detector sidecar on
// each photo and stores the resulting face detections. Already processed
// photos are skipped, so an interrupted run can simply be restarted.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/detector"
	"github.com/kozaktomas/face-registry/internal/facematch"
	"github.com/kozaktomas/face-registry/internal/photoprism"
)

type Ingester struct {
	photoprism *photoprism.PhotoPrism
	detector   *detector.Client
	detections database.DetectionWriter
}

// ProgressInfo contains progress information for callbacks
type ProgressInfo struct {
	Phase    string // "listing", "detecting"
	Current  int
	Total    int
	PhotoUID string
	Message  string
}

type Options struct {
	Limit       int                // Max photos to process (0 = no limit)
	Concurrency int                // Number of parallel photo workers
	Force       bool               // Reprocess photos that were already ingested
	Quiet       bool               // Suppress the terminal progress bar (web mode)
	OnProgress  func(ProgressInfo) // Optional progress callback for web UI
}

type Result struct {
	PhotosTotal     int // photos listed in PhotoPrism
	PhotosSkipped   int // already ingested, not touched
	PhotosProcessed int
	PhotosFailed    int
	FacesStored     int
	MarkersMatched  int
	Errors          []error
}

func New(pp *photoprism.PhotoPrism, det *detector.Client, detections database.DetectionWriter) *Ingester {
	return &Ingester{
		photoprism: pp,
		detector:   det,
		detections: detections,
	}
}

// photoOutcome holds the result of processing a single photo
type photoOutcome struct {
	faces   int
	markers int
	err     error
}

// Run pages through the PhotoPrism library and processes every photo that
// has not been ingested yet.
func (ing *Ingester) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if opts.OnProgress != nil {
		opts.OnProgress(ProgressInfo{Phase: "listing", Message: "fetching photos from PhotoPrism"})
	}

	// Fetch all photos (paginated)
	var allPhotos []photoprism.Photo
	offset := 0
	for {
		photos, err := ing.photoprism.GetPhotos(constants.DefaultPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to get photos: %w", err)
		}
		if len(photos) == 0 {
			break
		}
		allPhotos = append(allPhotos, photos...)
		offset += len(photos)
	}
	result.PhotosTotal = len(allPhotos)

	// Filter out photos that were already processed
	var pending []photoprism.Photo
	for _, photo := range allPhotos {
		if !opts.Force {
			done, err := ing.detections.IsIngested(ctx, photo.UID)
			if err != nil {
				return nil, fmt.Errorf("failed to check ingest state: %w", err)
			}
			if done {
				result.PhotosSkipped++
				continue
			}
		}
		pending = append(pending, photo)
		if opts.Limit > 0 && len(pending) >= opts.Limit {
			break
		}
	}

	if len(pending) == 0 {
		return result, nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = constants.WorkerPoolSize
	}

	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.NewOptions(len(pending),
			progressbar.OptionSetDescription(fmt.Sprintf("Detecting faces (%d workers)", concurrency)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
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

	semaphore := make(chan struct{}, concurrency)
	resultsChan := make(chan photoOutcome, len(pending))
	var wg sync.WaitGroup
	var processedCount int
	var progressMu sync.Mutex

	reportProgress := func(photoUID string) {
		progressMu.Lock()
		processedCount++
		current := processedCount
		progressMu.Unlock()
		if bar != nil {
			bar.Add(1)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressInfo{
				Phase:    "detecting",
				Current:  current,
				Total:    len(pending),
				PhotoUID: photoUID,
			})
		}
	}

	for i := range pending {
		wg.Add(1)
		go func(p photoprism.Photo) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- photoOutcome{err: ctx.Err()}
				reportProgress(p.UID)
				return
			}

			faces, markers, err := ing.processPhoto(ctx, p)
			if err != nil {
				err = fmt.Errorf("photo %s: %w", p.UID, err)
			}
			resultsChan <- photoOutcome{faces: faces, markers: markers, err: err}
			reportProgress(p.UID)
		}(pending[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for outcome := range resultsChan {
		if outcome.err != nil {
			result.PhotosFailed++
			result.Errors = append(result.Errors, outcome.err)
			continue
		}
		result.PhotosProcessed++
		result.FacesStored += outcome.faces
		result.MarkersMatched += outcome.markers
	}
	if bar != nil {
		fmt.Println() // New line after progress bar
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// processPhoto downloads one photo, detects faces and stores the detections
// together with cached marker data. The original file is downloaded rather
// than a thumbnail because bounding boxes must stay in primary-file pixel
// coordinates for the marker overlap check.
func (ing *Ingester) processPhoto(ctx context.Context, photo photoprism.Photo) (int, int, error) {
	imageData, _, err := ing.photoprism.GetPhotoDownload(photo.UID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to download: %w", err)
	}

	detected, err := ing.detector.Detect(ctx, imageData)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to detect faces: %w", err)
	}

	detections := buildDetections(photo.UID, detected)

	markersMatched := 0
	if len(detections) > 0 {
		details, err := ing.photoprism.GetPhotoDetails(photo.UID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get details: %w", err)
		}
		fileInfo := facematch.ExtractPrimaryFileInfo(details)

		markers, err := ing.photoprism.GetPhotoMarkers(photo.UID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get markers: %w", err)
		}

		markersMatched = correlateMarkers(detections, fileInfo, markers)
	}

	// Save even an empty set so the photo counts as processed
	if err := ing.detections.SaveDetections(ctx, photo.UID, detections); err != nil {
		return 0, 0, fmt.Errorf("failed to save detections: %w", err)
	}
	if err := ing.detections.MarkIngested(ctx, photo.UID, len(detections)); err != nil {
		return 0, 0, fmt.Errorf("failed to mark ingested: %w", err)
	}

	return len(detections), markersMatched, nil
}

// buildDetections converts a detector result into stored detections.
func buildDetections(photoUID string, detected *detector.Result) []database.StoredDetection {
	detections := make([]database.StoredDetection, len(detected.Faces))
	for i, face := range detected.Faces {
		detections[i] = database.StoredDetection{
			PhotoUID:  photoUID,
			FaceIndex: face.FaceIndex,
			Embedding: face.Embedding,
			BBox:      face.BBox,
			DetScore:  face.DetScore,
			Model:     detected.Model,
			Dim:       len(face.Embedding),
		}
	}
	return detections
}

// correlateMarkers fills the cached PhotoPrism fields of the detections in
// place and returns how many detections matched a face marker.
func correlateMarkers(detections []database.StoredDetection, fileInfo *facematch.PrimaryFileInfo, markers []photoprism.Marker) int {
	if fileInfo == nil || fileInfo.Width == 0 || fileInfo.Height == 0 {
		return 0
	}

	for i := range detections {
		detections[i].FileUID = fileInfo.UID
		detections[i].PhotoWidth = fileInfo.Width
		detections[i].PhotoHeight = fileInfo.Height
		detections[i].Orientation = fileInfo.Orientation
	}

	if len(markers) == 0 {
		return 0
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

	matched := 0
	for i := range detections {
		if len(detections[i].BBox) != 4 {
			continue
		}
		match := facematch.MatchFaceToMarkers(detections[i].BBox, markerInfos,
			fileInfo.Width, fileInfo.Height, fileInfo.Orientation, constants.IoUThreshold)
		if match != nil {
			detections[i].MarkerUID = match.MarkerUID
			matched++
		}
	}
	return matched
}
