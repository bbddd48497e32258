// Package latex renders face contact sheets to PDF. Every confirmed
// person gets a grid of face crops with similarity captions, one section
// per person, compiled with lualatex.
package latex

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/kozaktomas/face-registry/internal/ai"
	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/photoprism"
)

//go:embed templates/sheet.tex
var templateFS embed.FS

const (
	downloadConcurrency = 5
	lowResDPIThreshold  = 200.0
	defaultMaxFaces     = 30
	cropEdgePx          = 600
	sizeDimHeight       = "height"
	sizeDimWidth        = "width"
)

// --- Export Report Types ---

// SheetReport contains metadata about a PDF export for quality analysis.
type SheetReport struct {
	Title       string       `json:"title"`
	PageCount   int          `json:"page_count"`
	PersonCount int          `json:"person_count"`
	FaceCount   int          `json:"face_count"`
	Pages       []ReportPage `json:"pages"`
	Warnings    []string     `json:"warnings"`
}

// ReportPage describes a single page in the export report.
type ReportPage struct {
	PageNumber int          `json:"page_number"`
	Person     string       `json:"person"`
	Faces      []ReportFace `json:"faces,omitempty"`
}

// ReportFace describes a single face placement in the export report.
type ReportFace struct {
	DetectionID  int64   `json:"detection_id"`
	PhotoUID     string  `json:"photo_uid"`
	SlotIndex    int     `json:"slot_index"`
	EffectiveDPI float64 `json:"effective_dpi"`
	LowRes       bool    `json:"low_res"`
}

// --- Template Types ---

// TemplateCell holds pre-computed TikZ coordinates for one face crop.
type TemplateCell struct {
	HasFace bool
	// Clip rectangle (mm from page bottom-left, TikZ convention)
	ClipX, ClipY float64
	ClipW, ClipH float64
	// Image node anchor position
	ImgX, ImgY float64
	// Sizing dimension and value
	SizeDim  string  // "width" or "height"
	SizeVal  float64 // mm
	FilePath string
	// DPI tracking
	EffectiveDPI float64
	// Caption strip below the crop
	Caption  string
	CaptionY float64
}

// TemplatePage holds cells for a single page.
type TemplatePage struct {
	Cells      []TemplateCell
	IsLast     bool
	PageNumber int
	// Person heading (first page of each person)
	HasHeading   bool
	PersonName   string
	PersonStats  string
	HeadingRuleY float64
	HeadingTextY float64
	// Page zones
	ContentLeftX  float64
	ContentRightX float64
	HeaderY       float64
	RunningLeft   string  // sheet title
	RunningRight  string  // person name
	CanvasTopY    float64
	CanvasBottomY float64
	FolioX        float64
	FolioY        float64
}

// TemplateSection holds one person's pages.
type TemplateSection struct {
	Name  string
	Pages []TemplatePage
}

// TemplateData is the root data passed to the LaTeX template.
type TemplateData struct {
	Sections []TemplateSection
	Title    string
	PageW    float64
	PageH    float64
}

// cropImage holds a rendered face crop for dimension lookup.
type cropImage struct {
	path   string
	width  int
	height int
}

// faceItem pairs an identity with its detection.
type faceItem struct {
	identity  database.StoredIdentity
	detection database.StoredDetection
}

// personFaces groups the faces selected for one person.
type personFaces struct {
	person database.StoredPerson
	faces  []faceItem
}

type Generator struct {
	photoprism *photoprism.PhotoPrism
	persons    database.PersonReader
	identities database.IdentityReader
	detections database.DetectionReader
}

type Options struct {
	PersonIDs []string // explicit persons; empty exports every confirmed person
	MaxFaces  int      // faces per person, best matches first (0 = 30)
	Title     string   // sheet title in the running header
}

func NewGenerator(pp *photoprism.PhotoPrism, persons database.PersonReader,
	identities database.IdentityReader, detections database.DetectionReader) *Generator {
	return &Generator{
		photoprism: pp,
		persons:    persons,
		identities: identities,
		detections: detections,
	}
}

// Generate renders the contact sheet PDF and its report.
func (g *Generator) Generate(ctx context.Context, opts Options) ([]byte, *SheetReport, error) {
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = defaultMaxFaces
	}
	if opts.Title == "" {
		opts.Title = "Face registry"
	}

	people, err := g.collectPersons(ctx, opts.PersonIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(people) == 0 {
		return nil, nil, errors.New("no persons to export")
	}

	groups, err := g.collectFaces(ctx, people, opts.MaxFaces)
	if err != nil {
		return nil, nil, err
	}

	tmpDir, err := os.MkdirTemp("", "contact-sheet-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	crops := g.renderCrops(ctx, groups, tmpDir)
	groups = dropMissingCrops(groups, crops)
	if len(groups) == 0 {
		return nil, nil, errors.New("no face crops could be rendered")
	}

	config := DefaultLayoutConfig()
	data, report := buildTemplateData(groups, crops, config, opts.Title)

	// Layout validation
	for _, vw := range ValidatePages(data.Sections, config) {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("Layout: page %d cell %d: %s", vw.PageNumber, vw.CellIndex, vw.Message))
	}
	addDPIWarnings(report)

	pdfData, err := compileLatex(ctx, data, tmpDir)
	if err != nil {
		return nil, nil, err
	}
	return pdfData, report, nil
}

// collectPersons resolves the export targets: the explicit list, or every
// confirmed active person.
func (g *Generator) collectPersons(ctx context.Context, personIDs []string) ([]database.StoredPerson, error) {
	if len(personIDs) > 0 {
		people := make([]database.StoredPerson, 0, len(personIDs))
		for _, id := range personIDs {
			person, err := g.persons.GetPerson(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load person %s: %w", id, err)
			}
			if person == nil || !person.Active() {
				return nil, fmt.Errorf("person not found: %s", id)
			}
			people = append(people, *person)
		}
		return people, nil
	}

	all, err := g.persons.ListPersons(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	people := make([]database.StoredPerson, 0, len(all))
	for _, p := range all {
		if p.Confirmed {
			people = append(people, p)
		}
	}
	sort.Slice(people, func(i, j int) bool {
		if people[i].DisplayName != people[j].DisplayName {
			return people[i].DisplayName < people[j].DisplayName
		}
		return people[i].ID < people[j].ID
	})
	return people, nil
}

// collectFaces loads each person's identities, keeps the best maxFaces by
// similarity and pairs them with their detections.
func (g *Generator) collectFaces(ctx context.Context, people []database.StoredPerson, maxFaces int) ([]personFaces, error) {
	groups := make([]personFaces, 0, len(people))

	for _, person := range people {
		identities, err := g.identities.ListByPerson(ctx, person.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list identities of %s: %w", person.ID, err)
		}
		if len(identities) == 0 {
			continue
		}

		sort.Slice(identities, func(i, j int) bool {
			if identities[i].Similarity != identities[j].Similarity {
				return identities[i].Similarity > identities[j].Similarity
			}
			return identities[i].DetectionID < identities[j].DetectionID
		})
		if len(identities) > maxFaces {
			identities = identities[:maxFaces]
		}

		ids := make([]int64, len(identities))
		for i, identity := range identities {
			ids[i] = identity.DetectionID
		}
		detections, err := g.detections.GetBatch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load detections of %s: %w", person.ID, err)
		}
		byID := make(map[int64]database.StoredDetection, len(detections))
		for _, d := range detections {
			byID[d.ID] = d
		}

		faces := make([]faceItem, 0, len(identities))
		for _, identity := range identities {
			if d, ok := byID[identity.DetectionID]; ok {
				faces = append(faces, faceItem{identity: identity, detection: d})
			}
		}
		if len(faces) > 0 {
			groups = append(groups, personFaces{person: person, faces: faces})
		}
	}
	return groups, nil
}

// renderCrops downloads the photos concurrently and cuts every face crop
// into tmpDir, returning a map of detection ID -> cropImage.
func (g *Generator) renderCrops(ctx context.Context, groups []personFaces, tmpDir string) map[int64]cropImage {
	byPhoto := make(map[string][]faceItem)
	for _, group := range groups {
		for _, face := range group.faces {
			byPhoto[face.detection.PhotoUID] = append(byPhoto[face.detection.PhotoUID], face)
		}
	}

	result := make(map[int64]cropImage)
	var mu sync.Mutex

	jobs := make(chan string, len(byPhoto))
	for uid := range byPhoto {
		jobs <- uid
	}
	close(jobs)

	var wg sync.WaitGroup
	for range downloadConcurrency {
		wg.Go(func() {
			for uid := range jobs {
				if ctx.Err() != nil {
					return
				}
				data, _, err := g.photoprism.GetPhotoDownload(uid)
				if err != nil {
					log.Printf("WARNING: failed to download photo %s: %v", uid, err)
					continue
				}
				for _, face := range byPhoto[uid] {
					img, err := renderCrop(data, face.detection, tmpDir)
					if err != nil {
						log.Printf("WARNING: failed to crop detection %d: %v", face.detection.ID, err)
						continue
					}
					mu.Lock()
					result[face.detection.ID] = *img
					mu.Unlock()
				}
			}
		})
	}
	wg.Wait()
	return result
}

// renderCrop cuts one face out of the photo and writes it as a JPEG file.
func renderCrop(photoData []byte, d database.StoredDetection, tmpDir string) (*cropImage, error) {
	crop, err := ai.CropFace(photoData, d.BBox, constants.CropPadding, cropEdgePx)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(tmpDir, fmt.Sprintf("det_%d.jpg", d.ID))
	if err := os.WriteFile(path, crop, 0600); err != nil {
		return nil, fmt.Errorf("failed to write crop: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(crop))
	if err != nil {
		return nil, fmt.Errorf("failed to decode crop config: %w", err)
	}

	return &cropImage{
		path:   path,
		width:  cfg.Width,
		height: cfg.Height,
	}, nil
}

// dropMissingCrops filters faces whose crop failed so the grid stays dense.
func dropMissingCrops(groups []personFaces, crops map[int64]cropImage) []personFaces {
	kept := make([]personFaces, 0, len(groups))
	for _, group := range groups {
		faces := make([]faceItem, 0, len(group.faces))
		for _, face := range group.faces {
			if _, ok := crops[face.detection.ID]; ok {
				faces = append(faces, face)
			}
		}
		if len(faces) > 0 {
			kept = append(kept, personFaces{person: group.person, faces: faces})
		}
	}
	return kept
}

// addDPIWarnings scans report pages and adds warnings for low-res crops.
func addDPIWarnings(report *SheetReport) {
	for _, rp := range report.Pages {
		for _, face := range rp.Faces {
			if face.LowRes {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("Page %d, cell %d (detection %d): effective DPI %.0f is below %d",
						rp.PageNumber, face.SlotIndex, face.DetectionID, face.EffectiveDPI, int(lowResDPIThreshold)))
			}
		}
	}
}

// buildTemplateData constructs the template data and export report.
func buildTemplateData(groups []personFaces, crops map[int64]cropImage, config LayoutConfig, title string) (TemplateData, *SheetReport) {
	report := &SheetReport{
		Title:       title,
		PersonCount: len(groups),
	}

	pageNumber := 0
	sections := make([]TemplateSection, 0, len(groups))
	for _, group := range groups {
		section := buildPersonSection(group, crops, config, title, &pageNumber, report)
		sections = append(sections, section)
	}

	// Mark the final page so the template skips the trailing page break
	if len(sections) > 0 {
		lastPages := sections[len(sections)-1].Pages
		if len(lastPages) > 0 {
			lastPages[len(lastPages)-1].IsLast = true
		}
	}

	report.PageCount = pageNumber
	return TemplateData{
		Sections: sections,
		Title:    title,
		PageW:    PageW,
		PageH:    PageH,
	}, report
}

// buildPersonSection lays one person's faces out over as many pages as needed.
func buildPersonSection(group personFaces, crops map[int64]cropImage, config LayoutConfig,
	title string, pageNumber *int, report *SheetReport) TemplateSection {
	photoSet := make(map[string]bool)
	for _, face := range group.faces {
		photoSet[face.detection.PhotoUID] = true
	}
	stats := fmt.Sprintf("%d faces from %d photos", len(group.faces), len(photoSet))

	var pages []TemplatePage
	faces := group.faces
	for len(faces) > 0 {
		withHeading := len(pages) == 0
		capacity := config.CellsPerPage(withHeading)
		if capacity <= 0 {
			break
		}
		n := capacity
		if n > len(faces) {
			n = len(faces)
		}

		*pageNumber++
		page, reportFaces := buildSheetPage(faces[:n], crops, config, *pageNumber, withHeading,
			group.person.DisplayName, stats, title)
		pages = append(pages, page)

		report.Pages = append(report.Pages, ReportPage{
			PageNumber: *pageNumber,
			Person:     group.person.DisplayName,
			Faces:      reportFaces,
		})
		report.FaceCount += n

		faces = faces[n:]
	}

	return TemplateSection{
		Name:  group.person.DisplayName,
		Pages: pages,
	}
}

// buildSheetPage builds one page of the grid. TikZ origin is page
// bottom-left, Y increases upward.
func buildSheetPage(faces []faceItem, crops map[int64]cropImage, config LayoutConfig,
	pageNumber int, withHeading bool, personName, personStats, title string) (TemplatePage, []ReportFace) {
	contentLeftX := config.MarginMM
	contentRightX := config.MarginMM + config.ContentWidth()
	topEdge := PageH - config.MarginMM
	headerY := topEdge - 2.0
	canvasTopY := topEdge - config.HeaderHeightMM
	canvasBottomY := config.MarginMM + config.FooterHeightMM

	var headingRuleY, headingTextY float64
	effCanvasTopY := canvasTopY
	if withHeading {
		headingRuleY = canvasTopY
		headingTextY = canvasTopY - 5.0
		effCanvasTopY = canvasTopY - PersonHeadingHeightMM
	}

	cells := make([]TemplateCell, 0, len(faces))
	reportFaces := make([]ReportFace, 0, len(faces))
	for i, face := range faces {
		row := i / config.Columns
		col := i % config.Columns
		rect := config.CellRect(row, col)

		crop := crops[face.detection.ID]
		caption := fmt.Sprintf("%s %.3f", shortUID(face.detection.PhotoUID), face.identity.Similarity)
		if face.identity.AutoAssigned {
			caption += " auto"
		}

		cell := buildFaceCell(rect, crop, contentLeftX, effCanvasTopY, caption, config.CaptionHeightMM)
		cells = append(cells, cell)

		reportFaces = append(reportFaces, ReportFace{
			DetectionID:  face.detection.ID,
			PhotoUID:     face.detection.PhotoUID,
			SlotIndex:    i,
			EffectiveDPI: cell.EffectiveDPI,
			LowRes:       cell.EffectiveDPI > 0 && cell.EffectiveDPI < lowResDPIThreshold,
		})
	}

	return TemplatePage{
		Cells:         cells,
		PageNumber:    pageNumber,
		HasHeading:    withHeading,
		PersonName:    personName,
		PersonStats:   personStats,
		HeadingRuleY:  headingRuleY,
		HeadingTextY:  headingTextY,
		ContentLeftX:  contentLeftX,
		ContentRightX: contentRightX,
		HeaderY:       headerY,
		RunningLeft:   title,
		RunningRight:  personName,
		CanvasTopY:    effCanvasTopY,
		CanvasBottomY: canvasBottomY,
		FolioX:        PageW / 2.0,
		FolioY:        config.MarginMM / 2.0,
	}, reportFaces
}

// buildFaceCell creates a TemplateCell with object-cover behavior: the
// crop fills the square cell, centered, overflow clipped.
func buildFaceCell(rect SlotRect, crop cropImage, contentLeftX, canvasTopY float64, caption string, captionHeight float64) TemplateCell {
	// Convert canvas-relative coords to TikZ page coords
	clipX := contentLeftX + rect.X
	clipY := canvasTopY - rect.Y - rect.H

	cellAspect := rect.W / rect.H
	imgAspect := float64(crop.width) / float64(crop.height)

	var sizeDim string
	var sizeVal, renderW, renderH float64

	if imgAspect > cellAspect {
		sizeDim = sizeDimHeight
		sizeVal = rect.H
		renderH = rect.H
		renderW = rect.H * imgAspect
	} else {
		sizeDim = sizeDimWidth
		sizeVal = rect.W
		renderW = rect.W
		renderH = rect.W / imgAspect
	}

	imgX := clipX - (renderW-rect.W)/2.0
	imgY := clipY - (renderH-rect.H)/2.0

	var effectiveDPI float64
	if sizeDim == sizeDimHeight {
		effectiveDPI = float64(crop.height) / sizeVal * 25.4
	} else {
		effectiveDPI = float64(crop.width) / sizeVal * 25.4
	}
	effectiveDPI = math.Round(effectiveDPI*10) / 10

	return TemplateCell{
		HasFace:      true,
		ClipX:        clipX,
		ClipY:        clipY,
		ClipW:        rect.W,
		ClipH:        rect.H,
		ImgX:         imgX,
		ImgY:         imgY,
		SizeDim:      sizeDim,
		SizeVal:      sizeVal,
		FilePath:     crop.path,
		EffectiveDPI: effectiveDPI,
		Caption:      caption,
		CaptionY:     clipY - captionHeight + 1.0,
	}
}

// shortUID truncates a PhotoPrism UID for cell captions.
func shortUID(uid string) string {
	if len(uid) <= 8 {
		return uid
	}
	return uid[:8]
}

// latexEscapeRaw escapes special LaTeX characters in user text.
func latexEscapeRaw(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\textbackslash{}`,
		`{`, `\{`,
		`}`, `\}`,
		`%`, `\%`,
		`&`, `\&`,
		`#`, `\#`,
		`$`, `\$`,
		`_`, `\_`,
		`^`, `\textasciicircum{}`,
		`~`, `\textasciitilde{}`,
	)
	return replacer.Replace(s)
}

// czechTypographyRe matches single-letter Czech prepositions followed by a space.
var czechTypographyRe = regexp.MustCompile(`(^|[\s])([vVkKsSzZuUoOiIaA])\s`)

// czechTypography inserts LaTeX non-breaking spaces (~) after single-letter Czech
// prepositions to prevent them from appearing at end of line.
func czechTypography(s string) string {
	return czechTypographyRe.ReplaceAllString(s, "${1}${2}~")
}

// latexEscape escapes special LaTeX characters and applies Czech typography rules.
func latexEscape(s string) string {
	return czechTypography(latexEscapeRaw(s))
}

// sheetTemplate parses the embedded sheet template. The << >> delimiters
// keep the template free of brace escaping.
func sheetTemplate() (*template.Template, error) {
	funcMap := template.FuncMap{
		"latexEscape":   latexEscape,
		"addFloat":      func(a, b float64) float64 { return a + b },
		"subtractFloat": func(a, b float64) float64 { return a - b },
	}
	return template.New("sheet.tex").Delims("<<", ">>").Funcs(funcMap).ParseFS(templateFS, "templates/sheet.tex")
}

// compileLatex writes the template and runs lualatex, returning the PDF bytes.
func compileLatex(ctx context.Context, data TemplateData, tmpDir string) ([]byte, error) {
	tmpl, err := sheetTemplate()
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	texPath := filepath.Join(tmpDir, "sheet.tex")
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	if err := os.WriteFile(texPath, buf.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("failed to write tex file: %w", err)
	}

	// Run lualatex twice, the second pass resolves remember picture positions
	// Arguments are safe (tmpDir from os.MkdirTemp, texPath derived from it)
	for pass := range 2 {
		cmd := exec.CommandContext(ctx, "lualatex", //nolint:gosec
			"-interaction=nonstopmode",
			"-output-directory="+tmpDir,
			texPath,
		)
		cmd.Dir = tmpDir
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("lualatex pass %d failed: %w\n%s", pass+1, err, string(output))
		}
	}

	pdfPath := filepath.Join(tmpDir, "sheet.pdf")
	pdfData, err := os.ReadFile(pdfPath) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	return pdfData, nil
}
