package latex

import "testing"

func sheetPage(cells []TemplateCell) TemplatePage {
	return TemplatePage{
		PageNumber:    1,
		ContentLeftX:  15.0,
		ContentRightX: 195.0,
		CanvasTopY:    276.0,
		CanvasBottomY: 23.0,
		Cells:         cells,
	}
}

func TestValidatePages_CellsWithinBounds(t *testing.T) {
	config := DefaultLayoutConfig()
	// Cell extends past the content right edge (180 + 32.8 = 212.8 > 195)
	page := sheetPage([]TemplateCell{
		{
			HasFace: true,
			ClipX:   180.0,
			ClipY:   100.0,
			ClipW:   32.8,
			ClipH:   32.8,
		},
	})
	sections := []TemplateSection{{Pages: []TemplatePage{page}}}
	warnings := ValidatePages(sections, config)

	found := false
	for _, w := range warnings {
		if w.CellIndex == 0 && w.Severity == "error" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error warning for cell extending beyond canvas, got none")
	}
}

func TestValidatePages_BelowCanvasBottom(t *testing.T) {
	config := DefaultLayoutConfig()
	// Cell bottom at 10 is below the canvas bottom at 23
	page := sheetPage([]TemplateCell{
		{
			HasFace: true,
			ClipX:   15.0,
			ClipY:   10.0,
			ClipW:   32.8,
			ClipH:   32.8,
		},
	})
	sections := []TemplateSection{{Pages: []TemplatePage{page}}}
	warnings := ValidatePages(sections, config)

	found := false
	for _, w := range warnings {
		if w.CellIndex == 0 && w.Severity == "error" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error warning for cell below canvas bottom, got none")
	}
}

func TestValidatePages_NoOverlaps(t *testing.T) {
	config := DefaultLayoutConfig()
	// Two cells at the same grid position
	page := sheetPage([]TemplateCell{
		{
			HasFace: true,
			ClipX:   15.0,
			ClipY:   243.2,
			ClipW:   32.8,
			ClipH:   32.8,
		},
		{
			HasFace: true,
			ClipX:   30.0, // overlaps with first cell (15 + 32.8 = 47.8 > 30)
			ClipY:   243.2,
			ClipW:   32.8,
			ClipH:   32.8,
		},
	})
	sections := []TemplateSection{{Pages: []TemplatePage{page}}}
	warnings := ValidatePages(sections, config)

	found := false
	for _, w := range warnings {
		if w.Message == "cell 0 overlaps with cell 1" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected overlap warning between cell 0 and cell 1, got none")
	}
}

func TestValidatePages_ValidPage(t *testing.T) {
	config := DefaultLayoutConfig()
	// Two cells on adjacent grid columns
	page := sheetPage([]TemplateCell{
		{
			HasFace: true,
			ClipX:   15.0 + config.ColOffset(0),
			ClipY:   243.2,
			ClipW:   config.CellWidth(),
			ClipH:   config.CellWidth(),
		},
		{
			HasFace: true,
			ClipX:   15.0 + config.ColOffset(1),
			ClipY:   243.2,
			ClipW:   config.CellWidth(),
			ClipH:   config.CellWidth(),
		},
	})
	sections := []TemplateSection{{Pages: []TemplatePage{page}}}
	warnings := ValidatePages(sections, config)

	if len(warnings) > 0 {
		t.Errorf("expected no warnings for valid layout, got %d: %v", len(warnings), warnings)
	}
}

func TestValidatePages_GridAlignment(t *testing.T) {
	config := DefaultLayoutConfig()

	t.Run("off-grid cell produces warning", func(t *testing.T) {
		page := sheetPage([]TemplateCell{
			{
				HasFace: true,
				ClipX:   15.0 + 5.0, // 5mm offset matches no column
				ClipY:   243.2,
				ClipW:   config.CellWidth(),
				ClipH:   config.CellWidth(),
			},
		})
		sections := []TemplateSection{{Pages: []TemplatePage{page}}}
		warnings := ValidatePages(sections, config)

		found := false
		for _, w := range warnings {
			if w.CellIndex == 0 && w.Severity == "warning" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected grid alignment warning for off-grid cell, got none")
		}
	})

	t.Run("on-grid cell produces no warning", func(t *testing.T) {
		page := sheetPage([]TemplateCell{
			{
				HasFace: true,
				ClipX:   15.0 + config.ColOffset(4),
				ClipY:   243.2,
				ClipW:   config.CellWidth(),
				ClipH:   config.CellWidth(),
			},
		})
		sections := []TemplateSection{{Pages: []TemplatePage{page}}}
		warnings := ValidatePages(sections, config)

		for _, w := range warnings {
			if w.Severity == "warning" {
				t.Errorf("unexpected grid alignment warning: %s", w.Message)
			}
		}
	})
}

func TestValidatePages_EmptyCellsSkipped(t *testing.T) {
	config := DefaultLayoutConfig()
	// Empty cells carry zero coordinates and must not trip bounds checks
	page := sheetPage([]TemplateCell{
		{HasFace: false},
		{
			HasFace: true,
			ClipX:   15.0,
			ClipY:   243.2,
			ClipW:   32.8,
			ClipH:   32.8,
		},
	})
	sections := []TemplateSection{{Pages: []TemplatePage{page}}}
	warnings := ValidatePages(sections, config)

	if len(warnings) > 0 {
		t.Errorf("expected no warnings, got %d: %v", len(warnings), warnings)
	}
}
