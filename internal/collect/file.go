// Package collect provides collectors that read provider drops from disk.
// Each source is a JSON array of raw records in <dir>/<source>.json.
package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/analysis/normalize"
	"conviction-engine/internal/models"
)

// File reads one source's records from a JSON file.
type File[R any] struct {
	Path string
}

// NewFile returns a collector for src under dir.
func NewFile[R any](dir string, src models.Source) File[R] {
	return File[R]{Path: Path(dir, src)}
}

// Path returns the input file of a source.
func Path(dir string, src models.Source) string {
	return filepath.Join(dir, string(src)+".json")
}

// Collect reads and decodes the file. A missing or undecodable file fails
// the whole source.
func (f File[R]) Collect(ctx context.Context) ([]R, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Path, err)
	}

	var records []R
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Path, err)
	}
	return records, nil
}

// Normalizers wires every source normalizer to its file under dir, in
// canonical source order.
func Normalizers(dir string, opts normalize.Options) []analysis.Normalizer {
	return []analysis.Normalizer{
		normalize.NewCongress(NewFile[models.CongressTrade](dir, models.SourceCongress), opts),
		normalize.NewARK(NewFile[models.ARKTrade](dir, models.SourceARK), opts),
		normalize.NewDarkPool(NewFile[models.DarkPoolRecord](dir, models.SourceDarkPool), opts),
		normalize.NewInstitutional(NewFile[models.InstitutionalHolding](dir, models.SourceInstitutional), opts),
		normalize.NewInsider(NewFile[models.InsiderTransaction](dir, models.SourceInsider), opts),
		normalize.NewShortInterest(NewFile[models.ShortInterestReport](dir, models.SourceShortInterest), opts),
		normalize.NewSuperinvestor(NewFile[models.SuperinvestorHolding](dir, models.SourceSuperinvestor), opts),
	}
}
