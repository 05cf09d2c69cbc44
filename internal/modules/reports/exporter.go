package reports

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ContentType is the MIME type of the exported workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Uploader archives a report file to remote storage and returns its location
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Location is where an exported report ended up
type Location struct {
	Path     string `json:"path"`
	Key      string `json:"key,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Uploaded bool   `json:"uploaded"`
}

// Exporter writes report workbooks under a directory and optionally uploads them
type Exporter struct {
	dir      string
	uploader Uploader
	log      zerolog.Logger
}

// NewExporter creates an exporter. A nil uploader keeps reports local only.
func NewExporter(dir string, uploader Uploader, log zerolog.Logger) *Exporter {
	return &Exporter{
		dir:      dir,
		uploader: uploader,
		log:      log.With().Str("component", "reports").Logger(),
	}
}

// PathFor returns the local path of a run's report
func (e *Exporter) PathFor(runID string) string {
	return filepath.Join(e.dir, runID+".xlsx")
}

// Export writes the workbook and uploads it when an uploader is configured.
// An upload failure is logged and the local file is still returned.
func (e *Exporter) Export(ctx context.Context, in Input) (*Location, error) {
	if in.Evaluation == nil {
		return nil, fmt.Errorf("run %s has no evaluation to export", in.RunID)
	}
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	f, err := Workbook(in)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	loc := &Location{Path: e.PathFor(in.RunID)}
	if err := f.SaveAs(loc.Path); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	e.log.Info().Str("run_id", in.RunID).Str("path", loc.Path).Msg("Report written")

	if e.uploader == nil {
		return loc, nil
	}

	loc.Key = ObjectKey(in)
	file, err := os.Open(loc.Path)
	if err != nil {
		return loc, fmt.Errorf("failed to reopen report: %w", err)
	}
	defer file.Close()

	remote, err := e.uploader.Upload(ctx, loc.Key, file, ContentType)
	if err != nil {
		e.log.Warn().Err(err).Str("run_id", in.RunID).Str("key", loc.Key).Msg("Report upload failed, kept locally")
		return loc, nil
	}
	loc.Remote = remote
	loc.Uploaded = true
	e.log.Info().Str("run_id", in.RunID).Str("location", remote).Msg("Report uploaded")
	return loc, nil
}

// ObjectKey is the archive key of a report: reports/<symbol>/<date>/<run>.xlsx
func ObjectKey(in Input) string {
	day := in.GeneratedAt.UTC().Format(dateLayout)
	return fmt.Sprintf("reports/%s/%s/%s.xlsx", in.Symbol, day, in.RunID)
}
