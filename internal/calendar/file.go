package calendar

import (
	"context"
	"fmt"
	"os"
	"time"
)

// FileSource reads appointments from a local ICS file, such as one exported
// by a clock application.
type FileSource struct {
	name string
	path string
}

// NewFileSource creates a new file calendar source.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

// Name returns the display name of this calendar source.
func (s *FileSource) Name() string {
	return s.name
}

// Fetch parses the file for appointments overlapping [begin, end].
func (s *FileSource) Fetch(ctx context.Context, begin, end time.Time, loc *time.Location) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open calendar file: %w", err)
	}
	defer f.Close()

	return ParseICS(f, s.name, DateRange{Begin: begin, End: end}, loc)
}

var _ Source = (*FileSource)(nil)
