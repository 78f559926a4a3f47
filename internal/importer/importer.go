// Package importer publishes files from disk as file:added requests on the
// layers channel.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"layerdeck/internal/eventbus"
	"layerdeck/pkg/domain"
)

var contentTypes = map[string]string{
	".geojson": "application/geo+json",
	".json":    "application/json",
}

// Importer reads files and hands their payload to the registry.
type Importer struct {
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New returns an importer publishing on bus.
func New(bus *eventbus.Bus, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{bus: bus, logger: logger}
}

// Supported reports whether name has an importable extension.
func Supported(name string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ImportFile reads path and publishes it with the file's modification time.
// Payload problems are reported by the registry, not returned here.
func (im *Importer) ImportFile(ctx context.Context, path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return fmt.Errorf("import %s: is a directory", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	ev := eventbus.FileAdded{
		File: domain.FileDescriptor{
			Name:         filepath.Base(path),
			LastModified: st.ModTime(),
			ContentType:  contentTypes[strings.ToLower(filepath.Ext(path))],
			Size:         int64(len(raw)),
		},
		Raw: raw,
	}
	if err := im.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	im.logger.Debug("Imported file.", "path", path, "size", len(raw))
	return nil
}

// ImportDir imports every *.geojson and *.json file directly inside dir, in
// name order. It keeps going after a failed file and returns the number of
// files published along with the joined errors.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		n    int
		errs []error
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := im.ImportFile(ctx, filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	im.logger.Info("Imported directory.", "dir", dir, "files", n, "failed", len(errs))
	return n, errors.Join(errs...)
}
