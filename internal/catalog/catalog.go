// Package catalog loads graph definitions and cron schedules from YAML files
// and registers them with the service and scheduler.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/graphflow/internal/scheduler"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/pkg/schema"
)

// Catalog is the content of one or more catalog files.
type Catalog struct {
	Graphs    []schema.GraphDefinition `yaml:"graphs"`
	Schedules []scheduler.JobSpec      `yaml:"schedules"`
}

// GraphCreator registers graphs. Satisfied by engine.Service.
type GraphCreator interface {
	CreateGraph(ctx context.Context, def schema.GraphDefinition) (string, error)
}

// JobAdder registers schedules. Satisfied by scheduler.Scheduler.
type JobAdder interface {
	AddJob(ctx context.Context, spec scheduler.JobSpec) (*store.ScheduledJob, error)
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &c, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// LoadFile reads a single catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Load reads path, which is either a catalog file or a directory whose
// *.yaml and *.yml files are merged in name order.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog %s: %w", path, err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)

	merged := &Catalog{}
	for _, f := range files {
		c, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		merged.Graphs = append(merged.Graphs, c.Graphs...)
		merged.Schedules = append(merged.Schedules, c.Schedules...)
	}
	return merged, nil
}

// Apply registers every graph, then every schedule. Graphs and schedules
// that already exist are skipped so a catalog can be applied on each start.
// jobs may be nil, in which case schedules are ignored.
func Apply(ctx context.Context, c *Catalog, graphs GraphCreator, jobs JobAdder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for i, def := range c.Graphs {
		id, err := graphs.CreateGraph(ctx, def)
		switch {
		case schema.IsCode(err, schema.ErrCodeConflict):
			logger.InfoContext(ctx, "catalog graph already registered", "graph_id", def.ID)
		case err != nil:
			return fmt.Errorf("catalog graph %d (%s): %w", i, graphLabel(def), err)
		default:
			logger.InfoContext(ctx, "catalog graph registered", "graph_id", id, "name", def.Name)
		}
	}

	if jobs == nil {
		if len(c.Schedules) > 0 {
			logger.WarnContext(ctx, "catalog schedules ignored, scheduler disabled", "count", len(c.Schedules))
		}
		return nil
	}
	for i, spec := range c.Schedules {
		_, err := jobs.AddJob(ctx, spec)
		switch {
		case schema.IsCode(err, schema.ErrCodeConflict):
			logger.InfoContext(ctx, "catalog schedule already registered", "job_id", spec.ID)
		case err != nil:
			return fmt.Errorf("catalog schedule %d (graph %s): %w", i, spec.GraphID, err)
		}
	}
	return nil
}

func graphLabel(def schema.GraphDefinition) string {
	if def.ID != "" {
		return def.ID
	}
	return def.Name
}
