package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/SanteonNL/termrepo/models/terminology"
	"github.com/rs/zerolog"
)

// SeedFile is the JSON document loaded by Loader.
type SeedFile struct {
	Sources     []*terminology.Source            `json:"sources"`
	Concepts    []*terminology.Concept           `json:"concepts"`
	Mappings    []*terminology.Mapping           `json:"mappings"`
	Hierarchy   []terminology.HierarchyEdge      `json:"hierarchy"`
	Collections []*terminology.CollectionVersion `json:"collections"`
}

// Loader fills a store from JSON seed files.
type Loader struct {
	store interface {
		ContentWriter
		SaveCollectionVersion(ctx context.Context, cv *terminology.CollectionVersion) error
	}
	log zerolog.Logger
}

func NewLoader(store Store, log zerolog.Logger) *Loader {
	return &Loader{store: store, log: log}
}

// LoadDirectory loads every .json file in dir. A broken file is logged and skipped.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to read directory")
		return fmt.Errorf("failed to read directory: %w", err)
	}

	var loadErrors []error
	loaded := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		filePath := filepath.Join(dir, file.Name())
		l.log.Debug().Str("filePath", filePath).Msg("Loading seed file")

		if err := l.LoadFile(ctx, filePath); err != nil {
			l.log.Error().Err(err).Str("file", file.Name()).Msg("Failed to load seed file")
			loadErrors = append(loadErrors, err)
			continue
		}
		loaded++
	}

	l.log.Info().Int("loaded", loaded).Int("failed", len(loadErrors)).Msg("Finished loading seed files")
	return errors.Join(loadErrors...)
}

func (l *Loader) LoadFile(ctx context.Context, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file %s: %w", filePath, err)
	}
	return l.Load(ctx, &seed)
}

// Load writes sources first, then concepts, mappings, hierarchy and collections.
func (l *Loader) Load(ctx context.Context, seed *SeedFile) error {
	for _, source := range seed.Sources {
		if err := l.store.PutSource(ctx, source); err != nil {
			return err
		}
	}
	for _, concept := range seed.Concepts {
		if err := l.store.PutConcept(ctx, concept); err != nil {
			return err
		}
	}
	for _, mapping := range seed.Mappings {
		if err := l.store.PutMapping(ctx, mapping); err != nil {
			return err
		}
	}
	for _, edge := range seed.Hierarchy {
		if err := l.store.PutHierarchyEdge(ctx, edge); err != nil {
			return err
		}
	}
	for _, cv := range seed.Collections {
		if err := l.store.SaveCollectionVersion(ctx, cv); err != nil {
			return err
		}
	}

	l.log.Debug().
		Int("sources", len(seed.Sources)).
		Int("concepts", len(seed.Concepts)).
		Int("mappings", len(seed.Mappings)).
		Int("edges", len(seed.Hierarchy)).
		Int("collections", len(seed.Collections)).
		Msg("Loaded seed content")
	return nil
}
