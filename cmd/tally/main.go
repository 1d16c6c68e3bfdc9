// Command tally answers control questions across a set of documents.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/tally/internal/adapters/driven/config/file"
	"github.com/custodia-labs/tally/internal/adapters/driven/extraction/local"
	"github.com/custodia-labs/tally/internal/adapters/driven/extraction/reducto"
	"github.com/custodia-labs/tally/internal/adapters/driven/generation/openai"
	"github.com/custodia-labs/tally/internal/adapters/driven/storage/filesystem"
	"github.com/custodia-labs/tally/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/tally/internal/adapters/driving/cli"
	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/services"
	"github.com/custodia-labs/tally/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap opens the stores under the data directory and wires the engine.
func bootstrap(opts cli.Options) (*cli.Services, func(), error) {
	log := logger.With("main")

	config, err := file.NewConfigStore(opts.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	prompts, err := file.NewPromptStore(subdir(opts.DataDir, "prompts"))
	if err != nil {
		return nil, nil, fmt.Errorf("open prompts: %w", err)
	}

	settingsService := services.NewSettingsService(config)
	settings, err := settingsService.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}

	store, err := sqlite.NewStore(subdir(opts.DataDir, "data"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	blobs, err := filesystem.NewBlobStore(subdir(opts.DataDir, "blobs"))
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}

	extractor, err := newExtractor(&settings.Extraction, blobs)
	if err != nil {
		log.Warn("extraction unavailable: %v", err)
	}
	generator, err := newGenerator(&settings.Generation, prompts)
	if err != nil {
		log.Warn("generation unavailable: %v", err)
	}

	policy := services.NewRetryPolicy(settings.Retry)
	extraction := services.NewExtractionGateway(
		extractor, policy, services.NewTokenBudget(settings.Rate), settings.Extraction.Timeout)
	generation := services.NewGenerationGateway(
		generator, policy, services.NewTokenBudget(settings.Rate), settings.Generation.Timeout)

	cells := store.CellStore()
	documents := store.DocumentStore()
	controls := store.ControlStore()
	cache := services.NewExtractionCache(extraction, store.ExtractionStore(), settings.Extraction.CacheTTL)
	bus := services.NewEventBus()

	dispatcher := services.NewDispatcher(cells, documents, controls, cache, generation, bus, settings.Engine)
	reactor := services.NewReactor(cells, documents, controls, cache, dispatcher, bus)

	svc := &cli.Services{
		Document: services.NewDocumentService(documents, blobs, reactor, settings.Upload),
		Control:  services.NewControlService(controls, reactor),
		Grid:     services.NewGridService(documents, controls, cells, reactor, bus),
		Settings: settingsService,
		Engine:   dispatcher,
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("close database: %v", err)
		}
	}
	return svc, cleanup, nil
}

// newExtractor builds the configured extraction adapter. A nil extractor
// leaves extraction work queued as transient failures.
func newExtractor(s *domain.ExtractionSettings, blobs driven.BlobStore) (driven.Extractor, error) {
	switch s.Provider {
	case domain.ExtractionProviderReducto:
		ex, err := reducto.NewExtractor(reducto.Config{
			APIKey:  s.APIKey,
			BaseURL: s.BaseURL,
			Timeout: s.Timeout,
		}, blobs)
		if err != nil {
			return nil, err
		}
		return ex, nil
	case domain.ExtractionProviderLocal:
		return local.NewExtractor(blobs), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", s.Provider)
	}
}

func newGenerator(s *domain.GenerationSettings, prompts driven.PromptStore) (driven.Generator, error) {
	gen, err := openai.NewGenerator(openai.Config{
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
		Model:       s.Model,
		Timeout:     s.Timeout,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}, prompts)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// subdir returns dir/name, or "" so each store falls back to its own
// default under ~/.tally.
func subdir(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}
