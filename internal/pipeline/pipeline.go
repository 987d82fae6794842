package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"trackle/internal/config"
	"trackle/internal/download"
	"trackle/internal/featurecache"
	"trackle/internal/features"
	"trackle/internal/logging"
	"trackle/internal/media"
	"trackle/internal/metadata"
	"trackle/internal/organizer"
	"trackle/internal/quality"
	"trackle/internal/queue"
	"trackle/internal/services"
	"trackle/internal/stageexec"
)

// Stage names in fixed execution order.
const (
	StageDownload = "download"
	StageQuality  = "quality_check"
	StageMetadata = "metadata"
	StageFeatures = "features"
	StageOrganize = "organize"
)

var stageOrder = []string{StageDownload, StageQuality, StageMetadata, StageFeatures, StageOrganize}

// StageOrder returns the fixed stage order.
func StageOrder() []string {
	cp := make([]string, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// skipAliases maps the CLI skip vocabulary to stage names. The organize
// stage cannot be skipped; a dataset run that never organizes produced
// nothing.
var skipAliases = map[string]string{
	"download": StageDownload,
	"quality":  StageQuality,
	"metadata": StageMetadata,
	"features": StageFeatures,
}

// Deps are the injected external collaborators.
type Deps struct {
	Fetcher   media.Fetcher
	Decoder   media.Decoder
	Encoder   media.Encoder
	Extractor media.Extractor
	Cache     *featurecache.Cache
	Sleeper   stageexec.Sleeper
}

// Pipeline coordinates one run over the item store.
type Pipeline struct {
	cfg    *config.Config
	store  *queue.Store
	deps   Deps
	logger *slog.Logger
	skip   map[string]struct{}

	download  *download.Stage
	metadata  *metadata.Stage
	features  *features.Stage
	organizer *organizer.Organizer
	validator quality.Validator
}

// New builds a pipeline over the given store and collaborators.
func New(cfg *config.Config, store *queue.Store, deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		deps:      deps,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		skip:      make(map[string]struct{}),
		download:  download.New(cfg, deps.Fetcher, logger),
		metadata:  metadata.New(cfg, deps.Decoder, logger),
		features:  features.New(cfg, deps.Decoder, deps.Extractor, deps.Cache, logger),
		organizer: organizer.New(cfg, deps.Decoder, deps.Encoder, logger),
		validator: quality.New(cfg.ValidationThresholds),
	}
}

// SetSkip configures the skip list from CLI vocabulary (download, quality,
// metadata, features). Unknown names are a configuration error.
func (p *Pipeline) SetSkip(names []string) error {
	skip := make(map[string]struct{}, len(names))
	for _, name := range names {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		stage, ok := skipAliases[normalized]
		if !ok {
			return services.Wrap(services.ErrConfiguration, "", "skip",
				fmt.Sprintf("unknown skip stage %q (choose from download, quality, metadata, features)", name), nil)
		}
		skip[stage] = struct{}{}
	}
	p.skip = skip
	return nil
}

// Skipped reports whether a stage is excluded from this run.
func (p *Pipeline) Skipped(stage string) bool {
	_, ok := p.skip[stage]
	return ok
}
