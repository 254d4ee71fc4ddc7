package scrapers

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Endpoints selects the built in sources. Empty urls disable a source.
type Endpoints struct {
	BTDiggURL      string
	APIBayURL      string
	JackettURL     string
	JackettAPIKey  string
	ProwlarrURL    string
	ProwlarrAPIKey string
	TorrentioURL   string
	// SourcesFile adds pattern sources and overrides thresholds, optional
	SourcesFile string
}

// BuildAdapters creates every enabled source adapter
func BuildAdapters(ep Endpoints, deps Deps) ([]SourceAdapter, error) {
	deps = deps.withDefaults()

	file := &SourcesFile{}
	if ep.SourcesFile != "" {
		loaded, err := LoadSourcesFile(ep.SourcesFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	overrides := func(name string) Thresholds { return file.Thresholds[name] }

	var adapters []SourceAdapter
	if ep.BTDiggURL != "" {
		adapters = append(adapters, NewBTDigg(ep.BTDiggURL, deps, overrides("btdigg")))
	}
	if ep.APIBayURL != "" {
		adapters = append(adapters, NewAPIBay(ep.APIBayURL, deps, overrides("apibay")))
	}
	if ep.JackettURL != "" {
		adapters = append(adapters, NewJackett(ep.JackettURL, ep.JackettAPIKey, deps, overrides("jackett")))
	}
	if ep.ProwlarrURL != "" {
		adapters = append(adapters, NewProwlarr(ep.ProwlarrURL, ep.ProwlarrAPIKey, deps, overrides("prowlarr")))
	}
	if ep.TorrentioURL != "" {
		adapters = append(adapters, NewTorrentio(ep.TorrentioURL, deps))
	}

	for _, def := range file.Sources {
		src, err := NewPatternSource(def, deps)
		if err != nil {
			return nil, err
		}
		cfg := file.Thresholds[def.Name].Apply(src.Config())
		adapters = append(adapters, NewPagedSource(cfg, deps))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	log.Info().Strs("sources", names).Msg("✅ Source adapters initialized")
	return adapters, nil
}
