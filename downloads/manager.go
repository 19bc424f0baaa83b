package downloads

import (
	"context"
	"fmt"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/remrun/remrun/metrics"
)

// ArtifactFetcher retrieves artifact content from the backend
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, artifactID string) (string, error)
}

// Sink receives successfully fetched artifact content
type Sink func(artifactID string, content string)

// Manager mediates artifact downloads: it deduplicates concurrent fetches for
// the same id through its Guard, strips terminal escape codes from fetched
// logs and hands the content to the sink. Fetch failures are surfaced through
// logging and metrics only; they never affect the owning case's outcome.
type Manager struct {
	guard   *Guard
	fetcher ArtifactFetcher
	sink    Sink
	log     log.Logger
}

// Config holds configuration for creating a download manager
type Config struct {
	Fetcher ArtifactFetcher
	Sink    Sink
	Log     log.Logger
}

// NewManager creates a new download manager
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("artifact fetcher is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Manager{
		guard:   NewGuard(),
		fetcher: cfg.Fetcher,
		sink:    cfg.Sink,
		log:     cfg.Log,
	}, nil
}

// Guard exposes the in-flight guard, letting callers check whether they won
// the fetch before transitioning a node to downloading.
func (m *Manager) Guard() *Guard {
	return m.guard
}

// Fetch retrieves the artifact if no fetch for the same id is already in
// flight. It returns false immediately when another caller owns the fetch.
// The in-flight marking is cleared on every path out.
func (m *Manager) Fetch(ctx context.Context, artifactID string) bool {
	if !m.guard.Begin(artifactID) {
		m.log.Debug("Artifact fetch already in flight", "artifact", artifactID)
		return false
	}
	defer m.guard.End(artifactID)

	m.fetch(ctx, artifactID)
	return true
}

// FetchOwned runs the fetch for an id whose Begin the caller already won.
// The caller's Begin is released here.
func (m *Manager) FetchOwned(ctx context.Context, artifactID string) {
	defer m.guard.End(artifactID)
	m.fetch(ctx, artifactID)
}

func (m *Manager) fetch(ctx context.Context, artifactID string) {
	m.log.Debug("Fetching artifact", "artifact", artifactID)
	content, err := m.fetcher.FetchArtifact(ctx, artifactID)
	if err != nil {
		// Non-fatal: the owning case keeps its outcome, only the content is lost.
		m.log.Warn("Artifact fetch failed", "artifact", artifactID, "error", err)
		metrics.RecordArtifactFetch("fail")
		return
	}

	metrics.RecordArtifactFetch("success")
	if m.sink != nil {
		m.sink(artifactID, stripansi.Strip(content))
	}
}
