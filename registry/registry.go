package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/remrun/remrun/types"
)

// Registry owns the run trees for every suite that has been requested.
// Re-adding a run for a suite name fully replaces the prior tree; the run
// token returned by AddRun lets in-flight work detect that it has been
// superseded so stale completions never mutate the replacement tree.
type Registry struct {
	log log.Logger

	mu        sync.Mutex
	runs      map[string]*slot
	order     []string // insertion order, stable within a process run
	nextToken uint64
}

type slot struct {
	node  *types.RunNode
	token uint64
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Registry{
		log:  cfg.Log,
		runs: make(map[string]*slot),
	}
}

// AddRun builds a fresh suite tree (cases pending, suite running) and installs
// it under the suite name, discarding any previous tree for that name. It
// returns a snapshot of the new tree and the run token guarding future
// mutations.
func (r *Registry) AddRun(suite string, caseNames []string) (*types.RunNode, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[suite]; exists {
		r.log.Debug("Replacing existing run", "suite", suite)
	} else {
		r.order = append(r.order, suite)
	}

	r.nextToken++
	token := r.nextToken
	node := types.NewSuiteNode(suite, caseNames)
	r.runs[suite] = &slot{node: node, token: token}

	r.log.Debug("Run added to registry", "suite", suite, "cases", len(caseNames), "token", token)
	return node.Clone(), token
}

// Run returns a snapshot of the current tree for a suite name
func (r *Registry) Run(suite string) (*types.RunNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.runs[suite]
	if !ok {
		return nil, false
	}
	return s.node.Clone(), true
}

// Runs returns snapshots of all current trees in insertion order
func (r *Registry) Runs() []*types.RunNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]*types.RunNode, 0, len(r.runs))
	for _, suite := range r.order {
		if s, ok := r.runs[suite]; ok {
			nodes = append(nodes, s.node.Clone())
		}
	}
	return nodes
}

// Update applies fn to the live tree for a suite under the registry lock,
// but only while the given token still identifies the current occupant of the
// slot. It returns false, without touching anything, when the run has been
// superseded or removed.
func (r *Registry) Update(suite string, token uint64, fn func(*types.RunNode)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.runs[suite]
	if !ok || s.token != token {
		r.log.Debug("Dropping stale update", "suite", suite, "token", token)
		return false
	}
	fn(s.node)
	return true
}

// Clear empties the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = make(map[string]*slot)
	r.order = nil
	r.log.Debug("Registry cleared")
}
