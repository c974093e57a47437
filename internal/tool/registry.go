package tool

import (
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// DefaultRegistry returns a registry with the built-in tools.
func DefaultRegistry(workDir string) *Registry {
	r := NewRegistry()
	r.Register(NewEchoTool())
	r.Register(NewReadFileTool(workDir))
	r.Register(NewBashTool(workDir))
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.ID()] = tool
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	return tool, ok
}

// List returns all registered tools sorted by id.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// Infos returns Eino tool definitions for a subset of tool ids. Unknown ids
// are skipped; an empty subset selects every registered tool.
func (r *Registry) Infos(ids []string) []*schema.ToolInfo {
	if len(ids) == 0 {
		var infos []*schema.ToolInfo
		for _, t := range r.List() {
			infos = append(infos, Info(t))
		}
		return infos
	}

	var infos []*schema.ToolInfo
	for _, id := range ids {
		if t, ok := r.Get(id); ok {
			infos = append(infos, Info(t))
		}
	}
	return infos
}
