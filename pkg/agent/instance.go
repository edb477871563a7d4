package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/asteroniris/asteroniris/pkg/audit"
	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/cost"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/memory"
	"github.com/asteroniris/asteroniris/pkg/providers"
	"github.com/asteroniris/asteroniris/pkg/security"
	"github.com/asteroniris/asteroniris/pkg/session"
	"github.com/asteroniris/asteroniris/pkg/tools"
)

// AgentInstance holds per-agent state: provider, sessions, context, tools.
type AgentInstance struct {
	ID             string
	Name           string
	Model          string
	Workspace      string
	MaxIterations  int
	MaxTokens      int
	Temperature    float64
	ContextWindow  int
	Provider       providers.LLMProvider
	Sessions       *session.SessionManager
	ContextBuilder *ContextBuilder
	Tools          *tools.ToolRegistry
	Subagents      *config.SubagentsConfig
	SkillsFilter   []string
	Reflection     bool
}

// sharedTools holds tool instances that are shared across all agent instances.
type sharedTools struct {
	messageTool tools.Tool
	spawnTool   tools.Tool
	searchTool  tools.Tool
	fetchTool   tools.Tool
	memStore    tools.Tool
	memForget   tools.Tool
	memSearch   tools.Tool
	memGraph    tools.Tool
	costTool    tools.Tool
	stmTool     tools.Tool
}

// newAgentInstance creates a new AgentInstance from an AgentConfig, falling back to defaults.
func newAgentInstance(
	agentCfg config.AgentConfig,
	cfg *config.Config,
	shared *sharedTools,
	memDB memory.Backend,
	memoryCfg *config.MemoryConfig,
	costTracker *cost.CostTracker,
	msgBus *bus.MessageBus,
) (*AgentInstance, error) {
	// Resolve values with fallback to defaults
	model := agentCfg.Model
	if model == "" {
		model = cfg.Agents.Defaults.Model
	}

	workspace := agentCfg.Workspace
	if workspace == "" {
		workspace = cfg.WorkspacePath()
	} else {
		workspace = expandWorkspacePath(workspace)
	}

	maxIterations := agentCfg.MaxToolIterations
	if maxIterations == 0 {
		maxIterations = cfg.Agents.Defaults.MaxToolIterations
	}

	maxTokens := agentCfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = cfg.Agents.Defaults.MaxTokens
	}

	temperature := cfg.Agents.Defaults.Temperature
	if agentCfg.Temperature != nil {
		temperature = *agentCfg.Temperature
	}

	name := agentCfg.Name
	if name == "" {
		name = agentCfg.ID
	}

	reflection := cfg.Agents.Defaults.Reflection
	if agentCfg.Reflection != nil {
		reflection = *agentCfg.Reflection
	}

	// Create per-agent provider
	providerName := agentCfg.Provider
	if providerName == "" {
		providerName = cfg.Agents.Defaults.Provider
	}
	provider, err := providers.CreateReliableProviderForModel(model, providerName, cfg)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agentCfg.ID, err)
	}

	// Ensure workspace exists
	os.MkdirAll(workspace, 0755)

	// Per-agent sessions
	sessionsManager := session.NewSessionManager(filepath.Join(workspace, "sessions"))

	// Per-agent tools registry, wrapped in the standard middleware chain.
	toolsRegistry := tools.NewToolRegistry()
	policyCfg := security.DefaultPolicyConfig()
	if agentCfg.Autonomy != "" {
		policyCfg.Level = security.AutonomyLevel(agentCfg.Autonomy)
	}
	policy := security.NewPolicy(policyCfg)
	ledger, ledgerErr := audit.Open(workspace)
	if ledgerErr != nil {
		logger.ErrorCF("audit", "failed to open action intent ledger",
			map[string]interface{}{"agent": agentCfg.ID, "error": ledgerErr.Error()})
	}
	toolsRegistry.Use(tools.SecurityMiddleware(policy, workspace))
	toolsRegistry.Use(tools.RateLimitMiddleware(policy))
	if ledger != nil {
		toolsRegistry.Use(tools.AuditMiddleware(ledger))
	}
	toolsRegistry.Use(tools.OutputSizeMiddleware())
	toolsRegistry.Use(tools.SanitizeMiddleware())
	toolsRegistry.Use(tools.ScrubMiddleware())

	// Build denied tools set for filtering
	deniedSet := make(map[string]struct{}, len(agentCfg.DeniedTools))
	for _, name := range agentCfg.DeniedTools {
		deniedSet[name] = struct{}{}
	}
	registerIfAllowed := func(t tools.Tool) {
		if _, denied := deniedSet[t.Name()]; !denied {
			toolsRegistry.Register(t)
		}
	}

	// Workspace-scoped tools
	allowedDir := workspace
	if !cfg.IsRestrictToWorkspace() {
		allowedDir = ""
	}
	registerIfAllowed(tools.NewReadFileTool(allowedDir))
	registerIfAllowed(tools.NewWriteFileTool(allowedDir))
	registerIfAllowed(tools.NewListDirTool(allowedDir))
	execTool := tools.NewExecTool(workspace)
	execTool.SetRestrictToWorkspace(cfg.IsRestrictToWorkspace())
	registerIfAllowed(execTool)
	registerIfAllowed(tools.NewEditFileTool(allowedDir))

	// Register shared tools
	if shared.searchTool != nil {
		registerIfAllowed(shared.searchTool)
	}
	if shared.fetchTool != nil {
		registerIfAllowed(shared.fetchTool)
	}
	if shared.messageTool != nil {
		registerIfAllowed(shared.messageTool)
	}
	if shared.spawnTool != nil {
		registerIfAllowed(shared.spawnTool)
	}
	if shared.memStore != nil {
		registerIfAllowed(shared.memStore)
	}
	if shared.memForget != nil {
		registerIfAllowed(shared.memForget)
	}
	if shared.memSearch != nil {
		registerIfAllowed(shared.memSearch)
	}
	if shared.memGraph != nil {
		registerIfAllowed(shared.memGraph)
	}
	if shared.costTool != nil {
		registerIfAllowed(shared.costTool)
	}

	// Per-agent STM tool (backed by this agent's session manager)
	registerIfAllowed(tools.NewSTMTool(sessionsManager, memDB))
	registerIfAllowed(tools.NewSessionMessagesTool(sessionsManager, memDB))

	// Context builder
	contextBuilder := NewContextBuilder(workspace)
	
	if memDB != nil {
		contextBuilder.SetMemoryDB(memDB, memoryCfg)
	}

	logger.InfoCF("agent", fmt.Sprintf("Agent instance created: %s (model=%s)", agentCfg.ID, model),
		map[string]interface{}{
			"agent_id":  agentCfg.ID,
			"model":     model,
			"workspace": workspace,
		})

	return &AgentInstance{
		ID:             agentCfg.ID,
		Name:           name,
		Model:          model,
		Workspace:      workspace,
		MaxIterations:  maxIterations,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ContextWindow:  maxTokens,
		Provider:       provider,
		Sessions:       sessionsManager,
		ContextBuilder: contextBuilder,
		Tools:          toolsRegistry,
		Subagents:      agentCfg.Subagents,
		SkillsFilter:   agentCfg.Skills,
		Reflection:     reflection,
	}, nil
}

// expandWorkspacePath handles ~ expansion for workspace paths.
func expandWorkspacePath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
