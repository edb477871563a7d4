// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/cost"
	"github.com/asteroniris/asteroniris/pkg/defense"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/memory"
	"github.com/asteroniris/asteroniris/pkg/persona"
	"github.com/asteroniris/asteroniris/pkg/providers"
	"github.com/asteroniris/asteroniris/pkg/security"
	"github.com/asteroniris/asteroniris/pkg/tools"
	"github.com/asteroniris/asteroniris/pkg/utils"
	"github.com/asteroniris/asteroniris/pkg/writeback"
)

type AgentLoop struct {
	bus         *bus.MessageBus
	cfg         *config.Config
	registry    *AgentRegistry
	running     atomic.Bool
	summarizing sync.Map
	memoryDB    memory.Backend
	memoryCfg    *config.MemoryConfig
	costTracker  *cost.CostTracker
	promptGuard       *security.PromptGuard
	leakDetector      *security.LeakDetector
	promptLeakGuards  sync.Map // agentID -> *security.PromptLeakDetector
	defensePipeline   *defense.Pipeline
	writebackGuard    *writeback.Guard
	personaStores     sync.Map // agentID -> *persona.Store
	selfTaskSink      func(entity, description string, expiresAt time.Time) error
}

// SetSelfTaskSink wires the scheduler's self-task queue into reflection;
// until this is called, reflected self-tasks are validated by the
// Writeback Guard but have nowhere to enqueue and are dropped.
func (al *AgentLoop) SetSelfTaskSink(sink func(entity, description string, expiresAt time.Time) error) {
	al.selfTaskSink = sink
}

// processOptions configures how a message is processed
type processOptions struct {
	SessionKey      string            // Session identifier for history/context
	Channel         string            // Target channel for tool execution
	ChatID          string            // Target chat ID for tool execution
	UserMessage     string            // User message content (may include prefix)
	DefaultResponse string            // Response when LLM returns empty
	EnableSummary   bool              // Whether to trigger summarization
	SendResponse    bool              // Whether to send response via bus
	Metadata        map[string]string // Original inbound message metadata
	Owner           string            // Memory owner (username for scoped access)
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus) (*AgentLoop, error) {
	workspace := cfg.WorkspacePath()
	os.MkdirAll(workspace, 0755)

	// Initialize the configured memory backend
	memDB, err := memory.OpenBackend(memory.BackendConfig{
		Kind:                memory.BackendKind(cfg.Memory.Backend),
		Workspace:           workspace,
		PostgresDSN:         cfg.Memory.PostgresDSN,
		EmbeddingDimensions: cfg.Memory.EmbeddingDimensions,
	})
	if err != nil {
		logger.ErrorCF("memory", "Failed to open memory backend, continuing without memory",
			map[string]interface{}{"error": err.Error()})
	}

	if memDB != nil {
		if report, hygErr := memDB.RunHygiene(); hygErr != nil {
			logger.ErrorCF("memory", "Startup hygiene pass failed",
				map[string]interface{}{"error": hygErr.Error()})
		} else if report.SoftDeleted > 0 || report.HardDeleted > 0 {
			logger.InfoCF("memory", "Startup hygiene pass completed",
				map[string]interface{}{"soft_deleted": report.SoftDeleted, "hard_deleted": report.HardDeleted})
		}
	}

	// Initialize shared cost tracker
	var costTracker *cost.CostTracker
	if cfg.Cost.Enabled {
		var costErr error
		costTracker, costErr = cost.NewCostTracker(&cfg.Cost, workspace)
		if costErr != nil {
			logger.ErrorCF("cost", "Failed to initialize cost tracker, continuing without cost tracking",
				map[string]interface{}{"error": costErr.Error()})
		}
	}

	// Build shared tool instances
	shared := buildSharedTools(cfg, msgBus, memDB, costTracker, workspace)

	// Build agent registry
	registry := NewAgentRegistry()

	agentList := cfg.Agents.List
	if len(agentList) == 0 {
		// Synthesize implicit "main" agent from defaults
		agentList = []config.AgentConfig{{
			ID:      "main",
			Default: true,
		}}
	}

	for _, agentCfg := range agentList {
		inst, err := newAgentInstance(agentCfg, cfg, shared, memDB, &cfg.Memory, costTracker, msgBus)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent %q: %w", agentCfg.ID, err)
		}
		registry.Register(inst)
		if agentCfg.Default {
			registry.SetDefault(agentCfg.ID)
		}
	}

	al := &AgentLoop{
		bus:             msgBus,
		cfg:             cfg,
		registry:        registry,
		summarizing:     sync.Map{},
		memoryDB:        memDB,
		memoryCfg:       &cfg.Memory,
		costTracker:     costTracker,
		defensePipeline: defense.New(),
		writebackGuard:  writeback.New(),
	}

	if memDB != nil {
		for _, inst := range registry.List() {
			store := al.personaStore(inst)
			if store == nil {
				continue
			}
			if _, err := store.Reconcile(persona.State{
				SchemaVersion:          "1",
				IdentityPrinciplesHash: "asteroniris-default-v1",
				SafetyPosture:          "supervised",
			}); err != nil {
				logger.ErrorCF("persona", "Failed to reconcile persona state",
					map[string]interface{}{"agent_id": inst.ID, "error": err.Error()})
			}
		}
	}

	// Initialize security modules
	if cfg.Security.PromptGuard.Enabled {
		al.promptGuard = security.NewPromptGuard(cfg.Security.PromptGuard.Action, cfg.Security.PromptGuard.Sensitivity)
		logger.InfoCF("security", "Prompt guard enabled",
			map[string]interface{}{"action": cfg.Security.PromptGuard.Action, "sensitivity": cfg.Security.PromptGuard.Sensitivity})
	}
	if cfg.Security.LeakDetector.Enabled {
		al.leakDetector = security.NewLeakDetector(cfg.Security.LeakDetector.Sensitivity)
		logger.InfoCF("security", "Leak detector enabled",
			map[string]interface{}{"sensitivity": cfg.Security.LeakDetector.Sensitivity})
	}

	al.initDelegateTools()
	return al, nil
}

// buildSharedTools creates tool instances that are shared across all agents.
func buildSharedTools(cfg *config.Config, msgBus *bus.MessageBus, memDB memory.Backend, costTracker *cost.CostTracker, workspace string) *sharedTools {
	shared := &sharedTools{}

	// Web search / fetch tools
	ollamaAPIKey := cfg.Tools.Web.Ollama.APIKey
	if ollamaAPIKey != "" {
		shared.searchTool = tools.NewOllamaSearchTool(ollamaAPIKey, cfg.Tools.Web.Ollama.MaxResults)
		shared.fetchTool = tools.NewOllamaFetchTool(ollamaAPIKey)
	} else {
		braveAPIKey := cfg.Tools.Web.Search.APIKey
		if braveAPIKey != "" {
			shared.searchTool = tools.NewWebSearchTool(braveAPIKey, cfg.Tools.Web.Search.MaxResults)
		} else {
			shared.searchTool = tools.NewDuckDuckGoSearchTool(5)
		}
		shared.fetchTool = tools.NewWebFetchTool(50000)
	}

	// Message tool
	messageTool := tools.NewMessageTool()
	messageTool.SetSendCallback(func(channel, chatID, content string) error {
		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: content,
		})
		return nil
	})
	shared.messageTool = messageTool

	// Spawn tool (uses default provider -- will be created per first agent)
	// We use a deferred provider approach: create with nil, set later
	// For now, spawn needs a provider. We create one from defaults.
	defaultProvider, provErr := providers.CreateProvider(cfg)
	if provErr == nil {
		subagentManager := tools.NewSubagentManager(defaultProvider, workspace, msgBus)
		shared.spawnTool = tools.NewSpawnTool(subagentManager)
	}

	// Memory tools
	if memDB != nil {
		shared.memStore = tools.NewMemoryStoreTool(memDB)
		shared.memForget = tools.NewMemoryForgetTool(memDB)
		shared.memSearch = tools.NewMemorySearchTool(memDB)
		shared.memGraph = tools.NewMemoryGraphTool(memDB)
	}

	// Cost tool
	shared.costTool = tools.NewCostSummaryTool(costTracker)

	return shared
}

func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)

	for al.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := al.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}

			// Resolve agent for this message
			inst := al.resolveAgent(msg)

			senderName := msg.Metadata["username"]
			if senderName == "" {
				senderName = msg.Metadata["user_id"]
			}
			inst.Sessions.AddToLog(msg.SessionKey, msg.Content, msg.SenderID, senderName)

			if msg.Metadata["observe_only"] == "true" {
				continue
			}

			response, err := al.processMessage(ctx, inst, msg)
			if err != nil {
				logger.ErrorCF("agent", "Failed to process message", map[string]interface{}{
					"error":   err.Error(),
					"channel": msg.Channel,
					"chat_id": msg.ChatID,
				})
				response = "Something went wrong, please try again later."
			}

			if response != "" {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: response,
				})
			}
		}
	}

	return nil
}

// resolveAgent picks the agent instance for a message.
// Uses msg.Metadata["agent_id"] if set, otherwise the default agent.
func (al *AgentLoop) resolveAgent(msg bus.InboundMessage) *AgentInstance {
	if agentID := msg.Metadata["agent_id"]; agentID != "" {
		if inst, ok := al.registry.Get(agentID); ok {
			return inst
		}
	}
	return al.registry.GetDefault()
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

// Shutdown performs cleanup: a final hygiene pass and closes the memory backend.
func (al *AgentLoop) Shutdown() {
	if al.memoryDB == nil {
		return
	}

	if al.memoryCfg != nil && al.memoryCfg.SnapshotOnExit {
		if report, err := al.memoryDB.RunHygiene(); err != nil {
			logger.ErrorCF("memory", "Failed to run hygiene on shutdown",
				map[string]interface{}{"error": err.Error()})
		} else {
			logger.InfoCF("memory", "Final hygiene pass completed on shutdown",
				map[string]interface{}{"soft_deleted": report.SoftDeleted, "hard_deleted": report.HardDeleted})
		}
	}

	if err := al.memoryDB.Close(); err != nil {
		logger.ErrorCF("memory", "Failed to close memory backend",
			map[string]interface{}{"error": err.Error()})
	}
}

// RegisterTool registers a tool on the default agent's tool registry.
func (al *AgentLoop) RegisterTool(tool tools.Tool) {
	inst := al.registry.GetDefault()
	if inst != nil {
		inst.Tools.Register(tool)
	}
}

func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return al.ProcessDirectWithChannel(ctx, content, sessionKey, "cli", "direct")
}

func (al *AgentLoop) ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	inst := al.registry.GetDefault()

	msg := bus.InboundMessage{
		Channel:    channel,
		SenderID:   "cron",
		ChatID:     chatID,
		Content:    content,
		SessionKey: sessionKey,
	}

	return al.processMessage(ctx, inst, msg)
}

func (al *AgentLoop) processMessage(ctx context.Context, inst *AgentInstance, msg bus.InboundMessage) (string, error) {
	// Add message preview to log
	preview := utils.Truncate(msg.Content, 80)
	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, preview),
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": msg.SessionKey,
			"agent_id":    inst.ID,
		})

	// Route system messages to processSystemMessage
	if msg.Channel == "system" {
		return al.processSystemMessage(ctx, inst, msg)
	}

	// In group chats, prepend sender name so the LLM can distinguish users
	userMessage := msg.Content
	if isGroupMessage(msg.Metadata) {
		name := getSenderDisplayName(msg.Metadata)
		if name != "" {
			userMessage = fmt.Sprintf("[%s]: %s", name, userMessage)
		}
	}

	// Prompt guard: scan user input
	if al.promptGuard != nil {
		guardResult := al.promptGuard.Scan(userMessage)
		if !guardResult.Safe {
			logger.WarnCF("security", "Prompt injection detected in user input",
				map[string]interface{}{
					"patterns": guardResult.Patterns,
					"score":    guardResult.Score,
					"action":   string(guardResult.Action),
					"channel":  msg.Channel,
					"chat_id":  msg.ChatID,
				})
			if guardResult.Action == security.ActionBlock {
				return "Message blocked by security policy.", nil
			}
		}
	}

	// Process as user message
	return al.runAgentLoop(ctx, inst, processOptions{
		SessionKey:      msg.SessionKey,
		Channel:         msg.Channel,
		ChatID:          msg.ChatID,
		UserMessage:     userMessage,
		DefaultResponse: "I've completed processing but have no response to give.",
		EnableSummary:   true,
		SendResponse:    false,
		Metadata:        msg.Metadata,
		Owner:           resolveOwner(msg.Metadata),
	})
}

// isGroupMessage checks whether the inbound message comes from a group chat
// across all supported channels.
func isGroupMessage(meta map[string]string) bool {
	// Telegram: explicit is_group flag
	if meta["is_group"] == "true" {
		return true
	}
	// Discord: has guild_id means it's a server channel (not DM)
	if meta["is_dm"] == "false" && meta["guild_id"] != "" {
		return true
	}
	// QQ: group messages have group_id
	if meta["group_id"] != "" {
		return true
	}
	// DingTalk: conversation_type "2" is group
	if meta["conversation_type"] == "2" {
		return true
	}
	// Feishu: chat_type "group"
	if meta["chat_type"] == "group" {
		return true
	}
	return false
}

// getSenderDisplayName extracts the best available display name from message metadata.
func getSenderDisplayName(meta map[string]string) string {
	// Prefer username, then first_name (Telegram)
	if name := meta["username"]; name != "" {
		return name
	}
	if name := meta["first_name"]; name != "" {
		return name
	}
	// Discord: display_name
	if name := meta["display_name"]; name != "" {
		return name
	}
	// DingTalk: sender_name
	if name := meta["sender_name"]; name != "" {
		return name
	}
	return ""
}

// resolveOwner extracts the memory owner from message metadata.
// Prefers username, then user_id, falls back to "" (shared).
func resolveOwner(meta map[string]string) string {
	if name := meta["username"]; name != "" {
		return name
	}
	if uid := meta["user_id"]; uid != "" {
		return uid
	}
	return ""
}

func (al *AgentLoop) processSystemMessage(ctx context.Context, inst *AgentInstance, msg bus.InboundMessage) (string, error) {
	// Verify this is a system message
	if msg.Channel != "system" {
		return "", fmt.Errorf("processSystemMessage called with non-system message channel: %s", msg.Channel)
	}

	logger.InfoCF("agent", "Processing system message",
		map[string]interface{}{
			"sender_id": msg.SenderID,
			"chat_id":   msg.ChatID,
		})

	// Parse origin from chat_id (format: "channel:chat_id")
	var originChannel, originChatID string
	if idx := strings.Index(msg.ChatID, ":"); idx > 0 {
		originChannel = msg.ChatID[:idx]
		originChatID = msg.ChatID[idx+1:]
	} else {
		// Fallback
		originChannel = "cli"
		originChatID = msg.ChatID
	}

	// Use the origin session for context
	sessionKey := fmt.Sprintf("%s:%s", originChannel, originChatID)

	// Process as system message with routing back to origin
	return al.runAgentLoop(ctx, inst, processOptions{
		SessionKey:      sessionKey,
		Channel:         originChannel,
		ChatID:          originChatID,
		UserMessage:     fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content),
		DefaultResponse: "Background task completed.",
		EnableSummary:   false,
		SendResponse:    true, // Send response back to original channel
	})
}

// runAgentLoop is the core message processing logic.
// It handles context building, LLM calls, tool execution, and response handling.
func (al *AgentLoop) runAgentLoop(ctx context.Context, inst *AgentInstance, opts processOptions) (string, error) {
	// 1. Update tool contexts
	al.updateToolContexts(inst, opts.Channel, opts.ChatID, opts.Owner)

	// 2. Build messages
	history := inst.Sessions.GetHistory(opts.SessionKey)
	summary := inst.Sessions.GetSummary(opts.SessionKey)
	messages := inst.ContextBuilder.BuildMessages(
		history,
		summary,
		opts.UserMessage,
		nil,
		opts.Channel,
		opts.ChatID,
		opts.Owner,
	)

	// 3. Save user message to session
	inst.Sessions.AddMessage(opts.SessionKey, "user", opts.UserMessage)

	// 4. Run LLM iteration loop
	finalContent, iteration, err := al.runLLMIteration(ctx, inst, messages, opts)
	if err != nil {
		return "", err
	}

	// 5. Handle empty response
	if finalContent == "" {
		finalContent = opts.DefaultResponse
	}

	// 5.5. Leak detector: scan outbound content
	if al.leakDetector != nil {
		leakResult := al.leakDetector.Scan(finalContent)
		if !leakResult.Clean {
			logger.WarnCF("security", "Credential leak detected in response",
				map[string]interface{}{
					"patterns":    leakResult.Patterns,
					"session_key": opts.SessionKey,
				})
			finalContent = leakResult.Redacted
		}
	}

	// 5.6. Prompt leak guard: detect system prompt content in output
	if al.cfg.Security.PromptLeakGuard.Enabled {
		plg := al.getPromptLeakGuard(inst)
		if plg != nil {
			plResult := plg.Scan(finalContent)
			if plResult.Leaked {
				logger.WarnCF("security", "System prompt leakage detected in response",
					map[string]interface{}{
						"matched":     plResult.MatchedCount,
						"total":       plResult.TotalPrints,
						"score":       plResult.Score,
						"action":      string(plResult.Action),
						"session_key": opts.SessionKey,
					})
				if plResult.Action == security.ActionBlock {
					finalContent = "I'm unable to share my system instructions."
				}
			}
		}
	}

	// 5.7. Post-turn inference: parse and strip INFERRED_CLAIM/CONTRADICTION_EVENT
	// markers from the final text, appending each as an inference event.
	// Malformed markers are discarded rather than surfaced as errors.
	if al.memoryDB != nil {
		var claims []memory.EventInput
		finalContent, claims = extractInferenceMarkers(finalContent)
		for _, claim := range claims {
			var err error
			if claim.Kind == memory.EventContradictionMark {
				claim.Source = memory.SourceInferred
				if claim.Confidence > 0.70 {
					claim.Confidence = 0.70
				}
				_, err = al.memoryDB.AppendEvent(claim)
			} else {
				_, err = al.memoryDB.AppendInferenceEvent(claim)
			}
			if err != nil {
				logger.WarnCF("memory", "Discarding inference marker: append failed",
					map[string]interface{}{"error": err.Error(), "entity_id": claim.EntityID})
			}
		}
	}

	// 6. Save final assistant message to session
	inst.Sessions.AddMessage(opts.SessionKey, "assistant", finalContent)
	inst.Sessions.AddToLog(opts.SessionKey, finalContent, "assistant", "")
	inst.Sessions.Save(inst.Sessions.GetOrCreate(opts.SessionKey))

	// 7. Optional: summarization
	if opts.EnableSummary {
		al.maybeSummarize(inst, opts.SessionKey)
	}

	// 7.5. Optional: reflection proposes a persona writeback, validated by
	// the Writeback Guard and persisted to canonical + mirror only if clean.
	if opts.EnableSummary && al.shouldReflect(inst) {
		go al.reflect(inst, opts.SessionKey)
	}

	// 8. Optional: send response via bus
	if opts.SendResponse {
		al.bus.PublishOutbound(bus.OutboundMessage{
			Channel: opts.Channel,
			ChatID:  opts.ChatID,
			Content: finalContent,
		})
	}

	// 9. Log response
	responsePreview := utils.Truncate(finalContent, 120)
	logger.InfoCF("agent", fmt.Sprintf("Response: %s", responsePreview),
		map[string]interface{}{
			"session_key":  opts.SessionKey,
			"iterations":   iteration,
			"final_length": len(finalContent),
		})

	return finalContent, nil
}

// personaStore returns a cached persona.Store for the given agent instance,
// or nil if no memory backend is configured.
func (al *AgentLoop) personaStore(inst *AgentInstance) *persona.Store {
	if al.memoryDB == nil {
		return nil
	}
	if v, ok := al.personaStores.Load(inst.ID); ok {
		return v.(*persona.Store)
	}
	store := persona.Open(al.memoryDB, inst.Workspace, inst.ID)
	al.personaStores.Store(inst.ID, store)
	return store
}

// getPromptLeakGuard returns a cached PromptLeakDetector for the given agent instance.
// The detector is lazily created from the agent's stable system prompt (excluding
// per-message memory/session context) and cached in promptLeakGuards.
func (al *AgentLoop) getPromptLeakGuard(inst *AgentInstance) *security.PromptLeakDetector {
	if v, ok := al.promptLeakGuards.Load(inst.ID); ok {
		return v.(*security.PromptLeakDetector)
	}
	systemPrompt := inst.ContextBuilder.BuildSystemPrompt()
	plg := security.NewPromptLeakDetector(
		systemPrompt,
		al.cfg.Security.PromptLeakGuard.Threshold,
		al.cfg.Security.PromptLeakGuard.Action,
	)
	al.promptLeakGuards.Store(inst.ID, plg)
	logger.DebugCF("security", "Prompt leak guard initialized",
		map[string]interface{}{
			"agent_id":     inst.ID,
			"fingerprints": plg.FingerprintCount(),
		})
	return plg
}

// runLLMIteration executes the LLM call loop with tool handling.
// Returns the final content, iteration count, and any error.
func (al *AgentLoop) runLLMIteration(ctx context.Context, inst *AgentInstance, messages []providers.Message, opts processOptions) (string, int, error) {
	iteration := 0
	var finalContent string

	for iteration < inst.MaxIterations {
		iteration++

		logger.DebugCF("agent", "LLM iteration",
			map[string]interface{}{
				"iteration": iteration,
				"max":       inst.MaxIterations,
			})

		// Build tool definitions
		toolDefs := inst.Tools.GetDefinitions()
		providerToolDefs := make([]providers.ToolDefinition, 0, len(toolDefs))
		for _, td := range toolDefs {
			providerToolDefs = append(providerToolDefs, providers.ToolDefinition{
				Type: td["type"].(string),
				Function: providers.ToolFunctionDefinition{
					Name:        td["function"].(map[string]interface{})["name"].(string),
					Description: td["function"].(map[string]interface{})["description"].(string),
					Parameters:  td["function"].(map[string]interface{})["parameters"].(map[string]interface{}),
				},
			})
		}

		// Log LLM request details
		logger.DebugCF("agent", "LLM request",
			map[string]interface{}{
				"iteration":         iteration,
				"model":             inst.Model,
				"messages_count":    len(messages),
				"tools_count":       len(providerToolDefs),
				"max_tokens":        8192,
				"temperature":       inst.Temperature,
				"system_prompt_len": len(messages[0].Content),
			})

		// Log full messages (detailed)
		logger.DebugCF("agent", "Full LLM request",
			map[string]interface{}{
				"iteration":     iteration,
				"messages_json": formatMessagesForLog(messages),
				"tools_json":    formatToolsForLog(providerToolDefs),
			})

		// Budget check before LLM call: tracker-wide ceiling, then this
		// caller's own entity-scoped ceiling.
		if al.costTracker != nil {
			check := al.costTracker.CheckBudget(0)
			if check.Status == cost.BudgetExceeded {
				msg := fmt.Sprintf("Budget exceeded: $%.4f / $%.4f %s limit",
					check.CurrentUSD, check.LimitUSD, check.Period)
				logger.ErrorCF("cost", msg, nil)
				return msg, iteration, nil
			}
			if check.Status == cost.BudgetWarning {
				logger.WarnCF("cost", fmt.Sprintf("Budget warning: $%.4f / $%.4f %s limit",
					check.CurrentUSD, check.LimitUSD, check.Period), nil)
			}

			entityCheck := al.costTracker.CheckEntityBudget(opts.Owner, 0)
			if entityCheck.Status == cost.BudgetExceeded {
				msg := fmt.Sprintf("Budget exceeded for this user: $%.4f / $%.4f %s limit",
					entityCheck.CurrentUSD, entityCheck.LimitUSD, entityCheck.Period)
				logger.ErrorCF("cost", msg, map[string]interface{}{"owner": opts.Owner})
				return msg, iteration, nil
			}
			if entityCheck.Status == cost.BudgetWarning {
				logger.WarnCF("cost", fmt.Sprintf("Budget warning for this user: $%.4f / $%.4f %s limit",
					entityCheck.CurrentUSD, entityCheck.LimitUSD, entityCheck.Period),
					map[string]interface{}{"owner": opts.Owner})
			}
		}

		// Call LLM
		response, err := inst.Provider.Chat(ctx, messages, providerToolDefs, inst.Model, map[string]interface{}{
			"max_tokens":  8192,
			"temperature": inst.Temperature,
		})

		if err != nil {
			logger.ErrorCF("agent", "LLM call failed",
				map[string]interface{}{
					"iteration": iteration,
					"error":     err.Error(),
				})
			return "", iteration, fmt.Errorf("LLM call failed: %w", err)
		}

		// Record usage after successful LLM call
		if al.costTracker != nil && response.Usage != nil {
			al.costTracker.RecordEntityUsage(opts.Owner, inst.Model, response.Usage.PromptTokens, response.Usage.CompletionTokens)
		}

		// Check if no tool calls - we're done
		if len(response.ToolCalls) == 0 {
			finalContent = response.Content
			logger.InfoCF("agent", "LLM response without tool calls (direct answer)",
				map[string]interface{}{
					"iteration":     iteration,
					"content_chars": len(finalContent),
				})
			break
		}

		// Log tool calls
		toolNames := make([]string, 0, len(response.ToolCalls))
		for _, tc := range response.ToolCalls {
			toolNames = append(toolNames, tc.Name)
		}
		logger.InfoCF("agent", "LLM requested tool calls",
			map[string]interface{}{
				"tools":     toolNames,
				"count":     len(toolNames),
				"iteration": iteration,
			})

		// React to sender message to indicate tool call activity
		if msgID := opts.Metadata["message_id"]; msgID != "" {
			al.bus.PublishOutbound(bus.OutboundMessage{
				Channel: opts.Channel,
				ChatID:  opts.ChatID,
				Metadata: map[string]string{
					"type":       "reaction",
					"message_id": msgID,
				},
			})
		}

		// Build assistant message with tool calls
		assistantMsg := providers.Message{
			Role:             "assistant",
			Content:          response.Content,
			ReasoningContent: response.ReasoningContent,
		}
		for _, tc := range response.ToolCalls {
			argumentsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argumentsJSON),
				},
			})
		}
		messages = append(messages, assistantMsg)

		// Save assistant message with tool calls to session
		inst.Sessions.AddFullMessage(opts.SessionKey, assistantMsg)

		// Execute tool calls
		for _, tc := range response.ToolCalls {
			// Log tool call with arguments preview
			argsJSON, _ := json.Marshal(tc.Arguments)
			argsPreview := utils.Truncate(string(argsJSON), 200)
			logger.InfoCF("agent", fmt.Sprintf("Tool call: %s(%s)", tc.Name, argsPreview),
				map[string]interface{}{
					"tool":      tc.Name,
					"iteration": iteration,
				})

			result, err := inst.Tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, opts.Channel, opts.ChatID)
			if err != nil {
				result = fmt.Sprintf("Error: %v", err)
			}

			// Prompt guard: scan tool results for injection attempts
			if al.promptGuard != nil {
				toolGuard := al.promptGuard.Scan(result)
				if !toolGuard.Safe {
					logger.WarnCF("security", "Prompt injection detected in tool result",
						map[string]interface{}{
							"tool":     tc.Name,
							"patterns": toolGuard.Patterns,
							"score":    toolGuard.Score,
						})
				}
			}

			// External-content defense: every tool result is untrusted until
			// classified otherwise, so it passes through wrap/sanitize/detect
			// before it's spliced back into the conversation.
			if al.defensePipeline != nil && err == nil {
				decision := al.defensePipeline.Evaluate(defense.ClassUntrustedExternal, "tool_result:"+tc.Name, result)
				switch decision.Action {
				case defense.ActionBlock:
					logger.WarnCF("security", "Tool result blocked by external-content defense",
						map[string]interface{}{"tool": tc.Name, "flags": decision.Flags, "score": decision.Score})
					result = fmt.Sprintf("[tool result withheld: injection signals detected (%v)]", decision.Flags)
				case defense.ActionAudit:
					logger.WarnCF("security", "Tool result flagged by external-content defense (ambiguous signal)",
						map[string]interface{}{"tool": tc.Name, "flags": decision.Flags, "score": decision.Score})
					result = decision.Wrapped
				default:
					result = decision.Wrapped
				}
			}

			toolResultMsg := providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolResultMsg)

			// Save tool result message to session
			inst.Sessions.AddFullMessage(opts.SessionKey, toolResultMsg)
		}
	}

	return finalContent, iteration, nil
}

// updateToolContexts updates the context for tools that need channel/chatID info.
func (al *AgentLoop) updateToolContexts(inst *AgentInstance, channel, chatID, owner string) {
	if tool, ok := inst.Tools.Get("message"); ok {
		if mt, ok := tool.(*tools.MessageTool); ok {
			mt.SetContext(channel, chatID)
		}
	}
	if tool, ok := inst.Tools.Get("spawn"); ok {
		if st, ok := tool.(*tools.SpawnTool); ok {
			st.SetContext(channel, chatID)
		}
	}
	if tool, ok := inst.Tools.Get("message_history"); ok {
		if st, ok := tool.(*tools.STMTool); ok {
			st.SetContext(channel, chatID)
		}
	}
	if tool, ok := inst.Tools.Get("delegate"); ok {
		if dt, ok := tool.(*tools.DelegateTool); ok {
			dt.SetContext(channel, chatID)
		}
	}
	// Set owner on memory and cost tools for scoped access
	for _, name := range []string{"memory_store", "memory_search", "memory_forget", "cost_summary"} {
		if tool, ok := inst.Tools.Get(name); ok {
			if ot, ok := tool.(tools.OwnerAwareTool); ok {
				ot.SetOwner(owner)
			}
		}
	}
}

// initDelegateTools creates and registers a DelegateTool on each agent that has
// subagents.allow_agents configured.
func (al *AgentLoop) initDelegateTools() {
	for _, inst := range al.registry.List() {
		if inst.Subagents == nil || len(inst.Subagents.AllowAgents) == 0 {
			continue
		}
		dt := tools.NewDelegateTool(al, inst.Subagents.AllowAgents)
		inst.Tools.Register(dt)
		logger.InfoCF("agent", fmt.Sprintf("Registered delegate tool on agent %q (targets: %v)", inst.ID, inst.Subagents.AllowAgents), nil)

		// Build subagent info for system prompt injection
		var subagentInfos []SubagentInfo
		for _, targetID := range inst.Subagents.AllowAgents {
			if target, ok := al.registry.Get(targetID); ok {
				subagentInfos = append(subagentInfos, SubagentInfo{
					ID:          target.ID,
					Name:        target.Name,
					Description: target.Description,
				})
			}
		}
		inst.ContextBuilder.SetSubagents(subagentInfos)
	}
}

// RunDelegate invokes a target agent's full LLM+tool loop synchronously.
func (al *AgentLoop) RunDelegate(ctx context.Context, agentID, task, channel, chatID string) (string, error) {
	inst, ok := al.registry.Get(agentID)
	if !ok {
		return "", fmt.Errorf("agent %q not found", agentID)
	}

	sessionKey := fmt.Sprintf("delegate:%s:%s:%d", agentID, chatID, time.Now().UnixMilli())

	return al.runAgentLoop(ctx, inst, processOptions{
		SessionKey:      sessionKey,
		Channel:         channel,
		ChatID:          chatID,
		UserMessage:     task,
		DefaultResponse: "Delegated task completed with no output.",
		EnableSummary:   false,
		SendResponse:    false,
	})
}

// RunDelegateAsync invokes a target agent in the background and publishes the
// result back via the message bus as a system message (same pattern as spawn).
func (al *AgentLoop) RunDelegateAsync(ctx context.Context, agentID, task, label, channel, chatID string) (string, error) {
	inst, ok := al.registry.Get(agentID)
	if !ok {
		return "", fmt.Errorf("agent %q not found", agentID)
	}

	bgCtx := tools.CarryDelegateDepth(ctx, context.Background())

	go func() {
		sessionKey := fmt.Sprintf("delegate:%s:%s:%d", agentID, chatID, time.Now().UnixMilli())

		result, err := al.runAgentLoop(bgCtx, inst, processOptions{
			SessionKey:      sessionKey,
			Channel:         channel,
			ChatID:          chatID,
			UserMessage:     task,
			DefaultResponse: "Delegated task completed with no output.",
			EnableSummary:   false,
			SendResponse:    false,
		})

		content := result
		if err != nil {
			content = fmt.Sprintf("Delegate to %s failed: %v", agentID, err)
		}

		al.bus.PublishInbound(bus.InboundMessage{
			Channel:  "system",
			SenderID: fmt.Sprintf("delegate:%s", agentID),
			ChatID:   fmt.Sprintf("%s:%s", channel, chatID),
			Content:  fmt.Sprintf("Task '%s' completed.\n\nResult:\n%s", label, content),
		})
	}()

	return fmt.Sprintf("Delegated task to agent %q (async). Result will be reported when done.", agentID), nil
}

// ListAgents returns metadata for all registered agents.
func (al *AgentLoop) ListAgents() []tools.AgentInfo {
	agents := al.registry.List()
	infos := make([]tools.AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, tools.AgentInfo{ID: a.ID, Name: a.Name, Description: a.Description})
	}
	return infos
}

// maybeSummarize triggers summarization if the session history exceeds thresholds.
func (al *AgentLoop) maybeSummarize(inst *AgentInstance, sessionKey string) {
	newHistory := inst.Sessions.GetHistory(sessionKey)
	tokenEstimate := al.estimateTokens(newHistory)
	threshold := inst.ContextWindow * 75 / 100

	if len(newHistory) > 20 || tokenEstimate > threshold {
		if _, loading := al.summarizing.LoadOrStore(sessionKey, true); !loading {
			go func() {
				defer al.summarizing.Delete(sessionKey)
				al.summarizeSession(inst, sessionKey)
			}()
		}
	}
}

// GetStartupInfo returns information about loaded tools and skills for logging.
func (al *AgentLoop) GetStartupInfo() map[string]interface{} {
	info := make(map[string]interface{})

	inst := al.registry.GetDefault()
	if inst == nil {
		return info
	}

	// Tools info
	toolNames := inst.Tools.List()
	info["tools"] = map[string]interface{}{
		"count": len(toolNames),
		"names": toolNames,
	}

	// Skills info
	info["skills"] = inst.ContextBuilder.GetSkillsInfo()

	// Agent count
	info["agents"] = map[string]interface{}{
		"count": al.registry.Count(),
		"ids":   al.registry.ListIDs(),
	}

	return info
}

// RecentActivitySummary returns a short digest of the entity's most recent
// belief-slot activity, for folding into the heartbeat prompt in place of a
// flat notes file. Returns "" if memory is disabled or nothing recent exists.
func (al *AgentLoop) RecentActivitySummary(entity string) string {
	if al.memoryDB == nil {
		return ""
	}

	items, err := al.memoryDB.RecallPhased(memory.RecallQuery{EntityID: entity, Limit: 8})
	if err != nil || len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent memory activity:\n")
	for _, it := range items {
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", it.Unit.SlotKey, it.Unit.Content))
	}
	return sb.String()
}

// formatMessagesForLog formats messages for logging
func formatMessagesForLog(messages []providers.Message) string {
	if len(messages) == 0 {
		return "[]"
	}

	var result string
	result += "[\n"
	for i, msg := range messages {
		result += fmt.Sprintf("  [%d] Role: %s\n", i, msg.Role)
		if msg.ToolCalls != nil && len(msg.ToolCalls) > 0 {
			result += "  ToolCalls:\n"
			for _, tc := range msg.ToolCalls {
				result += fmt.Sprintf("    - ID: %s, Type: %s, Name: %s\n", tc.ID, tc.Type, tc.Name)
				if tc.Function != nil {
					result += fmt.Sprintf("      Arguments: %s\n", utils.Truncate(tc.Function.Arguments, 200))
				}
			}
		}
		if msg.Content != "" {
			content := utils.Truncate(msg.Content, 200)
			result += fmt.Sprintf("  Content: %s\n", content)
		}
		if msg.ToolCallID != "" {
			result += fmt.Sprintf("  ToolCallID: %s\n", msg.ToolCallID)
		}
		result += "\n"
	}
	result += "]"
	return result
}

// formatToolsForLog formats tool definitions for logging
func formatToolsForLog(toolDefs []providers.ToolDefinition) string {
	if len(toolDefs) == 0 {
		return "[]"
	}

	var result string
	result += "[\n"
	for i, tool := range toolDefs {
		result += fmt.Sprintf("  [%d] Type: %s, Name: %s\n", i, tool.Type, tool.Function.Name)
		result += fmt.Sprintf("      Description: %s\n", tool.Function.Description)
		if len(tool.Function.Parameters) > 0 {
			result += fmt.Sprintf("      Parameters: %s\n", utils.Truncate(fmt.Sprintf("%v", tool.Function.Parameters), 200))
		}
	}
	result += "]"
	return result
}

// summarizeSession summarizes the conversation history for a session.
func (al *AgentLoop) summarizeSession(inst *AgentInstance, sessionKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	history := inst.Sessions.GetHistory(sessionKey)
	summary := inst.Sessions.GetSummary(sessionKey)

	// Keep last 4 messages for continuity
	if len(history) <= 4 {
		return
	}

	toSummarize := history[:len(history)-4]

	// Oversized Message Guard
	// Skip messages larger than 50% of context window to prevent summarizer overflow
	maxMessageTokens := inst.ContextWindow / 2
	validMessages := make([]providers.Message, 0)
	omitted := false

	for _, m := range toSummarize {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		// Estimate tokens for this message
		msgTokens := len(m.Content) / 4
		if msgTokens > maxMessageTokens {
			omitted = true
			continue
		}
		validMessages = append(validMessages, m)
	}

	if len(validMessages) == 0 {
		return
	}

	// Multi-Part Summarization
	// Split into two parts if history is significant
	var finalSummary string
	if len(validMessages) > 10 {
		mid := len(validMessages) / 2
		part1 := validMessages[:mid]
		part2 := validMessages[mid:]

		s1, _ := al.summarizeBatch(ctx, inst, part1, "")
		s2, _ := al.summarizeBatch(ctx, inst, part2, "")

		// Merge them
		mergePrompt := fmt.Sprintf("Merge these two conversation summaries into one cohesive summary:\n\n1: %s\n\n2: %s", s1, s2)
		resp, err := inst.Provider.Chat(ctx, []providers.Message{{Role: "user", Content: mergePrompt}}, nil, inst.Model, map[string]interface{}{
			"max_tokens":  1024,
			"temperature": 0.3,
		})
		if err == nil {
			finalSummary = resp.Content
		} else {
			finalSummary = s1 + " " + s2
		}
	} else {
		finalSummary, _ = al.summarizeBatch(ctx, inst, validMessages, summary)
	}

	if omitted && finalSummary != "" {
		finalSummary += "\n[Note: Some oversized messages were omitted from this summary for efficiency.]"
	}

	if finalSummary != "" {
		inst.Sessions.SetSummary(sessionKey, finalSummary)
		inst.Sessions.TruncateHistory(sessionKey, 4)
		inst.Sessions.Save(inst.Sessions.GetOrCreate(sessionKey))
	}
}

// summarizeBatch summarizes a batch of messages.
func (al *AgentLoop) summarizeBatch(ctx context.Context, inst *AgentInstance, batch []providers.Message, existingSummary string) (string, error) {
	prompt := "Provide a concise summary of this conversation segment, preserving core context and key points.\n"
	if existingSummary != "" {
		prompt += "Existing context: " + existingSummary + "\n"
	}
	prompt += "\nCONVERSATION:\n"
	for _, m := range batch {
		prompt += fmt.Sprintf("%s: %s\n", m.Role, m.Content)
	}

	response, err := inst.Provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, inst.Model, map[string]interface{}{
		"max_tokens":  1024,
		"temperature": 0.3,
	})
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// estimateTokens estimates the number of tokens in a message list.
func (al *AgentLoop) estimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4 // Simple heuristic: 4 chars per token
	}
	return total
}

// inferredClaimMarker and contradictionEventMarker are the line prefixes the
// assistant uses to propose memory writes inline in its own response text.
const (
	inferredClaimMarker     = "INFERRED_CLAIM:"
	contradictionEventMarker = "CONTRADICTION_EVENT:"
)

type inferredClaimPayload struct {
	EntityID   string  `json:"entity_id"`
	SlotKey    string  `json:"slot_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
}

type contradictionEventPayload struct {
	EntityID string `json:"entity_id"`
	SlotKey  string `json:"slot_key"`
	Reason   string `json:"reason"`
}

// extractInferenceMarkers scans assistant text line by line for
// INFERRED_CLAIM/CONTRADICTION_EVENT markers, returning the text with those
// lines removed and the events they describe. A marker whose JSON body fails
// to parse or is missing an entity/slot is dropped silently; it never blocks
// the rest of the response.
func extractInferenceMarkers(content string) (string, []memory.EventInput) {
	lines := strings.Split(content, "\n")
	kept := make([]string, 0, len(lines))
	var events []memory.EventInput

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, inferredClaimMarker):
			body := strings.TrimSpace(strings.TrimPrefix(trimmed, inferredClaimMarker))
			var claim inferredClaimPayload
			if err := json.Unmarshal([]byte(body), &claim); err != nil || claim.EntityID == "" || claim.SlotKey == "" {
				continue
			}
			events = append(events, memory.EventInput{
				EntityID:   claim.EntityID,
				SlotKey:    claim.SlotKey,
				Value:      claim.Value,
				Confidence: claim.Confidence,
				Importance: claim.Importance,
				Layer:      memory.LayerEpisodic,
				Privacy:    memory.PrivacyPrivate,
				SourceRef:  "agent-inference",
			})
		case strings.HasPrefix(trimmed, contradictionEventMarker):
			body := strings.TrimSpace(strings.TrimPrefix(trimmed, contradictionEventMarker))
			var ev contradictionEventPayload
			if err := json.Unmarshal([]byte(body), &ev); err != nil || ev.EntityID == "" || ev.SlotKey == "" {
				continue
			}
			events = append(events, memory.EventInput{
				EntityID:   ev.EntityID,
				SlotKey:    ev.SlotKey,
				Kind:       memory.EventContradictionMark,
				Value:      ev.Reason,
				Layer:      memory.LayerEpisodic,
				Privacy:    memory.PrivacyPrivate,
				SourceRef:  "agent-inference",
			})
		default:
			kept = append(kept, line)
		}
	}

	return strings.TrimRight(strings.Join(kept, "\n"), "\n"), events
}

// shouldReflect reports whether the agent instance has reflection enabled
// and a persona store is available to persist its output.
func (al *AgentLoop) shouldReflect(inst *AgentInstance) bool {
	return inst.Reflection && al.personaStore(inst) != nil
}

// reflectionPrompt asks the model for a strict-JSON persona writeback; it
// never contains prior conversation turns, so a reflection call can't be
// steered by anything the user said in the turn it's reflecting on.
const reflectionPrompt = `Propose an update to your own working state as a single JSON object with this shape, and nothing else:
{"current_objective": "...", "recent_context": "...", "memory_items": ["..."], "self_tasks": [{"description": "...", "expires_at": "RFC3339 timestamp or omit"}]}
Omit any field you have nothing new to propose for. Do not include any text outside the JSON object.`

type reflectionPayload struct {
	CurrentObjective *string              `json:"current_objective"`
	RecentContext    *string              `json:"recent_context"`
	MemoryItems      []string             `json:"memory_items"`
	SelfTasks        []reflectionSelfTask `json:"self_tasks"`
}

type reflectionSelfTask struct {
	Description string `json:"description"`
	ExpiresAt   string `json:"expires_at"`
}

// reflect runs a second, narrowly-scoped provider call whose only job is to
// propose a persona writeback, validates it with the Writeback Guard, and
// persists accepted fields to both the canonical and mirror copies. Runs
// asynchronously from the turn that triggered it, same pattern as
// summarizeSession.
func (al *AgentLoop) reflect(inst *AgentInstance, sessionKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	response, err := inst.Provider.Chat(ctx, []providers.Message{{Role: "user", Content: reflectionPrompt}}, nil, inst.Model, map[string]interface{}{
		"max_tokens":  512,
		"temperature": 0.2,
	})
	if err != nil {
		logger.DebugCF("persona", "Reflection call failed", map[string]interface{}{"agent_id": inst.ID, "error": err.Error()})
		return
	}

	start := strings.Index(response.Content, "{")
	end := strings.LastIndex(response.Content, "}")
	if start < 0 || end < start {
		return
	}

	var payload reflectionPayload
	if err := json.Unmarshal([]byte(response.Content[start:end+1]), &payload); err != nil {
		logger.DebugCF("persona", "Reflection payload not valid JSON", map[string]interface{}{"agent_id": inst.ID, "error": err.Error()})
		return
	}

	wb := writeback.PersonaWriteback{
		CurrentObjective: payload.CurrentObjective,
		RecentContext:    payload.RecentContext,
		MemoryItems:      payload.MemoryItems,
	}
	for _, t := range payload.SelfTasks {
		task := writeback.SelfTask{Description: t.Description}
		if t.ExpiresAt != "" {
			if v := al.writebackGuard.ValidateTimestamp(t.ExpiresAt); v != nil {
				logger.WarnCF("persona", "Reflection rejected by writeback guard",
					map[string]interface{}{"agent_id": inst.ID, "reason": v.Error()})
				return
			}
			parsed, _ := time.Parse(time.RFC3339, t.ExpiresAt)
			task.ExpiresAt = parsed
		}
		wb.SelfTasks = append(wb.SelfTasks, task)
	}

	if v := al.writebackGuard.Validate(wb); v != nil {
		logger.WarnCF("persona", "Reflection rejected by writeback guard",
			map[string]interface{}{"agent_id": inst.ID, "reason": v.Error()})
		return
	}

	store := al.personaStore(inst)
	if store == nil {
		return
	}
	if wb.CurrentObjective != nil {
		if err := store.ApplyObjective(*wb.CurrentObjective); err != nil {
			logger.ErrorCF("persona", "Failed to apply reflected objective", map[string]interface{}{"agent_id": inst.ID, "error": err.Error()})
		}
	}
	if wb.RecentContext != nil {
		if err := store.ApplyRecentContext(*wb.RecentContext); err != nil {
			logger.ErrorCF("persona", "Failed to apply reflected context", map[string]interface{}{"agent_id": inst.ID, "error": err.Error()})
		}
	}
	// Memory-item ingestion is owned by the memory backend and left for a
	// future event-append wiring; self-tasks enqueue here if a sink is set.
	if al.selfTaskSink != nil {
		for _, t := range wb.SelfTasks {
			if err := al.selfTaskSink(sessionKey, t.Description, t.ExpiresAt); err != nil {
				logger.WarnCF("persona", "Self-task enqueue rejected", map[string]interface{}{
					"agent_id": inst.ID, "entity": sessionKey, "error": err.Error(),
				})
			}
		}
	}
}
