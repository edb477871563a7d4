package memory

// NoneBackend satisfies Backend with pure no-ops, for deployments that want
// the agent loop and tools wired up without persisting anything to disk.
type NoneBackend struct{}

func (NoneBackend) AppendEvent(EventInput) (*Event, error) { return &Event{}, nil }

func (NoneBackend) AppendInferenceEvent(EventInput) (*Event, error) { return &Event{}, nil }

func (NoneBackend) AppendInferenceEvents(inputs []EventInput) ([]*Event, []error) {
	events := make([]*Event, len(inputs))
	for i := range inputs {
		events[i] = &Event{}
	}
	return events, nil
}

func (NoneBackend) RecallScoped(RecallQuery) ([]RecallItem, error) { return nil, nil }

func (NoneBackend) RecallPhased(RecallQuery) ([]RecallItem, error) { return nil, nil }

func (NoneBackend) ResolveSlot(entityID, slotKey string) (*BeliefSlot, error) {
	return &BeliefSlot{EntityID: entityID, SlotKey: slotKey, Status: SlotActive}, nil
}

func (NoneBackend) ForgetSlot(_, _ string, mode ForgetMode, reason string) (ForgetOutcome, error) {
	return ForgetOutcome{Applied: true, Mode: mode, Reason: reason}, nil
}

func (NoneBackend) CountEvents(string) int { return 0 }

func (NoneBackend) RunHygiene() (HygieneReport, error) { return HygieneReport{}, nil }

func (NoneBackend) Capabilities() CapabilityMatrix {
	return CapabilityMatrix{Degraded: true, Notes: "no-op backend: nothing is persisted or recalled"}
}

func (NoneBackend) Close() error { return nil }
