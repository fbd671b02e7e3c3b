package mapanalysis

import "sync"

const progressBuffer = 32

// ChannelManager holds at most one open progress channel per analysis id.
// Subscribing again replaces (and closes) any prior channel; there is no
// replay, so a late subscriber only sees events from the moment it attaches.
type ChannelManager struct {
	mu   sync.Mutex
	subs map[string]chan ProgressEvent
}

// NewChannelManager constructs an empty ChannelManager.
func NewChannelManager() *ChannelManager {
	return &ChannelManager{subs: make(map[string]chan ProgressEvent)}
}

// Subscribe opens a fresh channel for the analysis id, closing any prior one.
func (m *ChannelManager) Subscribe(analysisID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, progressBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.subs[analysisID]; ok {
		close(prev)
	}
	m.subs[analysisID] = ch
	return ch
}

// Unsubscribe removes the channel entry if it is still the given one. The
// in-flight worker is unaffected; later events are simply dropped.
func (m *ChannelManager) Unsubscribe(analysisID string, ch <-chan ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.subs[analysisID]; ok && current == ch {
		delete(m.subs, analysisID)
		close(current)
	}
}

// Publish delivers an event to the subscriber, if any. Delivery is
// best-effort: with no subscriber, or a full buffer, the event is dropped.
func (m *ChannelManager) Publish(analysisID string, ev ProgressEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.subs[analysisID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
	}
}

// Close closes and removes the channel for an analysis id, if any.
func (m *ChannelManager) Close(analysisID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[analysisID]; ok {
		delete(m.subs, analysisID)
		close(ch)
	}
}

// CloseAll closes every open channel; used on shutdown.
func (m *ChannelManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
