package geoloc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const subscribeTimeout = 5 * time.Second

// Watcher registers long-lived position watches over MQTT. A watch is a
// subscription to the rider's fix topic plus a start command telling the
// device which settings to collect with.
type Watcher struct {
	client  mqtt.Client
	mu      sync.Mutex
	watches map[string]string // watch id -> fix topic
}

func NewWatcher(client mqtt.Client) *Watcher {
	return &Watcher{
		client:  client,
		watches: map[string]string{},
	}
}

// Watch subscribes to the rider's fixes and returns an opaque watch id.
// Malformed payloads are reported through onErr and never reach onFix.
func (w *Watcher) Watch(riderID string, opts WatchOptions, onFix func(Fix), onErr func(error)) (string, error) {
	topic := fixTopic(riderID)

	token := w.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var fix Fix
		if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("decode fix: %w", err))
			}
			return
		}
		onFix(fix)
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return "", fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("subscribe %s: %w", topic, err)
	}

	// tell the device to start collecting with the requested settings
	payload, _ := json.Marshal(watchCommand{
		Command:      "start",
		HighAccuracy: opts.HighAccuracy,
		TimeoutMs:    opts.Timeout.Milliseconds(),
		MaximumAgeMs: opts.MaximumAge.Milliseconds(),
	})
	w.client.Publish(watchTopic(riderID), 0, false, payload)

	id := uuid.NewString()
	w.mu.Lock()
	w.watches[id] = topic
	w.mu.Unlock()
	return id, nil
}

// Clear tears down a watch. Clearing an unknown or already-cleared id is a
// no-op.
func (w *Watcher) Clear(watchID string) error {
	w.mu.Lock()
	topic, ok := w.watches[watchID]
	delete(w.watches, watchID)
	w.mu.Unlock()
	if !ok {
		return nil
	}

	riderID := riderFromFixTopic(topic)
	payload, _ := json.Marshal(watchCommand{Command: "stop"})
	w.client.Publish(watchTopic(riderID), 0, false, payload)

	token := w.client.Unsubscribe(topic)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("unsubscribe %s: timeout", topic)
	}
	return token.Error()
}

func riderFromFixTopic(topic string) string {
	// riders/{rider}/fixes
	const prefix = "riders/"
	const suffix = "/fixes"
	if len(topic) <= len(prefix)+len(suffix) {
		return ""
	}
	return topic[len(prefix) : len(topic)-len(suffix)]
}
