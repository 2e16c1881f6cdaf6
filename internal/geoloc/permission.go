package geoloc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultCheckTimeout = 5 * time.Second
	// a prompt waits on the rider tapping the OS dialog
	defaultPromptTimeout = 2 * time.Minute
)

// PermissionGate asks the rider device about its OS location permission over
// MQTT. Anything other than an explicit "granted" reply, including silence,
// counts as a denial.
type PermissionGate struct {
	client        mqtt.Client
	checkTimeout  time.Duration
	promptTimeout time.Duration
}

func NewPermissionGate(client mqtt.Client) *PermissionGate {
	return &PermissionGate{
		client:        client,
		checkTimeout:  defaultCheckTimeout,
		promptTimeout: defaultPromptTimeout,
	}
}

// Check queries the current permission state without prompting the rider.
func (g *PermissionGate) Check(ctx context.Context, riderID string) (bool, error) {
	return g.ask(ctx, riderID, "check", g.checkTimeout)
}

// Request triggers the OS permission prompt once. It never re-prompts on
// denial; callers may invoke it again on a later occasion.
func (g *PermissionGate) Request(ctx context.Context, riderID string) (bool, error) {
	return g.ask(ctx, riderID, "prompt", g.promptTimeout)
}

func (g *PermissionGate) ask(ctx context.Context, riderID, action string, timeout time.Duration) (bool, error) {
	statusTopic := permissionTopic(riderID, "status")
	replies := make(chan string, 1)

	token := g.client.Subscribe(statusTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var status permissionStatus
		if err := json.Unmarshal(msg.Payload(), &status); err != nil {
			return
		}
		select {
		case replies <- status.Location:
		default:
		}
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return false, fmt.Errorf("subscribe %s: timeout", statusTopic)
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", statusTopic, err)
	}
	defer func() {
		unsub := g.client.Unsubscribe(statusTopic)
		unsub.WaitTimeout(subscribeTimeout)
	}()

	g.client.Publish(permissionTopic(riderID, action), 0, false, []byte(`{}`))

	select {
	case state := <-replies:
		return state == "granted", nil
	case <-time.After(timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
