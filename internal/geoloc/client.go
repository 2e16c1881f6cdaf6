package geoloc

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Dial connects to the MQTT broker the rider devices publish on.
func Dial(brokerURL, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", brokerURL, token.Error())
	}
	return client, nil
}

func fixTopic(riderID string) string {
	return fmt.Sprintf("riders/%s/fixes", riderID)
}

func watchTopic(riderID string) string {
	return fmt.Sprintf("riders/%s/watch", riderID)
}

func permissionTopic(riderID, action string) string {
	return fmt.Sprintf("riders/%s/permissions/%s", riderID, action)
}
