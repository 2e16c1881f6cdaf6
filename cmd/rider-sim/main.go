package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// rider-sim plays the role of a rider's phone: it answers location
// permission checks and prompts, honors watch start/stop commands, and
// publishes jittered fixes around a base coordinate while a watch is
// active.

type fixPayload struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	SpeedMps  float64   `json:"speed_mps"`
	Heading   float64   `json:"heading"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

type watchCommand struct {
	Command string `json:"command"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	riderID := flag.String("rider-id", "sim-rider-1", "Rider identifier")
	baseLat := flag.Float64("lat", -6.2, "Base latitude")
	baseLng := flag.Float64("lng", 106.8, "Base longitude")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published fixes")
	jitter := flag.Float64("jitter", 0.0005, "Maximum random offset applied to each coordinate")
	grant := flag.Bool("grant", true, "Answer permission prompts with granted")

	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	clientID := fmt.Sprintf("%s-simulator-%d", *riderID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	var watching atomic.Bool

	answerPermission := func(_ mqtt.Client, msg mqtt.Message) {
		status := "denied"
		if *grant {
			status = "granted"
		}
		payload, _ := json.Marshal(map[string]string{"location": status})
		statusTopic := fmt.Sprintf("riders/%s/permissions/status", *riderID)
		client.Publish(statusTopic, 0, false, payload)
		log.Printf("answered %s with %s", msg.Topic(), status)
	}

	for _, action := range []string{"check", "prompt"} {
		topic := fmt.Sprintf("riders/%s/permissions/%s", *riderID, action)
		if token := client.Subscribe(topic, 0, answerPermission); token.Wait() && token.Error() != nil {
			log.Fatalf("subscribe %s: %v", topic, token.Error())
		}
	}

	watchTopic := fmt.Sprintf("riders/%s/watch", *riderID)
	token := client.Subscribe(watchTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd watchCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("bad watch command: %v", err)
			return
		}
		switch cmd.Command {
		case "start":
			watching.Store(true)
			log.Print("watch started")
		case "stop":
			watching.Store(false)
			log.Print("watch stopped")
		}
	})
	if token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe %s: %v", watchTopic, token.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fixTopic := fmt.Sprintf("riders/%s/fixes", *riderID)

	publish := func() {
		if !watching.Load() {
			return
		}
		payload := fixPayload{
			Latitude:  jittered(*baseLat, *jitter),
			Longitude: jittered(*baseLng, *jitter),
			Accuracy:  20 + rand.Float64()*30,
			SpeedMps:  rand.Float64() * 10,
			Heading:   rand.Float64() * 360,
			Altitude:  10 + rand.Float64()*5,
			Timestamp: time.Now().UTC(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}

		tok := client.Publish(fixTopic, 0, false, data)
		tok.Wait()
		if err := tok.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("published %s lat=%.5f lng=%.5f", fixTopic, payload.Latitude, payload.Longitude)
	}

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func jittered(base, jitter float64) float64 {
	if jitter <= 0 {
		return base
	}
	return base + (rand.Float64()*2-1)*jitter
}
