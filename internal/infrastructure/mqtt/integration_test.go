//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Integration tests need a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectIntegration(t, "graylogic-access-int-subs")
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{Topics{}.AllValidate(), Topics{}.AllCommands()} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(Topics{}.AllCommands()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() after Unsubscribe = %d, want 1", client.SubscriptionCount())
	}
}

func TestIntegration_ValidateRoundtrip(t *testing.T) {
	client := connectIntegration(t, "graylogic-access-int-roundtrip")

	var (
		mu       sync.Mutex
		received = make(chan struct{}, 1)
		method   string
		source   string
	)
	err := client.Subscribe(Topics{}.AllValidate(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		method, source, _ = Topics{}.ParseValidate(topic)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishJSON(Topics{}.Validate("tag", "int-door"), map[string]string{"request_id": "r1", "tag": "42"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
	mu.Lock()
	defer mu.Unlock()
	if method != "tag" || source != "int-door" {
		t.Errorf("parsed %q %q", method, source)
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	client := connectIntegration(t, "graylogic-access-int-health")
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
