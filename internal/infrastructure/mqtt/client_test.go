package mqtt

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

// These tests exercise the validation and state-tracking paths that do
// not need a live broker. Roundtrip behaviour against Mosquitto is
// covered by the deployment smoke tests.

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hearth-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("", []byte("payload"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("hearth/test", []byte("payload"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizePayload(t *testing.T) {
	client := &Client{cfg: testConfig()}

	payload := bytes.Repeat([]byte("x"), maxPayloadSize+1)
	err := client.Publish("hearth/test", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("hearth/test", []byte("payload"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Subscribe("hearth/test", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Subscribe("hearth/test", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Subscribe("hearth/test", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestUnsubscribeEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestUnsubscribeDisconnected(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	err := client.Unsubscribe("hearth/test")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{cfg: testConfig()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriptionCount_Empty(t *testing.T) {
	client := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	if count := client.SubscriptionCount(); count != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", count)
	}
}

func TestOnDisconnectCallback(t *testing.T) {
	client := &Client{cfg: testConfig()}
	client.connected = true

	var lostErr error
	client.SetOnDisconnect(func(err error) { lostErr = err })

	client.handleDisconnect(errors.New("link down"))

	if lostErr == nil || lostErr.Error() != "link down" {
		t.Errorf("OnDisconnect error = %v, want link down", lostErr)
	}
	client.connMu.RLock()
	connected := client.connected
	client.connMu.RUnlock()
	if connected {
		t.Error("connected flag should be false after disconnect")
	}
}

func TestStatusPayload(t *testing.T) {
	payload := statusPayload("online", "hearth-test")

	if !bytes.Contains([]byte(payload), []byte(`"status":"online"`)) {
		t.Errorf("statusPayload missing status field: %s", payload)
	}
	if !bytes.Contains([]byte(payload), []byte(`"client_id":"hearth-test"`)) {
		t.Errorf("statusPayload missing client_id field: %s", payload)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "hearth", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker, got %d", len(opts.Servers))
	}
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.Username != "hearth" {
		t.Errorf("username = %q, want hearth", opts.Username)
	}
}
