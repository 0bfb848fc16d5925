package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
)

// brokerPort is the port of the in-process broker started by TestMain.
var brokerPort int

func TestMain(m *testing.M) {
	server, port, err := startBroker()
	if err != nil {
		fmt.Fprintf(os.Stderr, "embedded broker: %v\n", err)
		os.Exit(1)
	}
	brokerPort = port

	code := m.Run()
	_ = server.Close()
	os.Exit(code)
}

func startBroker() (*mochi.Server, int, error) {
	port, err := freePort()
	if err != nil {
		return nil, 0, err
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, 0, err
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})); err != nil {
		return nil, 0, err
	}
	go func() {
		_ = server.Serve()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, dialErr := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if dialErr == nil {
			conn.Close()
			return server, port, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = server.Close()
	return nil, 0, errors.New("broker did not start listening")
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func brokerConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     brokerPort,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "driverd-it",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBroker_ConnectRefused(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("freePort() error = %v", err)
	}
	cfg := brokerConfig("driverd-it-refused")
	cfg.Broker.Port = port

	_, err = Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBroker_ConnectStats(t *testing.T) {
	client, err := Connect(brokerConfig("driverd-it-stats"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	st := client.Stats()
	if !st.Connected || st.Connects != 1 || st.Since.IsZero() {
		t.Errorf("Stats() after connect = %+v", st)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestBroker_SubscriptionTracking(t *testing.T) {
	client, err := Connect(brokerConfig("driverd-it-sub-track"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		client.Topics().Command("a"),
		client.Topics().Command("b"),
		client.Topics().AllTriggers(),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}
	if got := client.Subscriptions(); got[0] != client.Topics().Command("a") {
		t.Errorf("Subscriptions() = %v, want sorted", got)
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

func TestBroker_CommandRoundtrip(t *testing.T) {
	pub, err := Connect(brokerConfig("driverd-it-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(brokerConfig("driverd-it-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(sub.Topics().AllCommands(), 1, func(topic string, p []byte) error {
		moniker, ok := sub.Topics().MonikerFromCommand(topic)
		if !ok {
			return errors.New("unexpected topic")
		}
		once.Do(func() { received <- moniker + ":" + string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := pub.PublishString(pub.Topics().Command("ir-lounge"), "enter training", 1, false); err != nil {
		t.Fatalf("PublishString() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != "ir-lounge:enter training" {
			t.Errorf("received %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}
}

func TestBroker_RetainedFieldState(t *testing.T) {
	pub, err := Connect(brokerConfig("driverd-it-retain-pub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer pub.Close()

	topic := pub.Topics().FieldState("zw-it", "LGHT#Sw_Hall")
	if err := pub.PublishRetained(topic, []byte("True")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	sub, err := Connect(brokerConfig("driverd-it-retain-sub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sub.Close()

	got := make(chan string, 1)
	if err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		select {
		case got <- string(p):
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case v := <-got:
		if v != "True" {
			t.Errorf("retained payload = %q, want True", v)
		}
	case <-time.After(5 * time.Second):
		t.Error("retained state not delivered")
	}
}
