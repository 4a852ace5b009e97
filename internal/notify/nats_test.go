package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded JetStream server.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSSink_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink, err := NewNATSSink(nc, NATSConfig{Subject: "leads.completed", Stream: "LEADS"})
	require.NoError(t, err)
	assert.Equal(t, "nats", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testPayload("corr-n1")))

	js, err := nc.JetStream()
	require.NoError(t, err)
	msg, err := js.GetLastMsg("LEADS", "leads.completed")
	require.NoError(t, err)

	var got Payload
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "corr-n1", got.CorrelationID)
	assert.Equal(t, "penal", got.Lead["legal_area"])
}

func TestNATSSink_DeduplicatesByCorrelationID(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink, err := NewNATSSink(nc, NATSConfig{Subject: "leads.completed", Stream: "LEADS"})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), testPayload("corr-dup")))
	require.NoError(t, sink.Send(context.Background(), testPayload("corr-dup")))
	require.NoError(t, sink.Send(context.Background(), testPayload("corr-other")))

	js, err := nc.JetStream()
	require.NoError(t, err)
	info, err := js.StreamInfo("LEADS")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestNATSSink_ReusesExistingStream(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	_, err = NewNATSSink(nc, NATSConfig{Subject: "leads.completed", Stream: "LEADS"})
	require.NoError(t, err)
	_, err = NewNATSSink(nc, NATSConfig{Subject: "leads.completed", Stream: "LEADS"})
	assert.NoError(t, err)
}

func TestNewNATSSink_Validation(t *testing.T) {
	_, err := NewNATSSink(nil, NATSConfig{Subject: "a", Stream: "B"})
	assert.Error(t, err)
}
