package btp_test

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/btp"
	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

type captureHandler struct {
	prepares chan ilp.Prepare
}

func (h *captureHandler) HandlePrepare(ctx context.Context, from ilp.PeerID, prepare ilp.Prepare) {
	h.prepares <- prepare
}

func newTestPrepare(packetID string, expiresIn time.Duration) ilp.Prepare {
	condition := sha256.Sum256([]byte("thirty-two byte preimage value!!"))
	return ilp.Prepare{
		PacketID:    packetID,
		Destination: "g.agent.bob",
		Amount:      sdkmath.NewInt(1000),
		Condition:   condition[:],
		ExpiresAt:   time.Now().Add(expiresIn),
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	prepare := newTestPrepare("pkt-1", 30*time.Second)
	data, err := json.Marshal(btp.NewPrepareFrame(prepare))
	require.NoError(t, err)

	var frame btp.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	decoded, err := frame.Prepare()
	require.NoError(t, err)
	require.Equal(t, prepare.PacketID, decoded.PacketID)
	require.Equal(t, prepare.Destination, decoded.Destination)
	require.True(t, prepare.Amount.Equal(decoded.Amount))
	require.Equal(t, prepare.Condition, decoded.Condition)
	require.True(t, prepare.ExpiresAt.Equal(decoded.ExpiresAt))

	_, err = frame.Fulfill()
	require.Error(t, err, "type mismatch must be rejected")

	reject := ilp.NewReject("pkt-1", ilp.CodeUnreachable, "g.node", "no route")
	data, err = json.Marshal(btp.NewRejectFrame(reject))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &frame))
	decodedReject, err := frame.Reject()
	require.NoError(t, err)
	require.Equal(t, reject, decodedReject)
}

type testPeer struct {
	registry *btp.Registry
	endpoint *btp.Endpoint
	handler  *captureHandler
	server   *httptest.Server
}

func startTestPeer(t *testing.T, cfg btp.EndpointConfig) *testPeer {
	t.Helper()

	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)
	handler := &captureHandler{prepares: make(chan ilp.Prepare, 8)}

	endpoint := btp.NewEndpoint(cfg, log, broker, handler)
	registry := btp.NewRegistry()
	registry.Register(endpoint)

	server := btp.NewServer(btp.ServerConfig{
		PeerSecrets: map[ilp.PeerID]string{cfg.PeerID: cfg.Secret},
	}, log, registry)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testPeer{registry: registry, endpoint: endpoint, handler: handler, server: ts}
}

func (p *testPeer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(p.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerRejectsBadSecret(t *testing.T) {
	t.Parallel()

	peer := startTestPeer(t, btp.EndpointConfig{PeerID: "alice", NodeID: "node-1", Secret: "s3cret"})
	conn := peer.dial(t)

	require.NoError(t, conn.WriteJSON(btp.NewAuthFrame("alice", "wrong")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame btp.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, btp.FrameTypeReject, frame.Type)

	// the server closes the connection after the reject
	require.Error(t, conn.ReadJSON(&frame))
}

func TestInboundPrepareDispatchAndFulfill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	peer := startTestPeer(t, btp.EndpointConfig{PeerID: "alice", NodeID: "node-1", Secret: "s3cret"})
	conn := peer.dial(t)

	require.NoError(t, conn.WriteJSON(btp.NewAuthFrame("alice", "s3cret")))

	prepare := newTestPrepare("pkt-1", 30*time.Second)
	require.NoError(t, conn.WriteJSON(btp.NewPrepareFrame(prepare)))

	select {
	case got := <-peer.handler.prepares:
		require.Equal(t, prepare.PacketID, got.PacketID)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not receive the prepare")
	}

	require.Eventually(t, func() bool {
		return peer.endpoint.State() == btp.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	fulfill := ilp.Fulfill{PacketID: "pkt-1", Fulfillment: []byte("thirty-two byte preimage value!!")}
	require.NoError(t, peer.endpoint.SendFulfill(ctx, fulfill))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame btp.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, btp.FrameTypeFulfill, frame.Type)
	require.Equal(t, "pkt-1", frame.PacketID)
}

func TestSendPrepareResolvedByReply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	peer := startTestPeer(t, btp.EndpointConfig{PeerID: "alice", NodeID: "node-1", Secret: "s3cret"})
	conn := peer.dial(t)
	require.NoError(t, conn.WriteJSON(btp.NewAuthFrame("alice", "s3cret")))

	// wait until the endpoint serves the session
	require.Eventually(t, func() bool {
		return peer.endpoint.State() == btp.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	// remote peer echoes a FULFILL for the received PREPARE
	go func() {
		var frame btp.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = conn.WriteJSON(btp.NewFulfillFrame(ilp.Fulfill{
			PacketID:    frame.PacketID,
			Fulfillment: []byte("thirty-two byte preimage value!!"),
		}))
	}()

	reply, err := peer.endpoint.SendPrepare(ctx, newTestPrepare("pkt-9", 30*time.Second))
	require.NoError(t, err)
	require.NotNil(t, reply.Fulfill)
	require.Equal(t, "pkt-9", reply.Fulfill.PacketID)
}

func TestSendPrepareSynthesizesTimeoutReject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	peer := startTestPeer(t, btp.EndpointConfig{
		PeerID:        "alice",
		NodeID:        "node-1",
		Secret:        "s3cret",
		ResponseSlack: 100 * time.Millisecond,
	})
	conn := peer.dial(t)
	require.NoError(t, conn.WriteJSON(btp.NewAuthFrame("alice", "s3cret")))

	require.Eventually(t, func() bool {
		return peer.endpoint.State() == btp.StateReady
	}, 5*time.Second, 10*time.Millisecond)

	// the remote peer never answers
	reply, err := peer.endpoint.SendPrepare(ctx, newTestPrepare("pkt-slow", 100*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, reply.Reject)
	require.Equal(t, ilp.CodeTimeout, reply.Reject.Code)
}

func TestForwardPrepareRejectsWhenQueueFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)

	// no session is serving this endpoint, so nothing drains the queue
	endpoint := btp.NewEndpoint(btp.EndpointConfig{
		PeerID:        "alice",
		NodeID:        "node-1",
		SendQueueSize: 1,
	}, log, broker, &captureHandler{prepares: make(chan ilp.Prepare, 1)})

	// fill the only queue slot
	require.NoError(t, endpoint.SendFulfill(ctx, ilp.Fulfill{PacketID: "pkt-0"}))

	_, err := endpoint.ForwardPrepare(ctx, newTestPrepare("pkt-1", time.Minute))
	require.Error(t, err)
	require.ErrorIs(t, err, btp.ErrSendQueueFull)
}
