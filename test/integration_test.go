package test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/omochice/wirechat/internal/client"
	"github.com/omochice/wirechat/internal/observability"
	"github.com/omochice/wirechat/internal/server"
	"github.com/omochice/wirechat/pkg/protocol"
)

func startServer(t *testing.T, wsListen string) *server.Server {
	t.Helper()
	srv := server.New(server.Config{
		Listen:      "127.0.0.1:0",
		WSListen:    wsListen,
		GracePeriod: time.Second,
		Logger:      observability.NopLogger(),
		Metrics:     observability.NewMetrics(nil),
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func dial(t *testing.T, addr, name string) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := client.Dial(ctx, addr, name, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recvOp pulls inbound operations until pred accepts one, skipping join and
// leave notifications that depend on connection timing.
func recvOp(t *testing.T, s *client.Session, pred func(protocol.Operation) bool) protocol.Operation {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case op, ok := <-s.Messages():
			require.True(t, ok, "session closed while waiting for message")
			if pred(op) {
				return op
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestEndToEnd_BroadcastBetweenClients(t *testing.T) {
	srv := startServer(t, "")

	a := dial(t, srv.Addr(), "alice")
	b := dial(t, srv.Addr(), "bob")

	require.NoError(t, a.SendText("hello"))

	op := recvOp(t, b, func(op protocol.Operation) bool {
		_, ok := op.(protocol.Broadcast)
		return ok
	})
	require.Equal(t, protocol.Broadcast{From: "alice", Body: "hello"}, op)

	// No echo: alice sees bob's join at most, never her own message.
	select {
	case got, ok := <-a.Messages():
		if ok {
			_, isJoin := got.(protocol.Connect)
			require.True(t, isJoin, "sender received unexpected %#v", got)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEndToEnd_AbruptDisconnectScenario(t *testing.T) {
	srv := startServer(t, "")

	a := dial(t, srv.Addr(), "alice")
	b := dial(t, srv.Addr(), "bob")

	require.NoError(t, a.SendText("hello"))
	op := recvOp(t, b, func(op protocol.Operation) bool {
		_, ok := op.(protocol.Broadcast)
		return ok
	})
	require.Equal(t, protocol.Broadcast{From: "alice", Body: "hello"}, op)

	// Tear alice down abruptly (socket close, no goodbye).
	a.Close()

	require.Eventually(t, func() bool {
		for _, p := range srv.Registry().Peers() {
			if p.Name == "alice" {
				return false
			}
		}
		return srv.Registry().Len() == 1
	}, 2*time.Second, 20*time.Millisecond, "alice's id still in registry")

	// bob is unaffected and the relay still works for newcomers.
	c := dial(t, srv.Addr(), "carol")
	require.NoError(t, b.SendText("still alive"))
	op = recvOp(t, c, func(op protocol.Operation) bool {
		_, ok := op.(protocol.Broadcast)
		return ok
	})
	require.Equal(t, protocol.Broadcast{From: "bob", Body: "still alive"}, op)
}

func TestEndToEnd_DuplicateNameRejected(t *testing.T) {
	srv := startServer(t, "")

	first := dial(t, srv.Addr(), "dup")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	second, err := client.Dial(ctx, srv.Addr(), "dup", observability.NopLogger())
	if err == nil {
		second.Close()
		t.Fatal("Dial() succeeded with a taken name")
	}

	// The holder is unaffected by the rejected claimant and keeps relaying.
	other := dial(t, srv.Addr(), "other")
	require.NoError(t, first.SendText("mine"))
	op := recvOp(t, other, func(op protocol.Operation) bool {
		_, ok := op.(protocol.Broadcast)
		return ok
	})
	require.Equal(t, protocol.Broadcast{From: "dup", Body: "mine"}, op)

	select {
	case _, ok := <-first.Messages():
		if !ok {
			t.Fatal("name holder's session closed by the rejected claimant")
		}
	default:
	}
}

func TestEndToEnd_ThreeClientFanOut(t *testing.T) {
	srv := startServer(t, "")

	a := dial(t, srv.Addr(), "a")
	b := dial(t, srv.Addr(), "b")
	c := dial(t, srv.Addr(), "c")

	require.NoError(t, a.SendText("fan out"))

	for _, peer := range []*client.Session{b, c} {
		op := recvOp(t, peer, func(op protocol.Operation) bool {
			_, ok := op.(protocol.Broadcast)
			return ok
		})
		require.Equal(t, protocol.Broadcast{From: "a", Body: "fan out"}, op)
	}
}

func TestEndToEnd_PerConnectionOrdering(t *testing.T) {
	srv := startServer(t, "")

	a := dial(t, srv.Addr(), "a")
	b := dial(t, srv.Addr(), "b")

	bodies := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8"}
	for _, body := range bodies {
		require.NoError(t, a.SendText(body))
	}

	var got []string
	for range bodies {
		op := recvOp(t, b, func(op protocol.Operation) bool {
			_, ok := op.(protocol.Broadcast)
			return ok
		})
		got = append(got, op.(protocol.Broadcast).Body)
	}
	require.Equal(t, bodies, got)
}

func TestEndToEnd_WebSocketPeerJoinsBroadcast(t *testing.T) {
	srv := startServer(t, "127.0.0.1:0")

	// A WebSocket peer speaks the same codec payloads; the WS layer frames.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsConn, _, _, err := ws.Dial(ctx, "ws://"+srv.WSAddr())
	require.NoError(t, err)
	t.Cleanup(func() { wsConn.Close() })

	send := func(op protocol.Operation) {
		data, err := protocol.Encode(op)
		require.NoError(t, err)
		require.NoError(t, wsutil.WriteClientBinary(wsConn, data))
	}
	recv := func() protocol.Operation {
		wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		data, err := wsutil.ReadServerBinary(wsConn)
		require.NoError(t, err)
		op, err := protocol.Decode(data)
		require.NoError(t, err)
		return op
	}

	send(protocol.Connect{ClientID: "wendy"})
	require.Equal(t, protocol.Ack{}, recv())

	tcpPeer := dial(t, srv.Addr(), "tom")

	// TCP -> WS
	require.NoError(t, tcpPeer.SendText("hi wendy"))
	for {
		op := recv()
		if bc, ok := op.(protocol.Broadcast); ok {
			require.Equal(t, protocol.Broadcast{From: "tom", Body: "hi wendy"}, bc)
			break
		}
	}

	// WS -> TCP
	send(protocol.SendText{Body: "hi tom"})
	op := recvOp(t, tcpPeer, func(op protocol.Operation) bool {
		_, ok := op.(protocol.Broadcast)
		return ok
	})
	require.Equal(t, protocol.Broadcast{From: "wendy", Body: "hi tom"}, op)
}

func TestEndToEnd_GracefulShutdownWithStubbornClient(t *testing.T) {
	srv := server.New(server.Config{
		Listen:      "127.0.0.1:0",
		GracePeriod: 500 * time.Millisecond,
		Logger:      observability.NopLogger(),
		Metrics:     observability.NewMetrics(nil),
	})
	require.NoError(t, srv.Start())
	addr := srv.Addr()

	// This client never closes its socket.
	raw, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer raw.Close()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.Less(t, time.Since(start), 3*time.Second)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err, "server accepted a connection after shutdown")
}
