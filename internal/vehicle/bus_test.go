package vehicle

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPBusSubscribeReceivesFramedPayloads(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		keyLen := binary.BigEndian.Uint32(lenBuf)
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(conn, key); err != nil {
			return
		}
		if string(key) != attitudeKey {
			t.Errorf("got subscribe key %q, want %q", key, attitudeKey)
		}

		payload := []byte(`{"message": {"roll": 1, "pitch": 2, "yaw": 3}}`)
		out := make([]byte, 4+len(payload))
		binary.BigEndian.PutUint32(out, uint32(len(payload)))
		copy(out[4:], payload)
		conn.Write(out)
	}()

	bus := NewTCPBus(ln.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, closeFn, err := bus.Subscribe(ctx, attitudeKey)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer closeFn()

	select {
	case got := <-ch:
		if string(got) != `{"message": {"roll": 1, "pitch": 2, "yaw": 3}}` {
			t.Fatalf("got payload %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for framed payload")
	}

	<-serverDone
}
