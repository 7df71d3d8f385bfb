package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"moonvillage/internal/logging"
	"moonvillage/internal/presence"
	"moonvillage/internal/store"
)

// getFreePort asks the kernel for a free TCP port.
func getFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func TestOpenGateway(t *testing.T) {
	ctx := context.Background()
	gw, closeFn, err := openGateway(ctx, "memory")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gw.(*store.Memory); !ok {
		t.Errorf("memory dsn gave %T", gw)
	}
	closeFn()

	gw, closeFn, err = openGateway(ctx, "file:main_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := gw.(*store.SQLite); !ok {
		t.Errorf("sqlite dsn gave %T", gw)
	}
}

func TestOpenPresenceWithoutRedis(t *testing.T) {
	p, closeFn, err := openPresence(context.Background(), AppConfig{}, logging.Nop().Logger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := p.(presence.Nop); !ok {
		t.Errorf("presence = %T", p)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	port, err := getFreePort()
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig([]string{"--config", "", "--dev", "--db", "memory", "--addr", fmt.Sprintf("127.0.0.1:%d", port)})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logging.Nop()) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("run did not return after cancel")
	}
}
