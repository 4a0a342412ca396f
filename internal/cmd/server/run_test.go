package serverrun

import (
	"context"
	"net/http"
	"testing"
	"time"

	cfgpkg "github.com/Mister-Yo/whisper-protocol/internal/config"
	pebblestore "github.com/Mister-Yo/whisper-protocol/internal/storage/pebble"
)

func TestRunStartsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			DataDir:  t.TempDir(),
			HTTPAddr: "127.0.0.1:18099",
			GRPCAddr: "127.0.0.1:18098",
			Fsync:    pebblestore.FsyncModeAlways,
			Config:   cfgpkg.Default(),
		})
	}()

	var healthy bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://127.0.0.1:18099/v1/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				healthy = true
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !healthy {
		t.Fatal("server never became healthy")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
