package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/driftlab/edgesync/internal/power"
	"github.com/driftlab/edgesync/internal/record"
)

// fakeEngine is a canned EngineState.
type fakeEngine struct {
	syncing  bool
	lastSync time.Time
	result   record.SyncResult
	haveBoth bool
	tuning   power.Tuning
}

func (f *fakeEngine) IsSyncing() bool { return f.syncing }

func (f *fakeEngine) LastSync() (time.Time, bool) { return f.lastSync, f.haveBoth }

func (f *fakeEngine) LastResult() (record.SyncResult, bool) { return f.result, f.haveBoth }

func (f *fakeEngine) Tuning() power.Tuning { return f.tuning }

type fakePending struct {
	ids []string
}

func (f *fakePending) Pending() ([]string, error) { return f.ids, nil }

func startServer(t *testing.T, eng EngineState, pending PendingCounter) *Server {
	t.Helper()
	srv, err := NewServer(&Config{
		Port:    0,
		Engine:  eng,
		Pending: pending,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestNewServerRequiresEngine(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&Config{}); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	eng := &fakeEngine{
		syncing:  true,
		lastSync: now,
		result:   record.SyncResult{Uploaded: 3, Downloaded: 2, Conflicts: 1},
		haveBoth: true,
		tuning:   power.Tuning{BatchSize: 25, BaseInterval: 2 * time.Minute},
	}
	srv := startServer(t, eng, &fakePending{ids: []string{"a", "b"}})

	resp, err := http.Get(srv.URL() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if !status.Syncing {
		t.Error("syncing = false, want true")
	}
	if status.LastSync == nil || !status.LastSync.Equal(now) {
		t.Errorf("last_sync = %v, want %v", status.LastSync, now)
	}
	if status.LastResult == nil || status.LastResult.Uploaded != 3 {
		t.Errorf("last_result = %+v", status.LastResult)
	}
	if status.BatchSize != 25 || status.Interval != "2m0s" {
		t.Errorf("schedule = batch %d interval %s", status.BatchSize, status.Interval)
	}
	if status.Pending != 2 {
		t.Errorf("pending = %d, want 2", status.Pending)
	}
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	srv := startServer(t, &fakeEngine{tuning: power.DefaultTuning}, nil)

	resp, err := http.Get(srv.URL() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.LastSync != nil || status.LastResult != nil {
		t.Errorf("virgin status carries history: %+v", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)

	resp, err := http.Get(srv.URL() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)

	resp, err := http.Get(srv.URL() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestWebSocketBroadcast(t *testing.T) {
	srv := startServer(t, &fakeEngine{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	srv.BroadcastCycle(record.SyncResult{Uploaded: 4, Downloaded: 1, Conflicts: 0})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeCycle {
		t.Fatalf("message type = %s, want cycle", msg.Type)
	}
	var cycle CycleData
	if err := json.Unmarshal(msg.Data, &cycle); err != nil {
		t.Fatalf("failed to unmarshal cycle data: %v", err)
	}
	if cycle.Uploaded != 4 || cycle.Downloaded != 1 {
		t.Errorf("cycle data = %+v", cycle)
	}

	srv.BroadcastTuning(power.Tuning{BatchSize: 5, BaseInterval: 10 * time.Minute})
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeTuning {
		t.Fatalf("message type = %s, want tuning", msg.Type)
	}
	var tuning TuningData
	if err := json.Unmarshal(msg.Data, &tuning); err != nil {
		t.Fatalf("failed to unmarshal tuning data: %v", err)
	}
	if tuning.BatchSize != 5 || tuning.BaseInterval != "10m0s" {
		t.Errorf("tuning data = %+v", tuning)
	}

	srv.BroadcastReachability(true)
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeReachability {
		t.Fatalf("message type = %s, want reachability", msg.Type)
	}
}

func TestStopClosesClients(t *testing.T) {
	srv, err := NewServer(&Config{Port: 0, Engine: &fakeEngine{}})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The client sees the close; a read after shutdown must fail.
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("read succeeded after server shutdown")
	}
}
