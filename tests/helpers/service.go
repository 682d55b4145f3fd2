package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hbomb79/Tempo/internal"
	"github.com/hbomb79/Tempo/internal/api"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/stretchr/testify/require"
)

const (
	ServerBasePathTemplate = "%s://127.0.0.1:%d/api/tempo/v1/"
	ActivityPath           = "activity/ws/"
)

// TestService holds information about a Tempo instance
// running inside of the test process, which a test can make
// requests against.
type TestService struct {
	Port        int
	StorageRoot string
	ToolPath    string
}

// TempoRequest describes the Tempo instance a test requires.
type TempoRequest struct {
	// ToolScript is the body of the POSIX shell script used in
	// place of the extraction/download tool.
	ToolScript string
	WatchPath  string
}

// RequireTempo starts Tempo against a freshly provisioned database,
// with local storage in a temporary directory. Tempo is stopped when
// the test completes.
func RequireTempo(t *testing.T, req TempoRequest) *TestService {
	dbConfig := RequireDatabaseConfig(t)

	toolPath := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(toolPath, []byte(req.ToolScript), 0o755))

	service := &TestService{Port: freePort(t), StorageRoot: t.TempDir(), ToolPath: toolPath}
	config := internal.TempoConfig{
		Database: dbConfig,
		Storage: storage.Config{
			Default: storage.LOCAL,
			Local:   storage.LocalConfig{Root: service.StorageRoot},
		},
		Download: download.Config{Concurrency: 2, AudioFormat: "mp3", SearchResults: 1, MatchThreshold: 0.75},
		Ingest: ingest.Config{
			IngestionParallelism:      1,
			WatchPath:                 req.WatchPath,
			ForceSyncSeconds:          1,
			RequiredModTimeAgeSeconds: 0,
		},
		Extract:    internal.ExtractConfig{YtDlp: extract.YtDlpConfig{BinaryPath: toolPath}},
		RestConfig: api.RestConfig{HostAddr: fmt.Sprintf("127.0.0.1:%d", service.Port)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	tempo, err := internal.New(ctx, config)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tempo.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Logf("Tempo stopped with error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("Tempo did not stop within 10s of cancellation")
		}
	})

	if err := service.waitForHealthy(done, 100*time.Millisecond, 20*time.Second); err != nil {
		t.Fatalf("Tempo failed to become healthy: %v", err)
	}

	return service
}

func (service *TestService) GetServerBasePath() string {
	return fmt.Sprintf(ServerBasePathTemplate, "http", service.Port)
}

func (service *TestService) GetActivityURL() string {
	return fmt.Sprintf(ServerBasePathTemplate, "ws", service.Port) + ActivityPath
}

func (service *TestService) ConnectToActivitySocket(t *testing.T) *websocket.Conn {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial(service.GetActivityURL(), nil)
	if err != nil {
		t.Fatalf("failed to connect to activity socket: %s", err)
	}
	t.Cleanup(func() { ws.Close() })

	return ws
}

// Do performs a request against the API, decoding the JSON response
// in to 'out' (if not nil). The status code of the response is returned.
func (service *TestService) Do(t *testing.T, method string, path string, body any, out any) int {
	resp := service.doRequest(t, method, path, body)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (service *TestService) doRequest(t *testing.T, method string, path string, body any) *http.Response {
	reader := bytes.NewReader(nil)
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, service.GetServerBasePath()+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func (service *TestService) String() string {
	return fmt.Sprintf("TestService{port=%d storage=%s}", service.Port, service.StorageRoot)
}

// waitForHealthy will ping the service (every pollFrequency) until the timeout is reached.
// If no successful request has been made when the timeout is reached, then the most
// recent error is returned to the caller, indicating that the service failed to become
// healthy (i.e. the service is not accepting HTTP connections).
func (service *TestService) waitForHealthy(done chan error, pollFrequency time.Duration, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case err := <-done:
			done <- err
			return fmt.Errorf("service stopped before becoming healthy: %v", err)
		default:
		}

		resp, err := http.Get(service.GetServerBasePath() + "stats/")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(pollFrequency)
	}
}

func freePort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
