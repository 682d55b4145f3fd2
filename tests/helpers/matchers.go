package helpers

import (
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/hbomb79/Tempo/internal/http/websocket"
	"github.com/hbomb79/go-chanassert"
	"github.com/stretchr/testify/require"
)

// MatchSocketMessage returns a matcher which will match messages which have
// the title provided and are broadcast updates.
func MatchSocketMessage(title string) chanassert.Matcher[websocket.SocketMessage] {
	return chanassert.MatchStructPartial(websocket.SocketMessage{Title: title, Type: websocket.Update})
}

// MatchIngestUpdate returns a chanassert matcher which will
// match any websocket messages regarding ingestion updates
// which contain the given ingest in the state provided.
func MatchIngestUpdate(ingestID string, state string) chanassert.Matcher[websocket.SocketMessage] {
	return chanassert.MatchPredicate(func(message websocket.SocketMessage) bool {
		if message.Title != websocket.TitleIngestUpdate {
			return false
		}

		update, ok := message.Body["arguments"].(map[string]any)
		if !ok {
			return false
		}
		updatedIngest, ok := update["ingest"].(map[string]any)
		if !ok {
			return false
		}

		return updatedIngest["id"] == ingestID && updatedIngest["state"] == state
	})
}

// AwaitSocketMessage reads messages from the connection until one satisfies
// the matcher, failing the test if none does within the timeout.
func AwaitSocketMessage(t *testing.T, conn *gorilla.Conn, matcher chanassert.Matcher[websocket.SocketMessage], timeout time.Duration) websocket.SocketMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var message websocket.SocketMessage
		if err := conn.ReadJSON(&message); err != nil {
			t.Fatalf("no matching socket message received: %v", err)
		}

		if matcher.DoesMatch(message) {
			return message
		}
	}
}
