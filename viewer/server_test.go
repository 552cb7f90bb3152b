package viewer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/arenamcts/game"
	"github.com/brensch/arenamcts/selfplay"
	"github.com/brensch/arenamcts/store"
)

func result(id string, reward game.Reward) selfplay.GameResult {
	return selfplay.GameResult{
		GameID:  id,
		Game:    "tictactoe",
		Worker:  3,
		Plies:   7,
		Reward:  reward,
		Elapsed: 1500 * time.Millisecond,
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	s := NewServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Publish(result("abc", game.Player0Wins))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev GameEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, GameEvent{
		GameID:    "abc",
		Game:      "tictactoe",
		Worker:    3,
		Plies:     7,
		Result:    "win",
		Reward:    1,
		ElapsedMs: 1500,
	}, ev)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSlowClientDropped(t *testing.T) {
	h := NewHub(nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The client never reads, so its buffer and the socket eventually fill.
	big := strings.Repeat("x", 64<<10)
	require.Eventually(t, func() bool {
		h.Broadcast(big)
		return h.Clients() == 0
	}, 10*time.Second, time.Millisecond)
}

func TestRecentNewestFirst(t *testing.T) {
	s := NewServer("", nil)
	for _, id := range []string{"a", "b", "c"} {
		s.Publish(result(id, game.Draw))
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recent?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []GameEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].GameID)
	assert.Equal(t, "b", got[1].GameID)
	assert.Equal(t, "draw", got[0].Result)
}

func TestSummaryFromParquet(t *testing.T) {
	dir := t.TempDir()
	_, err := store.WriteBatchParquetAtomic(dir, []store.TrainingRow{
		{GameID: "g1", Game: "tictactoe", Ply: 0, Result: -1},
		{GameID: "g1", Game: "tictactoe", Ply: 1, Result: -1},
	})
	require.NoError(t, err)

	s := NewServer(dir, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got []store.GameSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "tictactoe", got[0].Game)
	assert.EqualValues(t, 1, got[0].Games)
	assert.EqualValues(t, 2, got[0].Rows)
}

func TestMetricsRoute(t *testing.T) {
	s := NewServer("", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer("", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recent", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
