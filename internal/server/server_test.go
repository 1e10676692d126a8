package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/matey-server/internal/board"
	"github.com/park285/matey-server/internal/challenge"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/lobby"
	"github.com/park285/matey-server/internal/matchqueue"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/presence"
	"github.com/park285/matey-server/internal/store/memstore"
	"github.com/park285/matey-server/internal/store/sqlstore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	reg     *presence.Registry
	archive *sqlstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	archive, err := sqlstore.Open(context.Background(), "sqlite://:memory:")
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	reg := presence.NewRegistry()
	st := memstore.New()
	hub := NewHub(0)
	events := notify.NewBroadcaster(hub, reg)
	mgr := game.NewManager(st, archive, reg, events,
		game.WithArchive(archive),
		game.WithCoin(func() bool { return true }),
	)
	lb := lobby.New(reg, matchqueue.NewMemory(), mgr, challenge.NewManager(), events)
	srv := New(Deps{
		Lobby:   lb,
		Games:   mgr,
		Hub:     hub,
		Results: archive,
		Users:   archive,
		Checks: []Check{{Name: "db", Run: func(ctx context.Context) error {
			return archive.DB().PingContext(ctx)
		}}},
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, reg: reg, archive: archive}
}

func (e *testEnv) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?userId=" + userID + "&username=" + username
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	e.waitFor(t, func() bool { return e.reg.Online(userID) })
	return c
}

func (e *testEnv) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, c *websocket.Conn, frame map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil skips topic broadcasts and returns the first frame of type typ.
func readUntil(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var m map[string]any
		if err := wsjson.Read(ctx, c, &m); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if _, ok := m["topic"]; ok {
			continue
		}
		if m["type"] == typ {
			return m
		}
		t.Fatalf("want %s, got %v", typ, m)
	}
}

func TestWebSocketGameFlow(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice", "Alice")
	bob := e.dial(t, "bob", "Bob")

	send(t, alice, map[string]any{"type": OpGameFind})
	ack := readUntil(t, alice, string(TypeAck))
	if ack["op"] != OpGameFind || ack["queued"] != true {
		t.Fatalf("find ack = %v", ack)
	}

	send(t, bob, map[string]any{"type": OpGameFind})
	bs := readUntil(t, bob, string(notify.TypeGameStarted))
	as := readUntil(t, alice, string(notify.TypeGameStarted))
	if as["isWhite"] != true || bs["isWhite"] != false {
		t.Fatalf("colors: alice=%v bob=%v", as["isWhite"], bs["isWhite"])
	}
	if as["opponent"] != "Bob" || bs["opponent"] != "Alice" {
		t.Fatalf("opponents: %v %v", as["opponent"], bs["opponent"])
	}
	gameID, _ := as["gameId"].(string)
	if gameID == "" || bs["gameId"] != gameID {
		t.Fatalf("game ids: %v %v", as["gameId"], bs["gameId"])
	}

	send(t, bob, map[string]any{"type": OpGameMove, "gameId": gameID, "move": map[string]string{"from": "e7", "to": "e5"}})
	if got := readUntil(t, bob, string(notify.TypeError)); got["code"] != CodeNotYourTurn {
		t.Fatalf("out of turn = %v", got)
	}

	send(t, alice, map[string]any{"type": OpGameMove, "gameId": gameID, "move": map[string]string{"from": "e2", "to": "e4"}})
	if got := readUntil(t, alice, string(TypeAck)); got["gameId"] != gameID {
		t.Fatalf("move ack = %v", got)
	}
	mm := readUntil(t, bob, string(notify.TypeMoveMade))
	if mv, _ := mm["move"].(map[string]any); mv["from"] != "e2" || mv["to"] != "e4" {
		t.Fatalf("move made = %v", mm)
	}

	resp, err := http.Get(e.http.URL + "/games/" + gameID + "/board.png?size=16")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("board status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	send(t, alice, map[string]any{"type": OpGameResign, "gameId": gameID})
	end := readUntil(t, bob, string(notify.TypeGameEnded))
	if end["gameId"] != gameID || end["winner"] != string(game.WinnerBlack) {
		t.Fatalf("game ended = %v", end)
	}
	readUntil(t, alice, string(notify.TypeGameEnded))

	var list []sqlstore.Result
	getJSON(t, e.http.URL+"/users/alice/games", http.StatusOK, &list)
	if len(list) != 1 || list[0].GameID != gameID || list[0].Result != "0-1" {
		t.Fatalf("archive = %+v", list)
	}
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(t, "carol", "Carol")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readUntil(t, c, string(notify.TypeError)); got["code"] != CodeBadRequest {
		t.Fatalf("malformed = %v", got)
	}

	send(t, c, map[string]any{"type": "game.teleport"})
	if got := readUntil(t, c, string(notify.TypeError)); got["code"] != CodeUnknownType {
		t.Fatalf("unknown = %v", got)
	}

	send(t, c, map[string]any{"type": OpGameMove, "gameId": "g"})
	if got := readUntil(t, c, string(notify.TypeError)); got["code"] != CodeBadRequest {
		t.Fatalf("missing move = %v", got)
	}

	send(t, c, map[string]any{"type": OpChallengeCreate, "targetId": "carol"})
	if got := readUntil(t, c, string(notify.TypeError)); got["code"] != CodeSelfChallenge {
		t.Fatalf("self challenge = %v", got)
	}
}

func TestChallengeOverWebSocket(t *testing.T) {
	e := newTestEnv(t)
	alice := e.dial(t, "alice", "Alice")
	bob := e.dial(t, "bob", "Bob")

	send(t, alice, map[string]any{"type": OpChallengeCreate, "targetId": "bob"})
	ack := readUntil(t, alice, string(TypeAck))
	id, _ := ack["challengeId"].(string)
	if id == "" {
		t.Fatalf("challenge ack = %v", ack)
	}
	got := readUntil(t, bob, string(notify.TypeChallengeReceived))
	if got["challengeId"] != id || got["from"] != "alice" || got["fromName"] != "Alice" {
		t.Fatalf("challenge received = %v", got)
	}

	send(t, bob, map[string]any{"type": OpChallengeDecline, "challengeId": id})
	readUntil(t, bob, string(TypeAck))
	if got := readUntil(t, alice, string(notify.TypeChallengeDeclined)); got["by"] != "bob" {
		t.Fatalf("declined = %v", got)
	}

	send(t, bob, map[string]any{"type": OpChallengeAccept, "challengeId": id})
	if got := readUntil(t, bob, string(notify.TypeError)); got["code"] != CodeNoPending {
		t.Fatalf("accept declined = %v", got)
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	e := newTestEnv(t)
	c := e.dial(t, "dave", "Dave")

	var online []presence.Entry
	getJSON(t, e.http.URL+"/online", http.StatusOK, &online)
	if len(online) != 1 || online[0].UserID != "dave" || online[0].DisplayName != "Dave" {
		t.Fatalf("online = %+v", online)
	}

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	e.waitFor(t, func() bool { return !e.reg.Online("dave") })

	u, err := e.archive.FindUser(context.Background(), "dave")
	if err != nil || u == nil || u.Username != "Dave" {
		t.Fatalf("directory user = %+v, %v", u, err)
	}
}

func TestHandshakeRequiresIdentity(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.http.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRESTRoutes(t *testing.T) {
	e := newTestEnv(t)

	var health map[string]any
	getJSON(t, e.http.URL+"/healthz", http.StatusOK, &health)
	if health["ok"] != true {
		t.Fatalf("health = %v", health)
	}

	var nf map[string]string
	getJSON(t, e.http.URL+"/games/missing/board.png", http.StatusNotFound, &nf)
	if nf["error"] != CodeGameNotFound {
		t.Fatalf("board 404 = %v", nf)
	}

	var empty []sqlstore.Result
	getJSON(t, e.http.URL+"/users/nobody/games", http.StatusOK, &empty)
	if len(empty) != 0 {
		t.Fatalf("archive = %v", empty)
	}
}

func TestHealthReportsFailingCheck(t *testing.T) {
	srv := New(Deps{Checks: []Check{{Name: "redis", Run: func(context.Context) error {
		return errors.New("connection refused")
	}}}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/u/games", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("archive disabled status = %d", rec.Code)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("get %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("load: %w", game.ErrGameNotFound), CodeGameNotFound},
		{game.ErrNotYourTurn, CodeNotYourTurn},
		{game.ErrNotParticipant, CodeNotParticipant},
		{fmt.Errorf("%w: e3", board.ErrEmptySource), CodeEmptySource},
		{board.ErrIllegalMove, CodeIllegalMove},
		{lobby.ErrAlreadyInGame, CodeAlreadyInGame},
		{challenge.ErrSelfChallenge, CodeSelfChallenge},
		{game.ErrSelfMatch, CodeSelfChallenge},
		{challenge.ErrNoPending, CodeNoPending},
		{matchqueue.ErrContention, CodeBusy},
		{fmt.Errorf("save game g1: %w", game.ErrConflict), CodeConflict},
		{fmt.Errorf("%w: boom", game.ErrDelivery), ""},
		{fmt.Errorf("notify: %w: %w", notify.ErrUndelivered, errors.New("closed")), ""},
		{errors.New("disk full"), CodeInternal},
	}
	for _, c := range cases {
		if got := errorCode(c.err); got != c.want {
			t.Errorf("errorCode(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestResultKeepsSuccessOnDeliveryError(t *testing.T) {
	s := New(Deps{})
	ok := ack(OpGameMove)
	if got := s.result(OpGameMove, ok, fmt.Errorf("%w: gone", game.ErrDelivery)); got != ok {
		t.Fatalf("result = %v", got)
	}
	got := s.result(OpGameMove, ok, errors.New("disk full"))
	if e, isErr := got.(notify.Error); !isErr || e.Code != CodeInternal || e.Message != "internal error" {
		t.Fatalf("internal = %v", got)
	}
}
