package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

func assertIndexConsistent(t *testing.T, r *Registry) {
	t.Helper()
	st := r.Stats()
	if st.Indexed != st.Sessions {
		t.Fatalf("index size %d != session total %d", st.Indexed, st.Sessions)
	}
}

func TestTwoSessionsGarbageCollection(t *testing.T) {
	r := NewRegistry()
	r.ConnectSession("s1", "u1", "Alice")
	r.ConnectSession("s2", "u1", "Alice")

	if uid, gone := r.DisconnectSession("s1"); uid != "u1" || gone {
		t.Fatalf("first close: uid=%q gone=%v", uid, gone)
	}
	if !r.Online("u1") {
		t.Fatalf("u1 should still be online")
	}
	if snap := r.Snapshot(); len(snap) != 1 || snap[0].UserID != "u1" {
		t.Fatalf("snapshot after first close: %+v", snap)
	}

	if uid, gone := r.DisconnectSession("s2"); uid != "u1" || !gone {
		t.Fatalf("second close: uid=%q gone=%v", uid, gone)
	}
	if r.Online("u1") || len(r.Snapshot()) != 0 {
		t.Fatalf("u1 should be gone")
	}
	if st := r.Stats(); st.Users != 0 || st.Indexed != 0 {
		t.Fatalf("stats not empty: %+v", st)
	}
}

func TestDisconnectSessionUnknown(t *testing.T) {
	r := NewRegistry()
	if uid, gone := r.DisconnectSession("nope"); uid != "" || gone {
		t.Fatalf("unknown session: uid=%q gone=%v", uid, gone)
	}
}

func TestConnectSessionRebind(t *testing.T) {
	r := NewRegistry()
	r.ConnectSession("s1", "u1", "Alice")
	r.ConnectSession("s1", "u2", "Bob")

	if r.Online("u1") {
		t.Fatalf("u1 lost its only session and should be removed")
	}
	if !r.Online("u2") {
		t.Fatalf("u2 should own s1")
	}
	assertIndexConsistent(t, r)
}

func TestDisconnectUser(t *testing.T) {
	r := NewRegistry()
	r.ConnectSession("s1", "u1", "Alice")
	r.ConnectSession("s2", "u1", "Alice")
	r.ConnectSession("s3", "u2", "Bob")

	if !r.Disconnect("u1") {
		t.Fatalf("Disconnect(u1) = false")
	}
	if r.Disconnect("u1") {
		t.Fatalf("second Disconnect(u1) = true")
	}
	if st := r.Stats(); st.Users != 1 || st.Indexed != 1 {
		t.Fatalf("stats after disconnect: %+v", st)
	}
	if uid, _ := r.DisconnectSession("s2"); uid != "" {
		t.Fatalf("s2 should have been unindexed, got owner %q", uid)
	}
}

func TestConnectWithoutSessionIsNotOnline(t *testing.T) {
	r := NewRegistry()
	r.Connect("u1", "Alice")
	if r.Online("u1") {
		t.Fatalf("a user without sessions is not online")
	}
	if name, ok := r.DisplayName("u1"); !ok || name != "Alice" {
		t.Fatalf("DisplayName = %q, %v", name, ok)
	}
	r.ConnectSession("s1", "u1", "")
	if name, _ := r.DisplayName("u1"); name != "Alice" {
		t.Fatalf("empty name must not overwrite, got %q", name)
	}
}

func TestSnapshotSortedAndInGame(t *testing.T) {
	r := NewRegistry()
	r.ConnectSession("s3", "carol", "Carol")
	r.ConnectSession("s1", "alice", "Alice")
	r.ConnectSession("s2", "bob", "Bob")
	r.SetInGame(true, "alice", "bob", "ghost")

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if snap[i].UserID != want {
			t.Fatalf("snap[%d] = %q, want %q", i, snap[i].UserID, want)
		}
	}
	if !snap[0].InGame || !snap[1].InGame || snap[2].InGame {
		t.Fatalf("inGame flags wrong: %+v", snap)
	}
	r.SetInGame(false, "alice")
	if r.InGame("alice") || !r.InGame("bob") {
		t.Fatalf("SetInGame(false) not applied")
	}
}

func TestIndexInvariantUnderConcurrency(t *testing.T) {
	r := NewRegistry()
	const workers = 16
	const ops = 500

	var wg sync.WaitGroup
	stop := make(chan struct{})
	observed := make(chan Stats, 1024)

	go func() {
		for {
			select {
			case <-stop:
				close(observed)
				return
			default:
				observed <- r.Stats()
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < ops; i++ {
				sid := fmt.Sprintf("s%d", rng.Intn(64))
				uid := fmt.Sprintf("u%d", rng.Intn(8))
				switch rng.Intn(4) {
				case 0, 1:
					r.ConnectSession(sid, uid, uid)
				case 2:
					r.DisconnectSession(sid)
				case 3:
					if rng.Intn(10) == 0 {
						r.Disconnect(uid)
					} else {
						r.Snapshot()
					}
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		for st := range observed {
			if st.Indexed != st.Sessions {
				t.Errorf("observed index %d != sessions %d", st.Indexed, st.Sessions)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(stop)
	<-done
	assertIndexConsistent(t, r)
}
