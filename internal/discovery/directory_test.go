package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
)

func testDirectory(t *testing.T) (*Directory, *bus.Bus, *time.Time) {
	t.Helper()
	b := bus.New()
	d := NewDirectory("user-aaaaaaaa", "alice", 8765, time.Second, b, zap.NewNop())

	now := time.Unix(1_700_000_000, 0)
	d.nowFn = func() time.Time { return now }
	return d, b, &now
}

func entry(id, name, ip string, port int) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{Port: port}
	e.Text = []string{"id=" + id, "name=" + name}
	e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	return e
}

func TestObserveAddsPeer(t *testing.T) {
	d, b, _ := testDirectory(t)
	events, unsub := b.Subscribe("peer.", 8)
	defer unsub()

	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))

	peers := d.Snapshot()
	if len(peers) != 1 {
		t.Fatalf("snapshot has %d peers, want 1", len(peers))
	}
	if peers[0].Name != "bob" {
		t.Errorf("name = %q, want bob", peers[0].Name)
	}
	if peers[0].Address != "192.168.1.20:8765" {
		t.Errorf("address = %q", peers[0].Address)
	}

	select {
	case evt := <-events:
		if evt.Kind != "peer.updated" {
			t.Errorf("event kind = %s", evt.Kind)
		}
	default:
		t.Error("no peer.updated event")
	}
}

func TestObserveIgnoresSelf(t *testing.T) {
	d, _, _ := testDirectory(t)
	d.observe(entry("user-aaaaaaaa", "alice", "192.168.1.10", 8765))
	if len(d.Snapshot()) != 0 {
		t.Error("directory recorded the local user as a peer")
	}
}

func TestObserveRefreshIsQuiet(t *testing.T) {
	d, b, _ := testDirectory(t)
	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))

	events, unsub := b.Subscribe("peer.", 8)
	defer unsub()

	// Same peer, unchanged metadata: LastSeen moves but no event fires.
	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))
	select {
	case evt := <-events:
		t.Errorf("unexpected event %s for unchanged peer", evt.Kind)
	default:
	}

	// A renamed peer does fire.
	d.observe(entry("user-bbbbbbbb", "robert", "192.168.1.20", 8765))
	select {
	case <-events:
	default:
		t.Error("no event for renamed peer")
	}
}

func TestSnapshotSortedByName(t *testing.T) {
	d, _, _ := testDirectory(t)
	d.observe(entry("user-cccccccc", "carol", "192.168.1.30", 8765))
	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))

	peers := d.Snapshot()
	if peers[0].Name != "bob" || peers[1].Name != "carol" {
		t.Errorf("order = [%s %s], want [bob carol]", peers[0].Name, peers[1].Name)
	}
}

func TestResolve(t *testing.T) {
	d, _, _ := testDirectory(t)
	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))

	addr, err := d.Resolve("user-bbbbbbbb")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "192.168.1.20:8765" {
		t.Errorf("addr = %q", addr)
	}
	if _, err := d.Resolve("user-gone"); err == nil {
		t.Error("resolving an unknown peer should fail")
	}
}

func TestExpireDropsSilentPeers(t *testing.T) {
	d, b, now := testDirectory(t)
	d.observe(entry("user-bbbbbbbb", "bob", "192.168.1.20", 8765))

	events, unsub := b.Subscribe("peer.removed", 8)
	defer unsub()

	// Just inside the timeout: still here.
	*now = now.Add(PeerTimeout - time.Second)
	d.expire()
	if len(d.Snapshot()) != 1 {
		t.Fatal("peer expired too early")
	}

	// Past it: gone, with an event.
	*now = now.Add(2 * time.Second)
	d.expire()
	if len(d.Snapshot()) != 0 {
		t.Fatal("silent peer not expired")
	}
	select {
	case evt := <-events:
		if evt.Kind != "peer.removed" {
			t.Errorf("event kind = %s", evt.Kind)
		}
	default:
		t.Error("no peer.removed event")
	}
}

func TestStartStop(t *testing.T) {
	d, _, _ := testDirectory(t)
	d.registerFn = func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		return nil, nil
	}
	d.browseFn = func(ctx context.Context, _, _ string, entries chan<- *zeroconf.ServiceEntry) error {
		go func() {
			<-ctx.Done()
			close(entries)
		}()
		return nil
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil { // second Start is a no-op
		t.Fatal(err)
	}
	d.Stop()
	d.Stop() // and so is a second Stop
}
