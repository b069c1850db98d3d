package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/ayonsaha2011/ipchat/internal/bus"
	"github.com/ayonsaha2011/ipchat/internal/store"
)

const (
	// Service is the mDNS service name without domain suffix.
	Service = "_ip-chat._tcp"
	// Domain is the mDNS browse domain.
	Domain = "local."
	// DefaultScanTimeout bounds each browse window.
	DefaultScanTimeout = 3 * time.Second
	// PeerTimeout is how long a peer survives without being seen.
	// Scans miss responses now and then; a peer is only gone once it
	// has been silent this long.
	PeerTimeout = 10 * time.Minute
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Directory advertises the local user over mDNS and maintains the live
// peer list from periodic browse scans. Peers are ephemeral: the map is
// the only record, nothing is persisted.
type Directory struct {
	localID   string
	localName string
	port      int
	refresh   time.Duration
	log       *zap.Logger
	bus       *bus.Bus

	registerFn registerFunc
	browseFn   browseFunc
	nowFn      func() time.Time

	mu    sync.RWMutex
	peers map[string]store.Peer

	server *zeroconf.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDirectory(localID, localName string, port int, refresh time.Duration, b *bus.Bus, log *zap.Logger) *Directory {
	return &Directory{
		localID:    localID,
		localName:  localName,
		port:       port,
		refresh:    refresh,
		log:        log.Named("discovery"),
		bus:        b,
		registerFn: zeroconf.Register,
		nowFn:      time.Now,
		peers:      make(map[string]store.Peer),
	}
}

// Start registers the mDNS service and begins the browse loop.
func (d *Directory) Start() error {
	if d.ctx != nil {
		return nil
	}

	txt := []string{
		"id=" + d.localID,
		"name=" + d.localName,
	}
	instance := "ip-chat-" + d.localID
	server, err := d.registerFn(instance, Service, Domain, d.port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mDNS: %w", err)
	}
	d.server = server

	if d.browseFn == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			d.server.Shutdown()
			d.server = nil
			return fmt.Errorf("mDNS resolver: %w", err)
		}
		d.browseFn = resolver.Browse
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.loop()

	d.log.Info("announced",
		zap.String("instance", instance),
		zap.Int("port", d.port))
	return nil
}

// Stop withdraws the announcement and halts scanning.
func (d *Directory) Stop() {
	if d.ctx == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.ctx = nil
	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
	}
}

// Rename updates the advertised display name.
func (d *Directory) Rename(name string) {
	d.mu.Lock()
	d.localName = name
	d.mu.Unlock()
	if d.server != nil {
		d.server.SetText([]string{
			"id=" + d.localID,
			"name=" + name,
		})
	}
}

// Snapshot returns the live peers, sorted by name then id.
func (d *Directory) Snapshot() []store.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]store.Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Resolve returns the dialable address for a live peer.
func (d *Directory) Resolve(peerID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[peerID]
	if !ok {
		return "", fmt.Errorf("peer %s is not on the network", peerID)
	}
	return p.Address, nil
}

func (d *Directory) loop() {
	defer d.wg.Done()

	d.scan()

	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.scan()
			d.expire()
		}
	}
}

// scan runs one browse window and folds the responses into the peer map.
func (d *Directory) scan() {
	ctx, cancel := context.WithTimeout(d.ctx, DefaultScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			d.observe(entry)
		}
	}()

	if err := d.browseFn(ctx, Service, Domain, entries); err != nil {
		d.log.Warn("browse failed", zap.Error(err))
		close(entries)
		<-done
		return
	}
	<-ctx.Done()
	<-done
}

// observe folds one mDNS response into the peer map.
func (d *Directory) observe(entry *zeroconf.ServiceEntry) {
	if entry == nil {
		return
	}
	txt := txtToMap(entry.Text)
	id := txt["id"]
	if id == "" || id == d.localID {
		return
	}

	var host string
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" {
		return
	}

	name := txt["name"]
	if name == "" {
		name = strings.TrimSuffix(entry.HostName, ".")
	}

	peer := store.Peer{
		ID:       id,
		Name:     name,
		Address:  net.JoinHostPort(host, strconv.Itoa(entry.Port)),
		LastSeen: d.nowFn().UnixMilli(),
	}

	d.mu.Lock()
	prev, known := d.peers[id]
	d.peers[id] = peer
	d.mu.Unlock()

	if !known || prev.Name != peer.Name || prev.Address != peer.Address {
		d.log.Info("peer seen",
			zap.String("id", peer.ID),
			zap.String("name", peer.Name),
			zap.String("addr", peer.Address))
		d.bus.Emit("peer.updated", peer)
	}
}

// expire drops peers that have been silent past PeerTimeout.
func (d *Directory) expire() {
	cutoff := d.nowFn().Add(-PeerTimeout).UnixMilli()

	d.mu.Lock()
	var gone []store.Peer
	for id, p := range d.peers {
		if p.LastSeen < cutoff {
			gone = append(gone, p)
			delete(d.peers, id)
		}
	}
	d.mu.Unlock()

	for _, p := range gone {
		d.log.Info("peer expired", zap.String("id", p.ID), zap.String("name", p.Name))
		d.bus.Emit("peer.removed", p)
	}
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, kv := range text {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
