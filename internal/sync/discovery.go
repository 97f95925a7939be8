package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	gosync "sync"
	"time"

	"fabula/internal/logging"
)

// discoveryRequest is the magic probe a searching device broadcasts.
var discoveryRequest = []byte("FABULA_DISCOVER")

// Responder answers UDP discovery probes with this server's connection info.
// The hosting device listens on a fixed port; searchers only ever send
// outbound broadcasts, which keeps firewalls out of the way.
type Responder struct {
	mu       gosync.Mutex
	response DiscoveryResponse
	payload  []byte

	conn   *net.UDPConn
	doneCh chan struct{}
}

// NewResponder creates a discovery responder advertising the given info.
func NewResponder(response DiscoveryResponse) *Responder {
	if response.App == "" {
		response.App = AppIdentifier
	}
	if response.Port == 0 {
		response.Port = SyncPort
	}
	return &Responder{response: response, doneCh: make(chan struct{})}
}

// Start binds the discovery port and begins answering probes. addr is
// normally ":55556"; tests pass ":0".
func (r *Responder) Start(addr string) error {
	if addr == "" {
		addr = fmt.Sprintf(":%d", DiscoveryPort)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("discovery addr %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("discovery bind %s: %w", addr, err)
	}
	r.conn = conn

	payload, err := json.Marshal(r.response)
	if err != nil {
		conn.Close()
		return fmt.Errorf("discovery payload: %w", err)
	}
	r.mu.Lock()
	r.payload = payload
	r.mu.Unlock()

	go r.serve()
	logging.Sync("discovery responder listening on %s", conn.LocalAddr())
	return nil
}

// SetDeviceName updates the advertised device name; later probe replies carry
// the new name. Used when the config hot-reloads while the server is up.
func (r *Responder) SetDeviceName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || name == r.response.DeviceName {
		return
	}
	r.response.DeviceName = name
	if data, err := json.Marshal(r.response); err == nil {
		r.payload = data
	}
}

func (r *Responder) currentPayload() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

// Addr returns the bound address, or nil before Start.
func (r *Responder) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop closes the socket and waits for the serve loop to exit.
func (r *Responder) Stop() {
	if r.conn == nil {
		return
	}
	r.conn.Close()
	<-r.doneCh
}

func (r *Responder) serve() {
	defer close(r.doneCh)

	buf := make([]byte, 256)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.SyncDebug("discovery read: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if n < len(discoveryRequest) || string(buf[:len(discoveryRequest)]) != string(discoveryRequest) {
			continue
		}
		logging.SyncDebug("discovery probe from %s", src)
		// Unicast the connection info back to the prober.
		if _, err := r.conn.WriteToUDP(r.currentPayload(), src); err != nil {
			logging.SyncDebug("discovery reply to %s: %v", src, err)
		}
	}
}
