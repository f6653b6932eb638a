package mux

import (
	"sync"
)

// InMemoryRelayService is a reference RelayService suitable for tests and
// single-process deployments: it tracks hosted relays per NetworkID without
// any process-global state, unlike the prior implementation's static
// TcpRelayService registry.
type InMemoryRelayService struct {
	mu      sync.Mutex
	peers   map[NetworkID][]Endpoint   // known peer endpoints per network, for LookupPeers
	hosting map[*Connection][]NetworkID // bookkeeping for introspection/tests
}

// NewInMemoryRelayService returns an empty InMemoryRelayService.
func NewInMemoryRelayService() *InMemoryRelayService {
	return &InMemoryRelayService{
		peers:   make(map[NetworkID][]Endpoint),
		hosting: make(map[*Connection][]NetworkID),
	}
}

// Seed registers known peer endpoints for network, replacing any earlier
// list for it. Once any network is seeded, LookupPeers returns these
// endpoints, so a subsequent ConnectChannelBitChatNetwork synthesizes a
// TcpRelayResponsePeerList to the connecting peer.
func (s *InMemoryRelayService) Seed(network NetworkID, peers []Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[network] = append([]Endpoint(nil), peers...)
}

// LookupPeers implements RelayService. It returns every endpoint passed to
// Seed, across all seeded networks. channelName and exclude are not
// consulted, and Start adds no endpoints to the result.
func (s *InMemoryRelayService) LookupPeers(channelName ChannelName, exclude *Connection) []Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Endpoint
	for _, peers := range s.peers {
		out = append(out, peers...)
	}
	return out
}

type relayHandle struct {
	svc     *InMemoryRelayService
	conn    *Connection
	network NetworkID
}

func (h *relayHandle) Close() error {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	networks := h.svc.hosting[h.conn]
	for i, n := range networks {
		if n == h.network {
			h.svc.hosting[h.conn] = append(networks[:i], networks[i+1:]...)
			break
		}
	}
	return nil
}

// Start implements RelayService by recording that conn's remote peer is now
// hosted for network. trackers are accepted but not dialed out to; a real
// implementation would register with each tracker URI.
func (s *InMemoryRelayService) Start(network NetworkID, conn *Connection, trackers []string) (RelayHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosting[conn] = append(s.hosting[conn], network)
	return &relayHandle{svc: s, conn: conn, network: network}, nil
}
