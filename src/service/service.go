// Package service exposes the sync engine over a local HTTP API, which is
// what a UI in front of classlog talks to.
package service

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/classlog/classlog/src/pairing"
	"github.com/classlog/classlog/src/peers"
	"github.com/classlog/classlog/src/store"
	syncer "github.com/classlog/classlog/src/sync"
)

// Service wraps the peer registry, pairing coordinator, and orchestrator
// behind HTTP handlers.
type Service struct {
	sync.Mutex

	bindAddress  string
	peers        *peers.PeerSet
	coordinator  *pairing.Coordinator
	orchestrator *syncer.Orchestrator
	states       store.SyncStateStore
	logger       *logrus.Entry
}

// NewService creates a Service and registers its handlers.
func NewService(
	bindAddress string,
	peerSet *peers.PeerSet,
	coordinator *pairing.Coordinator,
	orchestrator *syncer.Orchestrator,
	states store.SyncStateStore,
	logger *logrus.Entry,
) *Service {
	service := Service{
		bindAddress:  bindAddress,
		peers:        peerSet,
		coordinator:  coordinator,
		orchestrator: orchestrator,
		states:       states,
		logger:       logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package.
func (s *Service) registerHandlers() {
	s.logger.Debug("registering classlog API handlers")
	http.HandleFunc("/status", s.makeHandler(s.GetStatus))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/pin", s.makeHandler(s.Pin))
	http.HandleFunc("/pairing-code", s.makeHandler(s.GetPairingCode))
	http.HandleFunc("/pair", s.makeHandler(s.Pair))
	http.HandleFunc("/sync", s.makeHandler(s.Sync))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("serving classlog API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// peerStatus is one entry of the /status and /peers responses.
type peerStatus struct {
	ID        string          `json:"id"`
	NetAddr   string          `json:"net_addr"`
	LastSeen  time.Time       `json:"last_seen"`
	State     string          `json:"state"`
	SyncState store.SyncState `json:"sync_state"`
}

func newPeerStatus(p peers.Peer, st store.SyncState) peerStatus {
	return peerStatus{
		ID:        p.ID,
		NetAddr:   p.NetAddr,
		LastSeen:  p.LastSeen,
		State:     p.State.String(),
		SyncState: st,
	}
}

// GetStatus returns the overall sync status.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	all := s.peers.All()

	status := struct {
		PeerCount int          `json:"peer_count"`
		Peers     []peerStatus `json:"peers"`
	}{
		PeerCount: len(all),
		Peers:     make([]peerStatus, 0, len(all)),
	}

	for _, p := range all {
		st, err := s.states.SyncState(p.ID)
		if err != nil {
			s.logger.WithField("error", err).Error("reading sync state")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		status.Peers = append(status.Peers, newPeerStatus(p, st))
	}

	s.writeJSON(w, status)
}

// GetPeers returns the peer registry.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	all := s.peers.All()

	res := make([]peerStatus, 0, len(all))
	for _, p := range all {
		st, err := s.states.SyncState(p.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		res = append(res, newPeerStatus(p, st))
	}

	s.writeJSON(w, res)
}

// Pin manages the pairing PIN: POST generates one, GET returns the current
// one, DELETE clears the cache.
func (s *Service) Pin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		pin, err := s.coordinator.GeneratePin()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, pin)
	case http.MethodGet:
		pin, ok := s.coordinator.CurrentPin()
		if !ok {
			http.Error(w, "no active PIN", http.StatusNotFound)
			return
		}
		s.writeJSON(w, pin)
	case http.MethodDelete:
		s.coordinator.ClearPins()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetPairingCode returns the long-lived pairing payload for QR or manual
// transfer.
func (s *Service) GetPairingCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.coordinator.GeneratePairingCode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, struct {
		Code string `json:"code"`
	}{Code: code})
}

// Pair processes a pairing input against an observed peer address.
func (s *Service) Pair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Input   string `json:"input"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	peerID, err := s.coordinator.ProcessPairingInput(req.Input, req.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, struct {
		PeerID string `json:"peer_id"`
	}{PeerID: peerID})
}

// Sync triggers one outbound sync round.
func (s *Service) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.orchestrator.SyncAll()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(err)
	}
}
