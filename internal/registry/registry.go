// Package registry implements the user registry and Winlink forwarder
// capability set (spec §2 C17): a callsign→home-node map persisted to a
// JSON file, kept in sync across the backbone via REGISTRY_UPDATE
// packets, and exposed to an (out-of-scope) Winlink mailbox component
// through a narrow capability interface rather than a direct coordinator
// reference (spec §9's cyclic-reference redesign note).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/na4wx/nexdigi/internal/callsign"
	"github.com/na4wx/nexdigi/internal/coordinator"
	"github.com/na4wx/nexdigi/internal/events"
	"github.com/na4wx/nexdigi/internal/wire"
)

// Entry is one user registry record (spec §3, §6 file schema).
type Entry struct {
	Callsign  string    `json:"callsign"`
	HomeNode  string    `json:"homeNode"`
	Timestamp time.Time `json:"timestamp"`
	Services  []string  `json:"services"`
}

// Sender is the set of coordinator capabilities the registry itself
// needs: broadcast a REGISTRY_UPDATE, and forward a DATA packet on behalf
// of the Forwarder it hosts.
type Sender interface {
	SendRaw(p wire.Packet) (wire.MessageID, error)
	SendData(destination callsign.Callsign, payload []byte, opts coordinator.SendOptions) (wire.MessageID, error)
}

// Registry is the C17 callsign→home-node map.
type Registry struct {
	mu     sync.RWMutex
	self   callsign.Callsign
	fs     afero.Fs
	path   string
	send   Sender
	logger zerolog.Logger

	entries map[string]Entry

	// OnUpdate fires for every entry that is added, changed by a local
	// RegisterUser call, or merged in from a peer's REGISTRY_UPDATE.
	OnUpdate events.Broker[Entry]
}

// New constructs a Registry, loading any existing persisted file at path.
// A missing file is not an error: the registry starts empty.
func New(self callsign.Callsign, fs afero.Fs, path string, send Sender, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		self:    self,
		fs:      fs,
		path:    path,
		send:    send,
		logger:  logger.With().Str("component", "registry").Logger(),
		entries: make(map[string]Entry),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := afero.ReadFile(r.fs, r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("registry: decode %s: %w", r.path, err)
	}

	r.mu.Lock()
	for _, e := range entries {
		r.entries[e.Callsign] = e
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) persist() error {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Callsign < entries[j].Callsign })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	return afero.WriteFile(r.fs, r.path, data, 0o644)
}

// RegisterUser records cs as reachable via homeNode offering services,
// persists the registry, and broadcasts a REGISTRY_UPDATE so other nodes
// learn of the change (spec §6: "registerUser(callsign, options)").
func (r *Registry) RegisterUser(cs, homeNode callsign.Callsign, services []string) error {
	entry := Entry{
		Callsign:  cs.String(),
		HomeNode:  homeNode.String(),
		Timestamp: time.Now(),
		Services:  services,
	}

	r.mu.Lock()
	r.entries[entry.Callsign] = entry
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return err
	}
	r.OnUpdate.Publish(entry)
	return r.broadcast()
}

// UnregisterUser removes cs from the registry (spec §6:
// "unregisterUser(callsign)").
func (r *Registry) UnregisterUser(cs callsign.Callsign) error {
	r.mu.Lock()
	delete(r.entries, cs.String())
	r.mu.Unlock()
	return r.persist()
}

// GetUserHomeNode answers whether cs is known, and if so which node
// currently hosts it (spec §6: "getUserHomeNode(callsign)").
func (r *Registry) GetUserHomeNode(cs callsign.Callsign) (callsign.Callsign, bool) {
	r.mu.RLock()
	e, ok := r.entries[cs.String()]
	r.mu.RUnlock()
	if !ok {
		return callsign.Callsign{}, false
	}
	home, err := callsign.Parse(e.HomeNode)
	return home, err == nil
}

type registryUpdateBody struct {
	FromNode  string         `json:"fromNode"`
	Timestamp time.Time      `json:"timestamp"`
	Users     []registryUser `json:"users"`
}

type registryUser struct {
	Callsign  string    `json:"callsign"`
	HomeNode  string    `json:"homeNode"`
	Timestamp time.Time `json:"timestamp"`
	Services  []string  `json:"services"`
}

func (r *Registry) broadcast() error {
	r.mu.RLock()
	users := make([]registryUser, 0, len(r.entries))
	for _, e := range r.entries {
		users = append(users, registryUser{Callsign: e.Callsign, HomeNode: e.HomeNode, Timestamp: e.Timestamp, Services: e.Services})
	}
	r.mu.RUnlock()

	payload, err := json.Marshal(registryUpdateBody{FromNode: r.self.String(), Timestamp: time.Now(), Users: users})
	if err != nil {
		return fmt.Errorf("registry: encode registry_update: %w", err)
	}

	p := wire.New(wire.TypeRegistryUpdate, r.self, callsign.MustParse(callsign.CQ))
	p.Payload = payload
	_, err = r.send.SendRaw(p)
	return err
}

// HandleRegistryUpdate merges a peer's REGISTRY_UPDATE into the local
// registry (spec §4.15: "REGISTRY_UPDATE → hand to user registry"). An
// incoming entry older than or equal to the locally-held one for the same
// callsign is ignored, so replayed or out-of-order updates never regress
// a more recent local record.
func (r *Registry) HandleRegistryUpdate(p wire.Packet) error {
	var body registryUpdateBody
	if err := json.Unmarshal(p.Payload, &body); err != nil {
		return fmt.Errorf("registry: malformed registry_update: %w", err)
	}

	changed := false
	for _, u := range body.Users {
		entry := Entry{Callsign: u.Callsign, HomeNode: u.HomeNode, Timestamp: u.Timestamp, Services: u.Services}

		r.mu.Lock()
		existing, ok := r.entries[entry.Callsign]
		if ok && !entry.Timestamp.After(existing.Timestamp) {
			r.mu.Unlock()
			continue
		}
		r.entries[entry.Callsign] = entry
		r.mu.Unlock()

		changed = true
		r.OnUpdate.Publish(entry)
	}

	if !changed {
		return nil
	}
	return r.persist()
}

// Forwarder is the capability set an (out-of-scope) Winlink mailbox
// component needs: look up a user's current home node, and forward a
// message there. It is the only thing such a component ever depends on,
// never the Registry or the coordinator directly.
type Forwarder struct {
	registry *Registry
	send     Sender
}

// NewForwarder builds the Winlink-facing capability set.
func NewForwarder(r *Registry, send Sender) Forwarder {
	return Forwarder{registry: r, send: send}
}

// GetUserHomeNode satisfies spec §6's "getUserHomeNode(callsign)".
func (f Forwarder) GetUserHomeNode(cs callsign.Callsign) (callsign.Callsign, bool) {
	return f.registry.GetUserHomeNode(cs)
}

// SendData forwards payload to destination, the capability a Winlink
// mailbox needs without ever importing the coordinator package.
func (f Forwarder) SendData(destination callsign.Callsign, payload []byte, requireAck bool) (wire.MessageID, error) {
	return f.send.SendData(destination, payload, coordinator.SendOptions{RequireAck: requireAck})
}
