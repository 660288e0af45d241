// Package credentials stores named peer profiles for the dicomul client:
// where a remote acceptor lives, which AE titles to use and the identity
// to present.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// DefaultConfigDir is the directory under $XDG_CONFIG_HOME.
	DefaultConfigDir = "dicomul"
	// FileName is the name of the peers file.
	FileName = "peers.json"
	// FilePermissions for the peers file (read/write for owner only).
	FilePermissions = 0600
	// DirPermissions for the config directory.
	DirPermissions = 0700
)

var (
	// ErrNoCurrentPeer indicates no peer is currently selected.
	ErrNoCurrentPeer = errors.New("no current peer set - run 'dicomul peer use' first")
	// ErrPeerNotFound indicates the requested peer doesn't exist.
	ErrPeerNotFound = errors.New("peer not found")
)

// Identity types a peer may present.
const (
	IdentityNone     = ""
	IdentityUsername = "username"
	IdentityPassword = "password"
	IdentityJWT      = "jwt"
)

// Peer is a saved remote acceptor.
type Peer struct {
	Address        string `json:"address"`
	CallingAETitle string `json:"calling_ae,omitempty"`
	CalledAETitle  string `json:"called_ae,omitempty"`

	// IdentityType selects which of Username, Password or Token is sent.
	IdentityType string    `json:"identity_type,omitempty"`
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// TokenExpired reports whether the saved token is missing or expires within
// a minute.
func (p *Peer) TokenExpired() bool {
	if p.Token == "" || p.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(60 * time.Second).After(p.ExpiresAt)
}

type file struct {
	CurrentPeer string           `json:"current_peer"`
	Peers       map[string]*Peer `json:"peers"`
}

// Store manages the peers file.
type Store struct {
	path string
	data *file
}

// NewStore opens the peers file under $XDG_CONFIG_HOME/dicomul, starting
// empty when it does not exist.
func NewStore() (*Store, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Open opens the peers file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.data = &file{Peers: make(map[string]*Peer)}
	}
	return s, nil
}

func defaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, FileName), nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	s.data = &file{}
	if err := json.Unmarshal(data, s.data); err != nil {
		return fmt.Errorf("invalid peers file %s: %w", s.path, err)
	}
	if s.data.Peers == nil {
		s.data.Peers = make(map[string]*Peer)
	}
	return nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, FilePermissions)
}

// Path returns the path of the peers file.
func (s *Store) Path() string {
	return s.path
}

// Current returns the selected peer and its name.
func (s *Store) Current() (string, *Peer, error) {
	name := s.data.CurrentPeer
	if name == "" {
		return "", nil, ErrNoCurrentPeer
	}
	p, ok := s.data.Peers[name]
	if !ok {
		return "", nil, ErrPeerNotFound
	}
	return name, p, nil
}

// CurrentName returns the selected peer name, or "".
func (s *Store) CurrentName() string {
	return s.data.CurrentPeer
}

// Get returns a peer by name.
func (s *Store) Get(name string) (*Peer, error) {
	p, ok := s.data.Peers[name]
	if !ok {
		return nil, ErrPeerNotFound
	}
	return p, nil
}

// List returns the peer names in sorted order.
func (s *Store) List() []string {
	names := make([]string, 0, len(s.data.Peers))
	for name := range s.data.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set creates or replaces a peer. The first peer saved becomes current.
func (s *Store) Set(name string, p *Peer) error {
	if name == "" {
		return errors.New("peer name is required")
	}
	s.data.Peers[name] = p
	if s.data.CurrentPeer == "" {
		s.data.CurrentPeer = name
	}
	return s.save()
}

// Use selects the current peer.
func (s *Store) Use(name string) error {
	if _, ok := s.data.Peers[name]; !ok {
		return ErrPeerNotFound
	}
	s.data.CurrentPeer = name
	return s.save()
}

// Delete removes a peer, clearing the selection if it was current.
func (s *Store) Delete(name string) error {
	if _, ok := s.data.Peers[name]; !ok {
		return ErrPeerNotFound
	}
	delete(s.data.Peers, name)
	if s.data.CurrentPeer == name {
		s.data.CurrentPeer = ""
	}
	return s.save()
}

// SetToken stores a JWT identity token for a peer and switches its
// identity type to jwt.
func (s *Store) SetToken(name, token string, expiresAt time.Time) error {
	p, ok := s.data.Peers[name]
	if !ok {
		return ErrPeerNotFound
	}
	p.IdentityType = IdentityJWT
	p.Token = token
	p.ExpiresAt = expiresAt
	return s.save()
}
