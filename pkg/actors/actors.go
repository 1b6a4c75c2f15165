// Package actors holds the public key material of the bulletin board and its peers.
package actors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.dedis.ch/kyber/v3/pairing"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/io"
	"wbbaudit/pkg/log"
)

const (
	WBBEntry        = "WBB"
	PeerEntrySuffix = "_SigningSK2"
	jksPathEntry    = "jksPath"
)

type pubKeyEntry struct {
	PublicKey        string `json:"publicKey"`
	G                string `json:"g"`
	PartialPublicKey string `json:"partialPublicKey,omitempty"`
	SequenceNo       *int   `json:"sequenceNo,omitempty"`
}

type certEntry struct {
	PubKeyEntry *pubKeyEntry `json:"pubKeyEntry"`
}

// --- WBB ---

// WBB is the bulletin board as a whole. Its key verifies joint signatures.
type WBB struct {
	Key *crypto.BLSPublicKey
}

// --- Peer ---

// Peer is one bulletin board node. Its sequence number is its node id in
// threshold combination and its partial key verifies its own share.
type Peer struct {
	ID         string
	SequenceNo int
	Key        *crypto.BLSPublicKey
	PartialKey *crypto.BLSPublicKey
}

// --- Certificates ---

// Certificates is the loaded certificates file. It is read-only after loading
// and shared by every verifier.
type Certificates struct {
	WBB   *WBB
	peers map[string]*Peer
}

// LoadCertificates reads the certificates file at path.
func LoadCertificates(path string, suite pairing.Suite) (*Certificates, error) {
	data, err := io.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := ParseCertificates(data, suite)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	log.Info("Loaded certificates: WBB key and %d peers", len(certs.peers))
	return certs, nil
}

// ParseCertificates decodes a certificates document.
func ParseCertificates(data []byte, suite pairing.Suite) (*Certificates, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, xerrors.Errorf("actors: certificates are not a JSON object: %w", err)
	}
	c := &Certificates{peers: make(map[string]*Peer)}
	seen := make(map[int]string)
	for name, raw := range entries {
		if name == jksPathEntry {
			continue
		}
		var ce certEntry
		if err := json.Unmarshal(raw, &ce); err != nil || ce.PubKeyEntry == nil {
			return nil, xerrors.Errorf("actors: entry %q has no pubKeyEntry", name)
		}
		key, err := decodeKey(suite, ce.PubKeyEntry.G, ce.PubKeyEntry.PublicKey)
		if err != nil {
			return nil, xerrors.Errorf("actors: entry %q: %w", name, err)
		}

		switch {
		case name == WBBEntry:
			c.WBB = &WBB{Key: key}
		case strings.HasSuffix(name, PeerEntrySuffix):
			p, err := newPeer(suite, strings.TrimSuffix(name, PeerEntrySuffix), key, ce.PubKeyEntry)
			if err != nil {
				return nil, err
			}
			if other, dup := seen[p.SequenceNo]; dup {
				return nil, xerrors.Errorf("actors: peers %s and %s share sequence number %d", other, p.ID, p.SequenceNo)
			}
			seen[p.SequenceNo] = p.ID
			c.peers[p.ID] = p
		default:
			log.Debug("Skipping certificate entry %s", name)
		}
	}
	if c.WBB == nil {
		return nil, xerrors.Errorf("actors: certificates lack the %s entry", WBBEntry)
	}
	return c, nil
}

func newPeer(suite pairing.Suite, id string, key *crypto.BLSPublicKey, e *pubKeyEntry) (*Peer, error) {
	if e.SequenceNo == nil || *e.SequenceNo < 0 {
		return nil, xerrors.Errorf("actors: peer %s has no valid sequenceNo", id)
	}
	p := &Peer{ID: id, SequenceNo: *e.SequenceNo, Key: key}
	if e.PartialPublicKey != "" {
		partial, err := crypto.DecodeKeyElementBase64(suite, e.PartialPublicKey)
		if err != nil {
			return nil, xerrors.Errorf("actors: peer %s partial key: %w", id, err)
		}
		p.PartialKey = &crypto.BLSPublicKey{G: key.G, X: partial}
	}
	return p, nil
}

func decodeKey(suite pairing.Suite, g, x string) (*crypto.BLSPublicKey, error) {
	G, err := crypto.DecodeKeyElementBase64(suite, g)
	if err != nil {
		return nil, err
	}
	X, err := crypto.DecodeKeyElementBase64(suite, x)
	if err != nil {
		return nil, err
	}
	return &crypto.BLSPublicKey{G: G, X: X}, nil
}

// Peer returns the peer named id.
func (c *Certificates) Peer(id string) (*Peer, bool) {
	p, ok := c.peers[id]
	return p, ok
}

// SequenceNumber returns the node id of peer id.
func (c *Certificates) SequenceNumber(id string) (int, error) {
	p, ok := c.peers[id]
	if !ok {
		return 0, xerrors.Errorf("actors: unknown peer %q", id)
	}
	return p.SequenceNo, nil
}

// Peers returns every peer ordered by sequence number.
func (c *Certificates) Peers() []*Peer {
	out := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out
}

// Nodes is the number of node ids the peers span.
func (c *Certificates) Nodes() int {
	n := len(c.peers)
	for _, p := range c.peers {
		if p.SequenceNo+1 > n {
			n = p.SequenceNo + 1
		}
	}
	return n
}

// Encode writes a certificates document for the given keys.
func Encode(wbb *crypto.BLSPublicKey, peers []*Peer) ([]byte, error) {
	doc := map[string]certEntry{
		WBBEntry: {PubKeyEntry: &pubKeyEntry{PublicKey: crypto.EncodeBase64(wbb.X), G: crypto.EncodeBase64(wbb.G)}},
	}
	for _, p := range peers {
		seq := p.SequenceNo
		e := &pubKeyEntry{PublicKey: crypto.EncodeBase64(p.Key.X), G: crypto.EncodeBase64(p.Key.G), SequenceNo: &seq}
		if p.PartialKey != nil {
			e.PartialPublicKey = crypto.EncodeBase64(p.PartialKey.X)
		}
		doc[p.ID+PeerEntrySuffix] = certEntry{PubKeyEntry: e}
	}
	return json.Marshal(doc)
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer{%s seq=%d}", p.ID, p.SequenceNo)
}
