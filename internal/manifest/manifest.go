// Package manifest inventories the signalsets and test case files a check
// ran against, so a report can be tied to the exact inputs.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example.com/signalgate/internal/common"
	"example.com/signalgate/internal/corpus"
	"example.com/signalgate/internal/crypto"
	"example.com/signalgate/internal/jsonfmt"
)

const (
	TypeSignalset = "signalset"
	TypeTestCase  = "testcase"
	TypeJSON      = "json"
	TypePDF       = "pdf"
	TypeOther     = "other"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

// Signature is a detached JWS over the manifest digest.
type Signature struct {
	Type  string     `json:"type"`
	KeyID string     `json:"keyId,omitempty"`
	JWS   crypto.JWS `json:"jws"`
}

var ErrUnsigned = errors.New("manifest is not signed")

// Build hashes every path. Items are sorted by path; the type is guessed
// from the extension.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		sum, size, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: filepath.ToSlash(p), Size: size, Sha256: sum, Type: typeOf(p)})
	}
	sort.Slice(m.Items, func(i, j int) bool { return m.Items[i].Path < m.Items[j].Path })
	return m, nil
}

// BuildCorpus inventories every signalset in signalsetDir and every test
// case file under testRoot.
func BuildCorpus(signalsetDir, testRoot string) (Manifest, error) {
	sets, err := jsonfmt.ListSignalsets(signalsetDir)
	if err != nil {
		return Manifest{}, fmt.Errorf("list signalsets: %w", err)
	}
	groups, err := corpus.FindFiles(testRoot, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("find test cases: %w", err)
	}
	paths := append([]string(nil), sets...)
	for _, g := range groups {
		paths = append(paths, g.Files...)
	}
	m, err := Build(paths)
	if err != nil {
		return m, err
	}
	setDir := filepath.ToSlash(filepath.Clean(signalsetDir)) + "/"
	for i := range m.Items {
		switch {
		case strings.HasPrefix(m.Items[i].Path, setDir):
			m.Items[i].Type = TypeSignalset
		case m.Items[i].Type == TypeOther:
			m.Items[i].Type = TypeTestCase
		}
	}
	return m, nil
}

func typeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return TypeTestCase
	case ".json":
		return TypeJSON
	case ".pdf":
		return TypePDF
	}
	return TypeOther
}

// Digest is the sha256 over the sorted item list. It ignores CreatedAt and
// the signature so rebuilding from unchanged inputs gives the same value.
func Digest(m Manifest) string {
	items := append([]Item(nil), m.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	h := common.NewHasher()
	for _, it := range items {
		fmt.Fprintf(h, "%s %d %s %s\n", it.Sha256, it.Size, it.Type, it.Path)
	}
	return h.Sum()
}

// Sign attaches a detached JWS over Digest(m).
func Sign(m *Manifest, privateKeyPEM []byte, keyID string) error {
	sig, err := crypto.SignDetachedJWS([]byte(Digest(*m)), privateKeyPEM, keyID)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}
	m.Signature = &Signature{Type: "jws", KeyID: keyID, JWS: sig}
	return nil
}

func Verify(m Manifest, publicPEM []byte) error {
	if m.Signature == nil {
		return ErrUnsigned
	}
	return crypto.VerifyDetachedJWS(m.Signature.JWS, []byte(Digest(m)), publicPEM)
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(out, append(b, '\n'), 0o644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
