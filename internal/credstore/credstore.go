// Package credstore is the authenticated-encryption-at-rest vault for
// exchange API keys and bus HMAC secrets, adapted from the teacher's
// infrastructure/crypto envelope primitives (HMAC-SHA256 per-subject key
// derivation + AES-GCM). Unlike that teacher file, which derives a fresh key per
// subject from one long-lived master key, credstore derives its master
// key from an operator-supplied passphrase via a random, persisted salt,
// so the vault file alone (without the passphrase) discloses nothing.
package credstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	infracrypto "github.com/hoptrade/motorcortex/infrastructure/crypto"
)

// ErrNoPassphrase is returned when Open is called without a passphrase.
// Spec §4.C: "missing passphrase ⇒ hard refusal at boot."
var ErrNoPassphrase = errors.New("credstore: master passphrase is required")

// ErrTampered is returned when the vault file's authenticated ciphertext
// fails to decrypt, meaning it was corrupted or tampered with.
var ErrTampered = errors.New("credstore: vault integrity check failed")

const (
	pbkdf2Iterations = 200_000
	masterKeyLen     = 32
	filePerm         = 0o600
)

// Credential is one (service, key, secret) triple.
type Credential struct {
	Service string `json:"service"`
	Key     string `json:"key"`
	Secret  string `json:"secret"`
}

type vaultFile struct {
	Salt       string `json:"salt"`
	Ciphertext string `json:"ciphertext"`
}

// Store holds decrypted credentials in memory for the lifetime of the
// process. Credentials are never logged; the single read happens at Open.
type Store struct {
	path  string
	creds map[string]Credential // keyed by service+":"+key
}

func credKey(service, key string) string { return service + ":" + key }

// Open reads path (if it exists), decrypts it with passphrase, and returns
// a populated Store. If path does not exist, an empty Store is returned so
// the first Save call creates the file.
func Open(path string, passphrase []byte) (*Store, error) {
	if len(passphrase) == 0 {
		return nil, ErrNoPassphrase
	}

	s := &Store{path: path, creds: make(map[string]Credential)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: read vault: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("credstore: parse vault: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(vf.Salt)
	if err != nil {
		return nil, fmt.Errorf("credstore: decode salt: %w", err)
	}
	masterKey := deriveMasterKey(passphrase, salt)

	ciphertext, err := base64.StdEncoding.DecodeString(vf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("credstore: decode ciphertext: %w", err)
	}

	plaintext, err := infracrypto.DecryptEnvelope(masterKey, []byte("credstore"), "vault", ciphertext)
	if err != nil {
		return nil, ErrTampered
	}

	if len(plaintext) > 0 {
		var creds []Credential
		if err := json.Unmarshal(plaintext, &creds); err != nil {
			return nil, ErrTampered
		}
		for _, c := range creds {
			s.creds[credKey(c.Service, c.Key)] = c
		}
	}

	return s, nil
}

// Get retrieves a credential's secret. The boolean is false if not found.
func (s *Store) Get(service, key string) (string, bool) {
	c, ok := s.creds[credKey(service, key)]
	if !ok {
		return "", false
	}
	return c.Secret, true
}

// Put sets or replaces a credential in memory. Call Save to persist.
func (s *Store) Put(service, key, secret string) {
	s.creds[credKey(service, key)] = Credential{Service: service, Key: key, Secret: secret}
}

// Save encrypts the current credential set with passphrase and atomically
// replaces the vault file: write-new-then-rename, so a reader never
// observes a partially written file (spec §4.C: "rotation is a
// create-new/delete-old sequence atomic from the reader's view").
func (s *Store) Save(passphrase []byte) error {
	if len(passphrase) == 0 {
		return ErrNoPassphrase
	}

	creds := make([]Credential, 0, len(s.creds))
	for _, c := range s.creds {
		creds = append(creds, c)
	}
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: marshal credentials: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("credstore: generate salt: %w", err)
	}
	masterKey := deriveMasterKey(passphrase, salt)

	ciphertext, err := infracrypto.EncryptEnvelope(masterKey, []byte("credstore"), "vault", plaintext)
	if err != nil {
		return fmt.Errorf("credstore: encrypt vault: %w", err)
	}

	vf := vaultFile{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(vf)
	if err != nil {
		return fmt.Errorf("credstore: marshal vault: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, filePerm); err != nil {
		return fmt.Errorf("credstore: write temp vault: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("credstore: rename vault: %w", err)
	}
	return nil
}

func deriveMasterKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, masterKeyLen, sha256.New)
}
