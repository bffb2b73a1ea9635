// Package vault persists per-account credential records as maFile documents
// under a single directory, indexed by a manifest. Records can be encrypted
// at rest with a passphrase, the key derivation metadata lives in the
// manifest beside each entry.
package vault

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aarondl/maguard/crypt"
	"github.com/aarondl/maguard/guard"
)

// Errors returned from store operations.
var (
	ErrDuplicateAccount = errors.New("account already exists")
	ErrNotFound         = errors.New("credential not found")
	ErrEncrypted        = errors.New("record is encrypted")
	ErrNotEncrypted     = errors.New("record is not encrypted")
)

const (
	manifestName = "manifest.json"
	recordExt    = ".maFile"
)

// StorageError wraps filesystem failures so callers can tell "the disk let
// us down" apart from logical errors like a missing account.
type StorageError struct {
	Op  string
	Err error
}

func (s StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", s.Op, s.Err)
}

func (s StorageError) Unwrap() error {
	return s.Err
}

// Entry is the plaintext form of one account's credential record.
type Entry struct {
	AccountName    string `json:"account_name"`
	SharedSecret   string `json:"shared_secret"`
	IdentitySecret string `json:"identity_secret,omitempty"`
	RevocationCode string `json:"revocation_code,omitempty"`
	SteamID        string `json:"steam_id,omitempty"`
	ServerTime     int64  `json:"server_time"`
	URI            string `json:"uri,omitempty"`
	FullyEnrolled  bool   `json:"fully_enrolled"`
}

// Info is the listing view of a stored record, available without decrypting
// anything.
type Info struct {
	AccountName string
	SteamID     string
	Encrypted   bool
}

type manifestEntry struct {
	Filename    string `json:"filename"`
	SteamID     string `json:"steamid,omitempty"`
	AccountName string `json:"account_name"`
	Encrypted   bool   `json:"encrypted"`
	Salt        string `json:"encryption_salt,omitempty"`
	IV          string `json:"encryption_iv,omitempty"`
}

type manifest struct {
	Entries []manifestEntry `json:"entries"`
}

// Store is a credential store rooted at one directory. Mutations are
// serialized internally, reads may run concurrently.
type Store struct {
	dir string

	mu  sync.RWMutex
	man manifest
	now func() time.Time
}

// Open loads (or initializes) the store at dir. Manifest entries whose
// record file has gone missing are dropped from the in-memory index and
// reported as warnings, the manifest on disk is left untouched so a
// restored file shows up again on the next Open.
func Open(dir string) (*Store, []string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, StorageError{Op: "open", Err: err}
	}

	s := &Store{dir: dir, now: time.Now}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil, nil
	case err != nil:
		return nil, nil, StorageError{Op: "open", Err: err}
	}

	if err := json.Unmarshal(data, &s.man); err != nil {
		return nil, nil, StorageError{Op: "open", Err: fmt.Errorf("corrupt manifest: %w", err)}
	}

	var warnings []string
	kept := s.man.Entries[:0]
	for _, e := range s.man.Entries {
		if _, err := os.Stat(filepath.Join(dir, e.Filename)); err != nil {
			warnings = append(warnings, fmt.Sprintf("record file %s for %s is missing, entry ignored", e.Filename, e.AccountName))
			continue
		}
		kept = append(kept, e)
	}
	s.man.Entries = kept

	return s, warnings, nil
}

// List returns one Info per stored record, sorted by account name.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.man.Entries))
	for _, e := range s.man.Entries {
		infos = append(infos, Info{AccountName: e.AccountName, SteamID: e.SteamID, Encrypted: e.Encrypted})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AccountName < infos[j].AccountName
	})

	return infos
}

// Create validates and persists a new record. The record file is written
// before the manifest so a crash in between leaves an orphan file, never a
// dangling index entry. Fills in ServerTime, URI and FullyEnrolled when the
// caller left them empty.
func (s *Store) Create(e Entry) (Entry, error) {
	if e.AccountName == "" {
		return Entry{}, fmt.Errorf("%w: account name is empty", guard.ErrInvalidSecret)
	}
	// Either field may become the record filename, and Import hands us
	// foreign documents, so anything that could climb out of the store
	// directory is rejected before it reaches the filesystem.
	for _, name := range []string{e.AccountName, e.SteamID} {
		if !safeFilename(name) {
			return Entry{}, fmt.Errorf("%w: %q is not usable as a filename", guard.ErrInvalidSecret, name)
		}
	}
	if err := guard.CheckSecret(e.SharedSecret); err != nil {
		return Entry{}, err
	}
	if e.IdentitySecret != "" {
		if _, err := base64.StdEncoding.DecodeString(e.IdentitySecret); err != nil {
			return Entry{}, fmt.Errorf("%w: identity secret is not base64", guard.ErrInvalidSecret)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(e.AccountName) >= 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, e.AccountName)
	}

	if e.ServerTime == 0 {
		e.ServerTime = s.now().Unix()
	}
	if e.URI == "" {
		// The uri is a convenience backup of the secret, a record without
		// one is still fully usable.
		if uri, err := guard.ProvisioningURI(e.AccountName, e.SharedSecret); err == nil {
			e.URI = uri
		}
	}
	e.FullyEnrolled = true

	key := e.SteamID
	if key == "" {
		key = e.AccountName
	}
	filename := key + recordExt

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return Entry{}, StorageError{Op: "create", Err: err}
	}
	if err := s.writeFile(filename, data); err != nil {
		return Entry{}, StorageError{Op: "create", Err: err}
	}

	s.man.Entries = append(s.man.Entries, manifestEntry{
		Filename:    filename,
		SteamID:     e.SteamID,
		AccountName: e.AccountName,
	})
	if err := s.saveManifestLocked(); err != nil {
		// Roll the index back so the store stays consistent in memory, the
		// orphaned record file is harmless.
		s.man.Entries = s.man.Entries[:len(s.man.Entries)-1]
		return Entry{}, StorageError{Op: "create", Err: err}
	}

	return e, nil
}

// Get returns the plaintext record for an account. Encrypted records return
// ErrEncrypted, use Unlock for those.
func (s *Store) Get(account string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.findLocked(account)
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, account)
	}
	me := s.man.Entries[i]
	if me.Encrypted {
		return Entry{}, fmt.Errorf("%w: %s", ErrEncrypted, account)
	}

	return s.readPlain(me)
}

// Unlock reads an encrypted record using passphrase, without changing what
// is on disk. A wrong passphrase and a corrupted record are reported
// identically as crypt.ErrDecryptionFailed.
func (s *Store) Unlock(account, passphrase string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.findLocked(account)
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, account)
	}
	me := s.man.Entries[i]
	if !me.Encrypted {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotEncrypted, account)
	}

	return s.readEncrypted(me, passphrase)
}

// Encrypt seals an account's record at rest with a passphrase. The record
// file is rewritten as ciphertext and the derivation salt and iv are
// recorded in the manifest entry.
func (s *Store) Encrypt(account, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(account)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, account)
	}
	me := s.man.Entries[i]
	if me.Encrypted {
		return fmt.Errorf("%w: %s", ErrEncrypted, account)
	}

	plaintext, err := os.ReadFile(filepath.Join(s.dir, me.Filename))
	if err != nil {
		return StorageError{Op: "encrypt", Err: err}
	}

	salt, err := crypt.NewSalt()
	if err != nil {
		return err
	}
	iv, err := crypt.NewIV()
	if err != nil {
		return err
	}

	encrypted, err := crypt.Encrypt(crypt.DeriveKey(passphrase, salt), iv, plaintext)
	if err != nil {
		return err
	}

	body := base64.StdEncoding.EncodeToString(encrypted)
	if err := s.writeFile(me.Filename, []byte(body)); err != nil {
		return StorageError{Op: "encrypt", Err: err}
	}

	s.man.Entries[i].Encrypted = true
	s.man.Entries[i].Salt = base64.StdEncoding.EncodeToString(salt)
	s.man.Entries[i].IV = base64.StdEncoding.EncodeToString(iv)
	if err := s.saveManifestLocked(); err != nil {
		return StorageError{Op: "encrypt", Err: err}
	}

	return nil
}

// Decrypt permanently removes the at-rest encryption from an account's
// record. A wrong passphrase fails with crypt.ErrDecryptionFailed and
// leaves everything as it was.
func (s *Store) Decrypt(account, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(account)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, account)
	}
	me := s.man.Entries[i]
	if !me.Encrypted {
		return fmt.Errorf("%w: %s", ErrNotEncrypted, account)
	}

	e, err := s.readEncrypted(me, passphrase)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return StorageError{Op: "decrypt", Err: err}
	}
	if err := s.writeFile(me.Filename, data); err != nil {
		return StorageError{Op: "decrypt", Err: err}
	}

	s.man.Entries[i].Encrypted = false
	s.man.Entries[i].Salt = ""
	s.man.Entries[i].IV = ""
	if err := s.saveManifestLocked(); err != nil {
		return StorageError{Op: "decrypt", Err: err}
	}

	return nil
}

// Remove deletes an account's record. The manifest is updated first so a
// crash cannot leave an index entry pointing at nothing, then the record
// file is deleted best-effort. Returns false when the account was not
// stored.
func (s *Store) Remove(account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.findLocked(account)
	if i < 0 {
		return false, nil
	}
	me := s.man.Entries[i]

	s.man.Entries = append(s.man.Entries[:i], s.man.Entries[i+1:]...)
	if err := s.saveManifestLocked(); err != nil {
		// Put the entry back, nothing was deleted.
		s.man.Entries = append(s.man.Entries, me)
		return false, StorageError{Op: "remove", Err: err}
	}

	// An orphaned record file is only clutter, not an error worth failing
	// the removal over.
	_ = os.Remove(filepath.Join(s.dir, me.Filename))

	return true, nil
}

// Export serializes an account's record for transfer. With an empty
// passphrase the plaintext maFile document is returned, otherwise an
// encrypted envelope carrying its own salt and iv. Exporting a record that
// is encrypted at rest requires the passphrase either way.
func (s *Store) Export(account, passphrase string) ([]byte, error) {
	e, err := s.Get(account)
	if errors.Is(err, ErrEncrypted) {
		if passphrase == "" {
			return nil, err
		}
		e, err = s.Unlock(account, passphrase)
	}
	if err != nil {
		return nil, err
	}

	if passphrase == "" {
		return json.MarshalIndent(e, "", "  ")
	}

	plaintext, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	salt, err := crypt.NewSalt()
	if err != nil {
		return nil, err
	}
	iv, err := crypt.NewIV()
	if err != nil {
		return nil, err
	}
	encrypted, err := crypt.Encrypt(crypt.DeriveKey(passphrase, salt), iv, plaintext)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(envelope{
		AccountName: e.AccountName,
		Encrypted:   true,
		Salt:        base64.StdEncoding.EncodeToString(salt),
		IV:          base64.StdEncoding.EncodeToString(iv),
		Data:        base64.StdEncoding.EncodeToString(encrypted),
	}, "", "  ")
}

// envelope is the transfer format for an encrypted export.
type envelope struct {
	AccountName string `json:"account_name,omitempty"`
	Encrypted   bool   `json:"encrypted"`
	Salt        string `json:"encryption_salt,omitempty"`
	IV          string `json:"encryption_iv,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Import parses data as either a plaintext maFile document or an encrypted
// export envelope (which needs the passphrase), then stores it like Create.
func (s *Store) Import(data []byte, passphrase string) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("unrecognized import format: %w", err)
	}

	if env.Encrypted {
		e, err := decryptEnvelope(env, passphrase)
		if err != nil {
			return Entry{}, err
		}
		return s.Create(e)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unrecognized import format: %w", err)
	}

	return s.Create(e)
}

func decryptEnvelope(env envelope, passphrase string) (Entry, error) {
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) != crypt.SaltSize {
		return Entry{}, crypt.ErrDecryptionFailed
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != crypt.IVSize {
		return Entry{}, crypt.ErrDecryptionFailed
	}
	encrypted, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return Entry{}, crypt.ErrDecryptionFailed
	}

	plaintext, err := crypt.Decrypt(crypt.DeriveKey(passphrase, salt), iv, encrypted)
	if err != nil {
		return Entry{}, err
	}

	var e Entry
	if err := json.Unmarshal(plaintext, &e); err != nil {
		// A wrong passphrase can slip past the padding check and still
		// produce garbage, it must look identical to a corrupt record.
		return Entry{}, crypt.ErrDecryptionFailed
	}

	return e, nil
}

// findLocked returns the index of the manifest entry for account, or -1.
// safeFilename reports whether name can be embedded in a record filename
// without addressing anything outside the store directory. Empty is fine,
// the caller falls back to the other naming field.
func safeFilename(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\:\x00")
}

// Account names are matched case-insensitively, the remote service treats
// them that way too.
func (s *Store) findLocked(account string) int {
	for i, e := range s.man.Entries {
		if strings.EqualFold(e.AccountName, account) || (e.SteamID != "" && e.SteamID == account) {
			return i
		}
	}
	return -1
}

func (s *Store) readPlain(me manifestEntry) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, me.Filename))
	if err != nil {
		return Entry{}, StorageError{Op: "read", Err: err}
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, StorageError{Op: "read", Err: fmt.Errorf("corrupt record %s: %w", me.Filename, err)}
	}

	return e, nil
}

func (s *Store) readEncrypted(me manifestEntry, passphrase string) (Entry, error) {
	body, err := os.ReadFile(filepath.Join(s.dir, me.Filename))
	if err != nil {
		return Entry{}, StorageError{Op: "read", Err: err}
	}

	return decryptEnvelope(envelope{
		Encrypted: true,
		Salt:      me.Salt,
		IV:        me.IV,
		Data:      strings.TrimSpace(string(body)),
	}, passphrase)
}

func (s *Store) saveManifestLocked() error {
	data, err := json.MarshalIndent(s.man, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(manifestName, data)
}

// writeFile writes then renames so readers never observe a half-written
// manifest or record.
func (s *Store) writeFile(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}
