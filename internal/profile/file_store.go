package profile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"pidash/internal/constants"
	"pidash/internal/types"
)

const activeFileName = "active"

// FileStore keeps one JSON file per profile under dir. Writes go through a
// temp-file-then-rename so a crash mid-write never leaves a truncated file,
// and a store-wide mutex serializes concurrent writers on the same profile.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	sealer *sealer
}

func NewFileStore(dir, stateKey string) (*FileStore, error) {
	if err := os.MkdirAll(dir, constants.StateDirMode); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, sealer: newSealer(stateKey)}, nil
}

func (fs *FileStore) profilePath(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

func (fs *FileStore) readRecord(id string) (*record, error) {
	data, err := os.ReadFile(fs.profilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(id)
		}
		return nil, err
	}
	plain, err := fs.sealer.open(data)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// writeRecord assumes fs.mu is held.
func (fs *FileStore) writeRecord(id string, rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	sealed, err := fs.sealer.seal(data)
	if err != nil {
		return err
	}
	return atomicWrite(fs.profilePath(id), sealed)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, constants.StateFileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (fs *FileStore) SaveProfile(p *Profile) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.readRecord(p.ID)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound):
		rec = &record{}
	default:
		// A read failure on an existing file is not "no record": writing a
		// fresh one would silently discard the profile's token bundle.
		return err
	}
	rec.Profile = p
	return fs.writeRecord(p.ID, rec)
}

func (fs *FileStore) GetProfile(id string) (*Profile, error) {
	rec, err := fs.readRecord(id)
	if err != nil {
		return nil, err
	}
	if rec.Profile == nil {
		return nil, notFound(id)
	}
	return rec.Profile, nil
}

func (fs *FileStore) ListProfiles() ([]*Profile, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var profiles []*Profile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := fs.readRecord(strings.TrimSuffix(name, ".json"))
		if err != nil || rec.Profile == nil {
			log.Printf("⚠️  Skipping unreadable profile file %s: %v", name, err)
			continue
		}
		profiles = append(profiles, rec.Profile)
	}
	return profiles, nil
}

func (fs *FileStore) DeleteProfile(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.profilePath(id)); err != nil {
		if os.IsNotExist(err) {
			return notFound(id)
		}
		return err
	}
	if active, _ := fs.getActiveLocked(); active == id {
		os.Remove(filepath.Join(fs.dir, activeFileName))
	}
	return nil
}

func (fs *FileStore) SaveToken(profileID string, b *TokenBundle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.readRecord(profileID)
	if err != nil {
		return err
	}
	rec.Token = b
	return fs.writeRecord(profileID, rec)
}

func (fs *FileStore) LoadToken(profileID string) (*TokenBundle, error) {
	rec, err := fs.readRecord(profileID)
	if err != nil {
		return nil, err
	}
	if rec.Token == nil {
		return nil, types.Err(types.ErrNotFound, nil, "no token for profile %s", profileID)
	}
	return rec.Token, nil
}

func (fs *FileStore) DeleteToken(profileID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.readRecord(profileID)
	if err != nil {
		return err
	}
	rec.Token = nil
	return fs.writeRecord(profileID, rec)
}

func (fs *FileStore) GetActive() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.getActiveLocked()
}

func (fs *FileStore) getActiveLocked() (string, error) {
	data, err := os.ReadFile(filepath.Join(fs.dir, activeFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (fs *FileStore) SetActive(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.readRecord(id); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(fs.dir, activeFileName), []byte(id+"\n"))
}

func (fs *FileStore) Close() error {
	return nil
}
