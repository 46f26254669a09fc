// Package configstore owns the durable per-account file: kill switch
// settings, monitoring intervals and the kill history lock all live in
// one YAML document. The store is the single writer; services observe it
// through snapshots and change subscriptions.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"killswitch/internal/account"
	"killswitch/internal/logger"
)

// Snapshot is a read-only view of the store at one version.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Accounts map[string]account.Config
}

// ChangeListener receives the full snapshot after every accepted reload.
type ChangeListener func(Snapshot)

// Store loads the account file, watches it for edits and serializes all
// writes through read-modify-write saves with an atomic rename.
type Store struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu           sync.RWMutex
	snapshot     Snapshot
	listeners    map[int64]ChangeListener
	nextListener int64

	// saveMu serializes disk writes so concurrent operator calls cannot
	// interleave read-modify-write cycles.
	saveMu sync.Mutex
}

type fileConfig struct {
	Accounts map[string]account.Config `mapstructure:"accounts"`
}

// NewStore reads the account file, validates it and starts the watcher.
// A file that fails validation at startup is a hard error; after startup
// invalid edits are logged and discarded.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("account store requires path")
	}
	schema, err := jsonschema.CompileString("accounts.schema.json", storeSchema)
	if err != nil {
		return nil, fmt.Errorf("compile store schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read account store failed: %w", err)
	}
	s := &Store{path: path, v: v, schema: schema, listeners: make(map[int64]ChangeListener)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(); err != nil {
			logger.Errorf("account store reload discarded (%s): %v", evt.Name, err)
			return
		}
		s.notify()
	})
	v.WatchConfig()
	return s, nil
}

// Snapshot returns the current store view. Account configs are value
// copies; mutating them does not touch the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snapshot)
}

// Account returns one account's config by id.
func (s *Store) Account(id string) (account.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.snapshot.Accounts[id]
	return cfg, ok
}

// AccountIDs returns the configured account ids in stable order.
func (s *Store) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshot.Accounts))
	for id := range s.snapshot.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe registers a listener and immediately delivers the current
// snapshot on a fresh goroutine. The returned func unregisters the
// listener; session-scoped subscribers must call it or they leak for
// the process lifetime.
func (s *Store) Subscribe(fn ChangeListener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	snap := cloneSnapshot(s.snapshot)
	s.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("store listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	snap := cloneSnapshot(s.snapshot)
	listeners := make([]ChangeListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("store listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (s *Store) reload() error {
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read account store: %w", err)
	}
	settings := s.v.AllSettings()
	if err := s.validate(settings); err != nil {
		return err
	}
	var fileCfg fileConfig
	if err := decode(settings, &fileCfg); err != nil {
		return fmt.Errorf("parse account store: %w", err)
	}
	accounts := make(map[string]account.Config, len(fileCfg.Accounts))
	for id, cfg := range fileCfg.Accounts {
		cfg.Normalize()
		accounts[id] = cfg
	}
	s.mu.Lock()
	s.snapshot = Snapshot{
		Version:  s.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Accounts: accounts,
	}
	version := s.snapshot.Version
	s.mu.Unlock()
	logger.Infof("account store loaded %d accounts from %s (v%d)", len(accounts), filepath.Base(s.path), version)
	return nil
}

// validate runs the JSON schema over the raw settings map. Viper hands us
// native Go maps, so round-trip through JSON to get schema-comparable types.
func (s *Store) validate(settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode for validation: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("account store schema: %w", err)
	}
	return nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// SaveKillHistory persists the kill record for one account. Called from
// the kill execution path, so failure here is surfaced to the caller and
// escalated there.
func (s *Store) SaveKillHistory(id string, h account.KillHistory) error {
	return s.mutateAccount(id, func(acct map[string]any) {
		acct["kill_history"] = map[string]any{
			"locked_date": h.LockedDate,
			"timestamp":   h.Timestamp,
			"verified":    h.Verified,
		}
	})
}

// ClearKillHistory removes the daily lock record (operator override).
func (s *Store) ClearKillHistory(id string) error {
	return s.mutateAccount(id, func(acct map[string]any) {
		delete(acct, "kill_history")
	})
}

// SetKillSwitch replaces the kill switch section for one account.
func (s *Store) SetKillSwitch(id string, ks account.KillSwitchConfig) error {
	return s.mutateAccount(id, func(acct map[string]any) {
		acct["kill_switch"] = map[string]any{
			"enabled":                   ks.Enabled,
			"mtm_limit":                 ks.MTMLimit,
			"require_fill_confirmation": ks.RequireFillConfirmation,
			"auto_square_off":           ks.AutoSquareOff,
		}
	})
}

// SetKillSwitchEnabled flips only the enable flag, leaving the rest of
// the section as written in the file.
func (s *Store) SetKillSwitchEnabled(id string, enabled bool) error {
	return s.mutateAccount(id, func(acct map[string]any) {
		ks, ok := acct["kill_switch"].(map[string]any)
		if !ok {
			ks = map[string]any{}
		}
		ks["enabled"] = enabled
		acct["kill_switch"] = ks
	})
}

// mutateAccount performs a read-modify-write of the YAML document and
// replaces the file atomically. Unknown keys written by hand survive
// untouched because the document is edited in place, not re-marshaled
// from structs.
func (s *Store) mutateAccount(id string, mutate func(acct map[string]any)) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read account store: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse account store: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	accounts, ok := doc["accounts"].(map[string]any)
	if !ok {
		return fmt.Errorf("account store has no accounts section")
	}
	acct, ok := accounts[id].(map[string]any)
	if !ok {
		return fmt.Errorf("unknown account %q", id)
	}
	mutate(acct)
	accounts[id] = acct
	doc["accounts"] = accounts

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode account store: %w", err)
	}
	if err := writeFileAtomic(s.path, out); err != nil {
		return err
	}
	// The watcher picks the write up too, but reload here so the caller
	// observes its own change synchronously.
	if err := s.reload(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// writeFileAtomic writes via sibling temp file, fsync and rename so a
// crash mid-write never leaves a truncated store on disk.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Accounts: make(map[string]account.Config, len(src.Accounts)),
	}
	for id, cfg := range src.Accounts {
		dst.Accounts[id] = cfg
	}
	return dst
}
