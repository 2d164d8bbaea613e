// Package filestore persists users and devices as two JSON documents,
// users.json and devices.json, in a data directory.
//
// Reads and writes are served from memory. Every mutation marks the store
// dirty and a background writer rewrites both files, coalescing bursts of
// mutations into one write. Write failures are logged and retried on the
// next mutation or on Close.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/user"
)

const (
	usersFile   = "users.json"
	devicesFile = "devices.json"
)

// Config holds configuration for the file store.
type Config struct {
	// Dir holds the JSON files. It is created if missing.
	Dir string

	// Debounce delays each write to batch further mutations (default: 0).
	Debounce time.Duration

	// MaxPositions caps histories merged at load time (default: no cap).
	MaxPositions int

	Logger zerolog.Logger
}

// Store is a JSON file backed store for users and devices.
type Store struct {
	dir          string
	debounce     time.Duration
	maxPositions int
	logger       zerolog.Logger

	users   *user.InMemoryRepository
	devices *device.InMemoryRepository

	writeMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	closeMu sync.Once
}

// Open loads the data directory and starts the background writer.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:      cfg.Dir,
		debounce:     cfg.Debounce,
		maxPositions: cfg.MaxPositions,
		logger:       cfg.Logger,
		users:    user.NewInMemoryRepository(),
		devices:  device.NewInMemoryRepository(),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	go s.run()
	return s, nil
}

// Users returns the user repository.
func (s *Store) Users() user.Repository {
	return &userRepository{InMemoryRepository: s.users, store: s}
}

// Devices returns the device repository.
func (s *Store) Devices() device.Repository {
	return &deviceRepository{InMemoryRepository: s.devices, store: s}
}

// Flush writes both files now.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	users, err := s.users.List(ctx)
	if err != nil {
		return err
	}
	devices, err := s.devices.List(ctx)
	if err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(s.dir, usersFile), toUserRecords(users)); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.dir, devicesFile), toDeviceRecords(devices))
}

// Close stops the writer and flushes pending changes.
func (s *Store) Close(ctx context.Context) error {
	s.closeMu.Do(func() { close(s.stop) })

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.Flush(ctx)
}

// markDirty schedules a write. It never blocks.
func (s *Store) markDirty() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-s.kick:
		}

		if s.debounce > 0 {
			select {
			case <-time.After(s.debounce):
			case <-s.stop:
				return
			}
		}

		if err := s.Flush(context.Background()); err != nil {
			s.logger.Error().Err(err).Str("dir", s.dir).Msg("failed to write data files")
			continue
		}
		s.logger.Debug().Str("dir", s.dir).Msg("data files written")
	}
}

// load reads both files. Older data files may hold EUIs in any case, so
// EUIs are lower-cased and records that differ only in case are merged.
func (s *Store) load() error {
	ctx := context.Background()

	var users []userRecord
	if err := readJSON(filepath.Join(s.dir, usersFile), &users); err != nil {
		return err
	}
	for _, rec := range users {
		u := rec.toUser()
		u.Devices = s.normalizeEUIs(u.Devices, u.Username)
		if err := s.users.Create(ctx, u); err != nil {
			return fmt.Errorf("load user %q: %w", rec.Username, err)
		}
	}

	var records []deviceRecord
	if err := readJSON(filepath.Join(s.dir, devicesFile), &records); err != nil {
		return err
	}
	devices := s.mergeDevices(records)
	for _, d := range devices {
		if err := s.devices.Upsert(ctx, d); err != nil {
			return fmt.Errorf("load device %q: %w", d.EUI, err)
		}
	}

	s.logger.Info().
		Int("users", len(users)).
		Int("devices", len(devices)).
		Str("dir", s.dir).
		Msg("data files loaded")
	return nil
}

// normalizeEUIs lower-cases and deduplicates a user's device set. Entries
// that are not EUIs are kept as written.
func (s *Store) normalizeEUIs(euis []string, username string) []string {
	out := make([]string, 0, len(euis))
	for _, raw := range euis {
		eui := s.normalizeEUI(raw, username)
		if !slices.Contains(out, eui) {
			out = append(out, eui)
		}
	}
	return out
}

func (s *Store) normalizeEUI(raw, owner string) string {
	eui, err := device.NormalizeEUI(raw)
	if err != nil {
		s.logger.Warn().Str("eui", raw).Str("owner", owner).Msg("data file holds an invalid EUI")
		return raw
	}
	return eui
}

// mergeDevices normalizes device EUIs and merges records that collide.
// Owners are united and histories interleaved newest first.
func (s *Store) mergeDevices(records []deviceRecord) []*device.Device {
	byEUI := make(map[string]*device.Device, len(records))
	var order []string

	for _, rec := range records {
		d := rec.toDevice()
		d.EUI = s.normalizeEUI(d.EUI, "")

		prev, ok := byEUI[d.EUI]
		if !ok {
			byEUI[d.EUI] = d
			order = append(order, d.EUI)
			continue
		}

		s.logger.Warn().Str("eui", d.EUI).Msg("merging device records that differ only in case")
		for _, o := range d.Owners {
			prev.AddOwner(o)
		}
		prev.Positions = append(prev.Positions, d.Positions...)
		slices.SortStableFunc(prev.Positions, func(a, b device.Position) int {
			return b.Timestamp.Compare(a.Timestamp)
		})
		if s.maxPositions > 0 && len(prev.Positions) > s.maxPositions {
			prev.Positions = prev.Positions[:s.maxPositions]
		}
		if prev.CreatedAt.IsZero() || (!d.CreatedAt.IsZero() && d.CreatedAt.Before(prev.CreatedAt)) {
			prev.CreatedAt = d.CreatedAt
		}
		if d.UpdatedAt.After(prev.UpdatedAt) {
			prev.UpdatedAt = d.UpdatedAt
		}
	}

	out := make([]*device.Device, 0, len(order))
	for _, eui := range order {
		out = append(out, byEUI[eui])
	}
	return out
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically through a temp file in the same dir.
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
