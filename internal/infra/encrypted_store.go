package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const storeDBName = "classmon.db"

// EncryptedStore keeps enforcement state, enrollment secrets and the daemon
// registry in one SQLCipher database.
type EncryptedStore struct {
	db             *sql.DB
	dbPath         string
	processManager domain.ProcessManager
	now            func() time.Time
}

// OpenEncryptedStore opens (or creates) the encrypted database in dataDir.
// The key is passed to SQLCipher as a raw hex key.
func OpenEncryptedStore(dataDir string, key []byte, pm domain.ProcessManager) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// One writer keeps multi-key commits serialized inside the process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{
		db:             db,
		dbPath:         dbPath,
		processManager: pm,
		now:            time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daemon_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// --- domain.StateStore ---

// Get returns the value stored under key.
func (s *EncryptedStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("state %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, nil
}

// GetMany reads keys in one query. Missing keys are absent from the result.
func (s *EncryptedStore) GetMany(keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	rows, err := s.db.Query(`SELECT key, value FROM state WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetMany writes every value in one transaction.
func (s *EncryptedStore) SetMany(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin state write: %w", err)
	}
	now := s.now().UnixMilli()
	for k, v := range values {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO state (key, value, updated_at) VALUES (?, ?, ?)`,
			k, v, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to write state %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// --- domain.SecretStore ---

// GetSecret retrieves a secret by key.
func (s *EncryptedStore) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrNotFound)
	}
	return value, err
}

// SetSecret stores a secret.
func (s *EncryptedStore) SetSecret(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, created_at) VALUES (?, ?, ?)`,
		key, value, s.now().Unix())
	return err
}

// DeleteSecrets removes secrets in one transaction.
func (s *EncryptedStore) DeleteSecrets(keys ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM secrets WHERE key = ?`, k); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete secret %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- domain.DaemonRegistry ---

// Register records a daemon for its partner to find.
func (s *EncryptedStore) Register(d domain.Daemon) error {
	now := s.now()
	started := d.StartedAt
	if started.IsZero() {
		started = now
	}
	mode := "user"
	if os.Geteuid() == 0 {
		mode = "system"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT OR REPLACE INTO daemon_state (role, pid, process_name, started_at, last_heartbeat, app_version)
			VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{string(d.Role), d.PID, d.Name, started.Unix(), now.Unix(), d.AppVersion}},
		{`INSERT OR REPLACE INTO meta (key, value) VALUES ('mode', ?)`, []any{mode}},
	}
	if d.AppVersion != "" {
		stmts = append(stmts, struct {
			query string
			args  []any
		}{`INSERT OR REPLACE INTO meta (key, value) VALUES ('app_version', ?)`, []any{d.AppVersion}})
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.query, st.args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to register %s: %w", d.Role, err)
		}
	}
	return tx.Commit()
}

// GetPartner returns the other daemon of the pair.
func (s *EncryptedStore) GetPartner(role domain.DaemonRole) (*domain.Daemon, error) {
	partner := partnerOf(role)

	var (
		pid     int
		name    string
		started int64
		version string
	)
	err := s.db.QueryRow(`SELECT pid, process_name, started_at, app_version FROM daemon_state WHERE role = ?`,
		string(partner)).Scan(&pid, &name, &started, &version)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && pid == 0) {
		return nil, fmt.Errorf("partner %s: %w", partner, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &domain.Daemon{
		PID:        pid,
		Role:       partner,
		Name:       name,
		StartedAt:  time.Unix(started, 0),
		AppVersion: version,
	}, nil
}

// UpdateHeartbeat refreshes the liveness timestamp of role.
func (s *EncryptedStore) UpdateHeartbeat(role domain.DaemonRole) error {
	result, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE role = ?`,
		s.now().Unix(), string(role))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("daemon %s: %w", role, domain.ErrNotFound)
	}
	return nil
}

// IsPartnerAlive reports whether the partner's PID is running.
func (s *EncryptedStore) IsPartnerAlive(role domain.DaemonRole) (bool, error) {
	partner, err := s.GetPartner(role)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.processManager.IsRunning(partner.PID), nil
}

// GetAll returns both registrations, or nil when none exist.
func (s *EncryptedStore) GetAll() (*domain.RegistryEntry, error) {
	entry := &domain.RegistryEntry{Version: 1}

	rows, err := s.db.Query(`SELECT role, pid, process_name, last_heartbeat, app_version FROM daemon_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			role      string
			pid       int
			name      string
			heartbeat int64
			version   string
		)
		if err := rows.Scan(&role, &pid, &name, &heartbeat, &version); err != nil {
			return nil, err
		}
		found = true
		switch domain.DaemonRole(role) {
		case domain.RoleSupervisor:
			entry.SupervisorPID = pid
			entry.SupervisorName = name
			entry.AppVersion = version
		case domain.RoleGuardian:
			entry.GuardianPID = pid
			entry.GuardianName = name
		}
		if heartbeat > entry.LastHeartbeat {
			entry.LastHeartbeat = heartbeat
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var mode string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'mode'`).Scan(&mode); err == nil {
		entry.Mode = mode
	}
	return entry, nil
}

// Clear removes every daemon registration.
func (s *EncryptedStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM daemon_state`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM meta WHERE key IN ('mode', 'app_version')`)
	return err
}

func partnerOf(role domain.DaemonRole) domain.DaemonRole {
	if role == domain.RoleGuardian {
		return domain.RoleSupervisor
	}
	return domain.RoleGuardian
}

var (
	_ domain.StateStore     = (*EncryptedStore)(nil)
	_ domain.SecretStore    = (*EncryptedStore)(nil)
	_ domain.DaemonRegistry = (*EncryptedStore)(nil)
)
