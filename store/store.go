package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// RegistryStore persists emergency registry snapshots in SQLite so a node
// restarted in the field keeps the SOS traffic it has already seen.
type RegistryStore struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*RegistryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &RegistryStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "store.Open",
		"path":     path,
	}).Info("Opened registry store")

	return s, nil
}

// initSchema creates database tables
func (s *RegistryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sos_messages (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		urgency TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		stored_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sos_responses (
		id TEXT PRIMARY KEY,
		original_sos_id TEXT NOT NULL,
		stored_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emergency_services (
		service_id TEXT PRIMARY KEY,
		service_type TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		is_own INTEGER NOT NULL DEFAULT 0,
		stored_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sos_active ON sos_messages(is_active, urgency);
	CREATE INDEX IF NOT EXISTS idx_responses_sos ON sos_responses(original_sos_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save replaces the stored registries with snap in one transaction.
func (s *RegistryStore) Save(snap emergency.Snapshot) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"sos_messages", "sos_responses", "emergency_services"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, rec := range snap.SOS {
		data, err := rec.Message.Encode()
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO sos_messages (id, type, urgency, is_active, timestamp, stored_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Message.ID, string(rec.Message.Type), string(rec.Message.Urgency),
			boolToInt(rec.Message.IsActive), rec.Message.Timestamp.UnixMilli(), rec.StoredAt.UnixMilli(), data)
		if err != nil {
			return fmt.Errorf("insert sos %s: %w", rec.Message.ID, err)
		}
	}

	for _, rec := range snap.Responses {
		data, err := rec.Response.Encode()
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO sos_responses (id, original_sos_id, stored_at, data) VALUES (?, ?, ?, ?)`,
			rec.Response.ID, rec.Response.OriginalSOSID, rec.StoredAt.UnixMilli(), data)
		if err != nil {
			return fmt.Errorf("insert response %s: %w", rec.Response.ID, err)
		}
	}

	for _, rec := range snap.Services {
		data, err := rec.Service.Encode()
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO emergency_services (service_id, service_type, is_active, is_own, stored_at, data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Service.ServiceID, string(rec.Service.ServiceType), boolToInt(rec.Service.IsActive),
			boolToInt(rec.Own), rec.StoredAt.UnixMilli(), data)
		if err != nil {
			return fmt.Errorf("insert service %s: %w", rec.Service.ServiceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "RegistryStore.Save",
		"sos":       len(snap.SOS),
		"responses": len(snap.Responses),
		"services":  len(snap.Services),
	}).Debug("Saved registry snapshot")

	return nil
}

// Load reads the stored registries. Rows that no longer decode are skipped
// and logged.
func (s *RegistryStore) Load() (emergency.Snapshot, error) {
	var snap emergency.Snapshot
	if s.db == nil {
		return snap, ErrClosed
	}

	rows, err := s.db.Query(`SELECT stored_at, data FROM sos_messages`)
	if err != nil {
		return snap, fmt.Errorf("query sos: %w", err)
	}
	err = scanRows(rows, func(storedAt int64, data []byte) error {
		msg, err := emergency.DecodeSOSMessage(data)
		if err != nil {
			return err
		}
		snap.SOS = append(snap.SOS, emergency.StoredSOS{Message: msg, StoredAt: time.UnixMilli(storedAt)})
		return nil
	})
	if err != nil {
		return snap, err
	}

	rows, err = s.db.Query(`SELECT stored_at, data FROM sos_responses`)
	if err != nil {
		return snap, fmt.Errorf("query responses: %w", err)
	}
	err = scanRows(rows, func(storedAt int64, data []byte) error {
		resp, err := emergency.DecodeSOSResponse(data)
		if err != nil {
			return err
		}
		snap.Responses = append(snap.Responses, emergency.StoredResponse{Response: resp, StoredAt: time.UnixMilli(storedAt)})
		return nil
	})
	if err != nil {
		return snap, err
	}

	rows, err = s.db.Query(`SELECT stored_at, data, is_own FROM emergency_services`)
	if err != nil {
		return snap, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var storedAt int64
		var data []byte
		var own int
		if err := rows.Scan(&storedAt, &data, &own); err != nil {
			return snap, err
		}
		svc, err := emergency.DecodeServiceAnnouncement(data)
		if err != nil {
			logSkipped("emergency_services", err)
			continue
		}
		snap.Services = append(snap.Services, emergency.StoredService{
			Service:  svc,
			StoredAt: time.UnixMilli(storedAt),
			Own:      own != 0,
		})
	}
	return snap, rows.Err()
}

// Close closes the database connection.
func (s *RegistryStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func scanRows(rows *sql.Rows, decode func(storedAt int64, data []byte) error) error {
	defer rows.Close()
	for rows.Next() {
		var storedAt int64
		var data []byte
		if err := rows.Scan(&storedAt, &data); err != nil {
			return err
		}
		if err := decode(storedAt, data); err != nil {
			logSkipped("registry", err)
		}
	}
	return rows.Err()
}

func logSkipped(table string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "RegistryStore.Load",
		"table":    table,
		"error":    err.Error(),
	}).Warn("Skipping undecodable row")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
