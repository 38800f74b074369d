package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// DeviceStore records device tokens per owner in Firestore.
type DeviceStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewDeviceStore(client *firestore.Client, logger *slog.Logger) *DeviceStore {
	return &DeviceStore{client: client, logger: logger.With("component", "FirestoreDeviceStore")}
}

// deviceRecord is the stored document.
type deviceRecord struct {
	Platform  string    `firestore:"platform"`
	Token     string    `firestore:"token"`
	SessionID string    `firestore:"session_id,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Device is one registered device as returned by Devices.
type Device struct {
	Platform  push.Platform
	Token     string
	SessionID string
	UpdatedAt time.Time
}

func (s *DeviceStore) RegisterDevice(ctx context.Context, owner urn.URN, platform push.Platform, sessionID, token string) error {
	record := deviceRecord{
		Platform:  string(platform),
		Token:     token,
		SessionID: sessionID,
		UpdatedAt: time.Now(),
	}
	// Token hash as doc ID prevents duplicates and hot-spotting.
	if _, err := s.deviceRef(owner, hashToken(token)).Set(ctx, record); err != nil {
		return fmt.Errorf("register device for %s: %w", owner.String(), err)
	}
	return nil
}

func (s *DeviceStore) UnregisterDevice(ctx context.Context, owner urn.URN, token string) error {
	if _, err := s.deviceRef(owner, hashToken(token)).Delete(ctx); err != nil {
		return fmt.Errorf("unregister device for %s: %w", owner.String(), err)
	}
	return nil
}

// Devices lists every device registered for owner. Corrupt documents are
// skipped.
func (s *DeviceStore) Devices(ctx context.Context, owner urn.URN) ([]Device, error) {
	iter := s.devicesCollection(owner).Documents(ctx)
	defer iter.Stop()

	devices := make([]Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping unreadable device record", "doc", doc.Ref.ID, "err", err)
			continue
		}
		if record.Token == "" {
			continue
		}
		devices = append(devices, Device{
			Platform:  push.Platform(record.Platform),
			Token:     record.Token,
			SessionID: record.SessionID,
			UpdatedAt: record.UpdatedAt,
		})
	}
	return devices, nil
}

// Registrar binds the store to one owner and session.
func (s *DeviceStore) Registrar(owner urn.URN, platform push.Platform, sessionID string) *Registrar {
	return &Registrar{store: s, owner: owner, platform: platform, sessionID: sessionID}
}

// Registrar implements push.TokenRegistrar. A rotated token replaces the
// device record of the token it supersedes.
type Registrar struct {
	store     *DeviceStore
	owner     urn.URN
	platform  push.Platform
	sessionID string

	mu      sync.Mutex
	current string
}

func (r *Registrar) Register(ctx context.Context, token string) error {
	if err := r.store.RegisterDevice(ctx, r.owner, r.platform, r.sessionID, token); err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.current
	r.current = token
	r.mu.Unlock()

	if previous == "" || previous == token {
		return nil
	}
	if err := r.store.UnregisterDevice(ctx, r.owner, previous); err != nil {
		r.store.logger.Warn("Failed to remove superseded token", "owner", r.owner.String(), "err", err)
	}
	return nil
}

// --- Helpers ---

// deviceRef: users/{owner}/devices/{tokenHash}
func (s *DeviceStore) deviceRef(owner urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(owner).Doc(docID)
}

func (s *DeviceStore) devicesCollection(owner urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(owner.String()).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
