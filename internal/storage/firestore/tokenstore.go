package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// FirestoreStore persists this installation's token in the same
// users/{user}/devices collection the notification backend fans out from.
type FirestoreStore struct {
	client         *firestore.Client
	user           urn.URN
	installationID string
}

func NewFirestoreStore(client *firestore.Client, user urn.URN, installationID string) *FirestoreStore {
	return &FirestoreStore{client: client, user: user, installationID: installationID}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Platform       string    `firestore:"platform"`
	Token          string    `firestore:"token,omitempty"`
	PreviousToken  string    `firestore:"previous_token,omitempty"`
	APNSDeviceID   string    `firestore:"apns_device_id,omitempty"`
	InstallationID string    `firestore:"installation_id"`
	UpdatedAt      time.Time `firestore:"updated_at"`
}

func (s *FirestoreStore) Load(ctx context.Context) (*push.TokenRecord, error) {
	snap, err := s.deviceRef().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, push.ErrTokenNotFound
		}
		return nil, fmt.Errorf("firestore token load failed: %w", err)
	}

	var record deviceRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("firestore token decode failed: %w", err)
	}
	if record.Token == "" {
		return nil, push.ErrTokenNotFound
	}

	return &push.TokenRecord{
		Token:         record.Token,
		PreviousToken: record.PreviousToken,
		DeviceID:      record.APNSDeviceID,
		UpdatedAt:     record.UpdatedAt,
	}, nil
}

func (s *FirestoreStore) Save(ctx context.Context, rec push.TokenRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	record := deviceRecord{
		Platform:       "fcm",
		Token:          rec.Token,
		PreviousToken:  rec.PreviousToken,
		APNSDeviceID:   rec.DeviceID,
		InstallationID: s.installationID,
		UpdatedAt:      updatedAt,
	}
	if _, err := s.deviceRef().Set(ctx, record); err != nil {
		return fmt.Errorf("firestore token save failed: %w", err)
	}
	return nil
}

// --- Helpers ---

// deviceRef: users/{userID}/devices/{installationHash}
func (s *FirestoreStore) deviceRef() *firestore.DocumentRef {
	return s.client.Collection("users").Doc(s.user.String()).Collection("devices").Doc(hashKey(s.installationID))
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
