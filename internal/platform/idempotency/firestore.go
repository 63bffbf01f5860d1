package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const idempotencyCollection = "idempotencyKeys"

type firestoreRecord struct {
	Key            string    `firestore:"key"`
	Fingerprint    string    `firestore:"fingerprint"`
	Status         string    `firestore:"status"`
	ResponseStatus int       `firestore:"responseStatus"`
	ResponseBody   []byte    `firestore:"responseBody"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
}

// FirestoreStore persists idempotency records in a Firestore collection so
// replay protection survives process restarts and spans instances.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore constructs a FirestoreStore backed by the given client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Reserve implements Store using a transaction so two concurrent requests with
// the same key cannot both proceed.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if s == nil || s.client == nil {
		return Reservation{}, errors.New("idempotency: firestore store not initialised")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ref := s.client.Collection(idempotencyCollection).Doc(storageKey(key))
	var reservation Reservation

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if err == nil {
			var existing firestoreRecord
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.ExpiresAt.After(now) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				reservation = Reservation{Record: recordFromDoc(existing)}
				if Status(existing.Status) == StatusCompleted {
					reservation.State = ReservationStateCompleted
				} else {
					reservation.State = ReservationStatePending
				}
				return nil
			}
		}

		record := firestoreRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      string(StatusPending),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Set(ref, record); err != nil {
			return err
		}
		reservation = Reservation{State: ReservationStateNew, Record: recordFromDoc(record)}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency: firestore store not initialised")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ref := s.client.Collection(idempotencyCollection).Doc(storageKey(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var record firestoreRecord
		if err == nil {
			if err := snap.DataTo(&record); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}

		record.Key = key
		record.Fingerprint = fingerprint
		record.Status = string(StatusCompleted)
		record.ResponseStatus = resp.Status
		record.ResponseBody = resp.Body
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		return tx.Set(ref, record)
	})
}

// Release implements Store. Completed records are kept for replay.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	if s == nil || s.client == nil {
		return errors.New("idempotency: firestore store not initialised")
	}

	ref := s.client.Collection(idempotencyCollection).Doc(storageKey(key))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var record firestoreRecord
		if err := snap.DataTo(&record); err != nil {
			return err
		}
		if record.Fingerprint != fingerprint || Status(record.Status) == StatusCompleted {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes records whose retention window elapsed, up to limit
// documents, and returns the number removed.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("idempotency: firestore store not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	iter := s.client.Collection(idempotencyCollection).
		Where("expiresAt", "<", now).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, err
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func recordFromDoc(doc firestoreRecord) Record {
	return Record{
		Key:            doc.Key,
		Fingerprint:    doc.Fingerprint,
		Status:         Status(doc.Status),
		ResponseStatus: doc.ResponseStatus,
		ResponseBody:   doc.ResponseBody,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		ExpiresAt:      doc.ExpiresAt,
	}
}
