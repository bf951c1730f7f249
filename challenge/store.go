// Package challenge persists short-lived second-factor challenges in
// Redis. A challenge is created when a login or enrollment halts for a
// one-time code and is deleted on the first successful confirmation,
// on expiry, or when its attempt budget runs out.
package challenge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "idc"
	recordVersion = 2
)

var (
	ErrNotFound         = errors.New("challenge not found")
	ErrExpired          = errors.New("challenge expired")
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrBackend          = errors.New("challenge backend unavailable")
)

// Purpose says which flow a challenge belongs to, so a code issued for
// enrollment cannot confirm a login.
type Purpose uint8

const (
	PurposeLogin Purpose = iota + 1
	PurposeEnroll
	PurposeDisable
)

// Method mirrors the enrolled second-factor delivery channel.
type Method uint8

const (
	MethodApp Method = iota + 1
	MethodEmail
)

// Record is the pending state of a single challenge. CodeHash is the
// SHA-256 digest of an emailed code and is empty for app challenges,
// where verification runs against the identity's TOTP seed instead.
// Identifier and IP carry the login attempt that opened a challenge so
// its transient throttle counters can be cleared on confirmation.
type Record struct {
	IdentityID string
	Purpose    Purpose
	Method     Method
	CodeHash   []byte
	ExpiresAt  int64
	Attempts   uint16
	Identifier string
	IP         string
}

// Store reads and writes challenge records.
type Store struct {
	redis redis.UniversalClient
}

func NewStore(redisClient redis.UniversalClient) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(challengeID string) string {
	return keyPrefix + ":" + challengeID
}

func (s *Store) Save(ctx context.Context, challengeID string, record *Record, ttl time.Duration) error {
	encoded, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, challengeID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrExpired
	}
	return record, nil
}

// Delete removes a challenge and reports whether it existed. Called on
// successful confirmation so a challenge id is single-use.
func (s *Store) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt counter under WATCH so concurrent
// confirmations cannot double-spend the budget. When the counter
// reaches maxAttempts the challenge is deleted and ErrAttemptsExceeded
// is returned.
func (s *Store) RecordFailure(ctx context.Context, challengeID string, maxAttempts int) error {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecord(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if errors.Is(err, ErrExpired) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if exceeded {
			return ErrAttemptsExceeded
		}
		return nil
	}

	return ErrNotFound
}

func encodeRecord(record *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.WriteByte(byte(record.Purpose))
	buf.WriteByte(byte(record.Method))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range [][]byte{[]byte(record.IdentityID), record.CodeHash, []byte(record.Identifier), []byte(record.IP)} {
		if len(field) > 65535 {
			return nil, errors.New("challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.Write(field)
	}

	return buf.Bytes(), nil
}

func readField(reader *bytes.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	field := make([]byte, length)
	if _, err := io.ReadFull(reader, field); err != nil {
		return nil, err
	}
	return field, nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Record{}
	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Purpose = Purpose(purpose)
	method, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Method = Method(method)

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	id, err := readField(reader)
	if err != nil {
		return nil, err
	}
	record.IdentityID = string(id)

	if record.CodeHash, err = readField(reader); err != nil {
		return nil, err
	}

	identifier, err := readField(reader)
	if err != nil {
		return nil, err
	}
	record.Identifier = string(identifier)

	ip, err := readField(reader)
	if err != nil {
		return nil, err
	}
	record.IP = string(ip)

	return record, nil
}
