package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// MaxAccessHistory bounds StateRecord.AccessHistory.
const MaxAccessHistory = 100

// #region record-kind

// RecordKind tells storage what a record's payload decodes to.
type RecordKind string

const (
	KindState    RecordKind = "state"
	KindSnapshot RecordKind = "snapshot"
)

// Tier names a storage tier.
type Tier string

const (
	TierMemory   Tier = "memory"
	TierFile     Tier = "file"
	TierDatabase Tier = "database"
)

// #endregion record-kind

// #region state-record

// Location records where a record's primary copy and replicas live.
type Location struct {
	Primary  Tier   `json:"primary"`
	Replicas []Tier `json:"replicas,omitempty"`
}

// AccessEntry is one line of a record's access history.
type AccessEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
}

// StateRecord is the persistence projection of a QuantumState or a superposition snapshot.
// Payload holds the encoded body (compressed when Compressed is set); the checksum always
// covers the uncompressed body.
type StateRecord struct {
	ID                string        `json:"id"`
	Kind              RecordKind    `json:"kind"`
	Payload           []byte        `json:"payload"`
	Compressed        bool          `json:"compressed"`
	ChecksumSHA256    string        `json:"checksum_sha256"`
	CompressionRatio  float64       `json:"compression_ratio"`
	ReplicationFactor int           `json:"replication_factor"`
	AccessHistory     []AccessEntry `json:"access_history,omitempty"`
	Location          Location      `json:"location"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// RecordAccess appends to the bounded access history, dropping the oldest entry.
func (r *StateRecord) RecordAccess(action string, at time.Time) {
	r.AccessHistory = append(r.AccessHistory, AccessEntry{At: at, Action: action})
	if over := len(r.AccessHistory) - MaxAccessHistory; over > 0 {
		r.AccessHistory = append([]AccessEntry(nil), r.AccessHistory[over:]...)
	}
}

// Clone returns a deep copy of r.
func (r StateRecord) Clone() StateRecord {
	out := r
	out.Payload = cloneBytes(r.Payload)
	if r.AccessHistory != nil {
		out.AccessHistory = append([]AccessEntry(nil), r.AccessHistory...)
	}
	if r.Location.Replicas != nil {
		out.Location.Replicas = append([]Tier(nil), r.Location.Replicas...)
	}
	return out
}

// #endregion state-record

// #region encoding

// Checksum returns the hex SHA-256 of body.
func Checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// EncodeState serializes a QuantumState body for storage.
func EncodeState(q QuantumState) ([]byte, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode state %s: %w", q.ID, err)
	}
	return b, nil
}

// DecodeState parses a body written by EncodeState.
func DecodeState(body []byte) (QuantumState, error) {
	var q QuantumState
	if err := json.Unmarshal(body, &q); err != nil {
		return QuantumState{}, fmt.Errorf("decode state: %w", err)
	}
	return q, nil
}

// MarshalRecord encodes a whole record for adapters that store opaque blobs.
func MarshalRecord(r StateRecord) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord is the inverse of MarshalRecord.
func UnmarshalRecord(b []byte) (StateRecord, error) {
	var r StateRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return StateRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// #endregion encoding
