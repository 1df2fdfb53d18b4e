package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CompressedSuffix is appended to a storage key to address the optional
// size-reduced derivative of an image.
const CompressedSuffix = ".compressed"

// FileRecord is one caller-visible reference to stored content. Several
// records may share a storage_key when their content hash matched at
// ingestion time; the underlying bytes belong to the key, not the record.
type FileRecord struct {
	ID          string `json:"id"`
	StorageKey  string `json:"storage_key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`

	// FileMeta is type-specific extracted metadata (blur-hash, dimensions,
	// duration, ...). Copied verbatim from the canonical record on dedup,
	// never recomputed. Unknown keys round-trip.
	FileMeta JSONMap `json:"file_meta,omitempty"`
	// UserMeta is caller-supplied and independent of dedup.
	UserMeta       JSONMap    `json:"user_meta,omitempty"`
	SensitiveMarks StringList `json:"sensitive_marks,omitempty"`

	HasCompression bool       `json:"has_compression"`
	UploadedAt     *time.Time `json:"uploaded_at,omitempty"`
	UploadedTo     string     `json:"uploaded_to,omitempty"`
	UsedCount      int64      `json:"used_count"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	OwnerID        string     `json:"owner_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Uploaded reports whether the background upload has completed.
func (r *FileRecord) Uploaded() bool {
	return r.UploadedAt != nil
}

// Clone returns a deep copy so cached records can be handed out safely.
func (r *FileRecord) Clone() *FileRecord {
	cp := *r
	if r.UploadedAt != nil {
		t := *r.UploadedAt
		cp.UploadedAt = &t
	}
	if r.ExpiredAt != nil {
		t := *r.ExpiredAt
		cp.ExpiredAt = &t
	}
	cp.FileMeta = r.FileMeta.Clone()
	cp.UserMeta = r.UserMeta.Clone()
	if r.SensitiveMarks != nil {
		cp.SensitiveMarks = append(StringList(nil), r.SensitiveMarks...)
	}
	return &cp
}

// JSONMap is an open key-value document stored as JSONB. Keys the service
// never looks at still survive a save/load round trip.
type JSONMap map[string]any

func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return nil
	}
	cp := make(JSONMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// StringList is a set of tags stored as a JSONB array.
type StringList []string

// Contains reports whether the list holds the given tag.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}
