package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// StringList is a JSON-serialized string slice column
type StringList []string

// Value implements the driver.Valuer interface for GORM
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for GORM
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}

	return json.Unmarshal(bytes, s)
}

// FileRef points at a stored blob from within a session. BlobRef is the
// identifier minted when the upload was stored; it is a reference, not the
// payload, and is never reused across uploads.
type FileRef struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	BlobRef  string `json:"blobRef"`
}

// FileRefList is the ordered file set of a session, stored as a JSON column
type FileRefList []FileRef

// Value implements the driver.Valuer interface for GORM
func (f FileRefList) Value() (driver.Value, error) {
	if f == nil {
		return json.Marshal(FileRefList{})
	}
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for GORM
func (f *FileRefList) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FileRefList", value)
	}

	return json.Unmarshal(bytes, f)
}

// BlobRefs returns the blob identifiers in list order
func (f FileRefList) BlobRefs() []string {
	refs := make([]string, len(f))
	for i, file := range f {
		refs[i] = file.BlobRef
	}
	return refs
}

// Contains reports whether any entry references the given blob
func (f FileRefList) Contains(blobRef string) bool {
	for _, file := range f {
		if file.BlobRef == blobRef {
			return true
		}
	}
	return false
}

// User represents a user account in the system
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Session is a named, user-owned collection of instructions, configuration
// and file references used to produce generated study material. Sessions are
// a separate keyed table rather than an array nested in the user row so that
// the per-session update in the store is a single-row atomic write.
type Session struct {
	ID             uuid.UUID   `json:"id" gorm:"primaryKey"`
	UserID         uuid.UUID   `json:"user_id" gorm:"type:uuid;not null;index"`
	Name           string      `json:"name" gorm:"not null"`
	Description    string      `json:"description"`
	Instructions   string      `json:"instructions"`
	Files          FileRefList `json:"files" gorm:"type:jsonb"`
	GenerationList StringList  `json:"generationList" gorm:"type:jsonb"`
	ConfigMap      JSONMap     `json:"configMap" gorm:"type:jsonb"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Owner User `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate generates a UUID for the session ID
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Upload is a raw file payload submitted with a create or update request
type Upload struct {
	FileName  string
	MediaType string
	Content   []byte
}

// AuthToken represents a JWT token issued at login
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// SignupRequest is the signup payload
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the login payload
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// APIResponse is the standard response envelope
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
