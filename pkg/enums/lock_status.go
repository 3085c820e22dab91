package enums

import "fmt"

// LockStatus maps to the lock_status_enum enum in Postgres.
type LockStatus string

const (
	LockStatusProcessing LockStatus = "processing"
	LockStatusProcessed  LockStatus = "processed"
	LockStatusFailed     LockStatus = "failed"
)

var validLockStatuses = []LockStatus{
	LockStatusProcessing,
	LockStatusProcessed,
	LockStatusFailed,
}

// String implements fmt.Stringer.
func (s LockStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LockStatus.
func (s LockStatus) IsValid() bool {
	for _, candidate := range validLockStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLockStatus converts raw input into a LockStatus.
func ParseLockStatus(value string) (LockStatus, error) {
	for _, candidate := range validLockStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lock status %q", value)
}
