package enums

import "fmt"

// AuditSeverity grades audit log entries.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

var validAuditSeverities = []AuditSeverity{
	AuditSeverityInfo,
	AuditSeverityWarning,
	AuditSeverityCritical,
}

// String implements fmt.Stringer.
func (s AuditSeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AuditSeverity.
func (s AuditSeverity) IsValid() bool {
	for _, candidate := range validAuditSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuditSeverity converts raw input into an AuditSeverity.
func ParseAuditSeverity(value string) (AuditSeverity, error) {
	for _, candidate := range validAuditSeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit severity %q", value)
}
