package model

import "time"

type ScannerType string

const (
	ScannerAzsk    ScannerType = "azsk"
	ScannerPolaris ScannerType = "polaris"
	ScannerTrivy   ScannerType = "trivy"
)

// ScannerMetadata is the per-container descriptor written by every scanner.
type ScannerMetadata struct {
	Type                 ScannerType `json:"type"`
	ID                   string      `json:"id"`
	Periodicity          string      `json:"periodicity"`
	HeartbeatPeriodicity int64       `json:"heartbeat-periodicity"`
	Heartbeat            int64       `json:"heartbeat"`
}

// ScannerID is the value stored in Audit.ScannerID.
func (m ScannerMetadata) ScannerID() string {
	return string(m.Type) + "/" + m.ID
}

// LastHeartbeat returns the heartbeat as a time.
func (m ScannerMetadata) LastHeartbeat() time.Time {
	return time.Unix(m.Heartbeat, 0).UTC()
}

// AuditBlob points at one unprocessed run-metadata file inside a scanner container.
type AuditBlob struct {
	Container string `json:"container"`
	Name      string `json:"name"`
}

// Path is the object path relative to the bucket.
func (b AuditBlob) Path() string {
	return b.Container + "/" + b.Name
}

// OwnershipEntry assigns an owner to a component id at any hierarchy depth.
type OwnershipEntry struct {
	ComponentID string    `json:"componentId"`
	Owner       string    `json:"owner"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
