package model

import "time"

type Severity string

const (
	SeverityUnknown  Severity = "Unknown"
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Check describes one type of compliance test. ID is "{scanner-type}.{scanner-check-id}".
type Check struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// CVE describes one vulnerability, keyed by its external CVE id.
type CVE struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	PackageName string   `json:"packageName"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	References  string   `json:"references,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// ImageScanCheck is the predefined check attached to containers whose image gets scanned.
var ImageScanCheck = Check{
	ID:          "container_image.CVE_scan",
	Category:    "Security",
	Severity:    SeverityHigh,
	Description: "Container Image scan with trivy",
	Remediation: "Update packages with found CVEs to versions, where these CVEs are addressed",
}

// ReferenceRow identifies a persisted reference entity and when it was last refreshed.
type ReferenceRow struct {
	ID        int64     `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CheckID builds the external check id for a scanner specific check.
func CheckID(scanner ScannerType, scannerCheckID string) string {
	return string(scanner) + "." + scannerCheckID
}
