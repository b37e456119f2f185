package model

import "time"

// OverallID is the synthetic component id of the infrastructure-wide rollup.
const OverallID = "Overall"

// OverallName is the display name of the OverallID component.
const OverallName = "Overall infrastructure"

type CheckValue string

const (
	CheckValueNoData     CheckValue = "NoData"
	CheckValueInProgress CheckValue = "InProgress"
	CheckValueFailed     CheckValue = "Failed"
	CheckValueSucceeded  CheckValue = "Succeeded"
)

// Audit is one normalized ingestion result for one component, scanner and timestamp.
type Audit struct {
	ID            string        `json:"id"`
	Date          time.Time     `json:"date"`
	ScannerID     string        `json:"scannerId"`
	ComponentID   string        `json:"componentId"`
	ComponentName string        `json:"componentName"`
	CheckResults  []CheckResult `json:"checkResults"`
	MetadataAzure *MetadataBlob `json:"metadataAzure,omitempty"`
	MetadataKube  *MetadataBlob `json:"metadataKube,omitempty"`
}

type CheckResult struct {
	AuditID         string     `json:"auditId"`
	InternalCheckID int64      `json:"internalCheckId"`
	ExternalCheckID string     `json:"checkId"`
	ComponentID     string     `json:"componentId"`
	Value           CheckValue `json:"value"`
	Message         string     `json:"message,omitempty"`
}

// MetadataBlob is the raw scanner context stored next to an audit.
type MetadataBlob struct {
	AuditID string    `json:"auditId"`
	Date    time.Time `json:"date"`
	JSON    string    `json:"json"`
}

// Counts returns the number of results per value.
func (a *Audit) Counts() map[CheckValue]int {
	out := make(map[CheckValue]int, 4)
	for _, r := range a.CheckResults {
		out[r.Value]++
	}
	return out
}

type ImageScanStatus string

const (
	ImageScanQueued    ImageScanStatus = "Queued"
	ImageScanFailed    ImageScanStatus = "Failed"
	ImageScanSucceeded ImageScanStatus = "Succeeded"
)

// ImageScanResult is the normalized output of one container image scan.
type ImageScanResult struct {
	ID          string           `json:"id"`
	Date        time.Time        `json:"date"`
	ImageTag    string           `json:"imageTag"`
	Status      ImageScanStatus  `json:"status"`
	Description string           `json:"description,omitempty"`
	FoundCVEs   []ImageScanToCVE `json:"foundCves"`
}

type ImageScanToCVE struct {
	InternalCVEID      int64    `json:"internalCveId"`
	ExternalCVEID      string   `json:"cveId"`
	Severity           Severity `json:"severity"`
	Target             string   `json:"target"`
	UsedPackageVersion string   `json:"usedPackageVersion"`
}

// AuditRow is a persisted audit as seen by the aggregate caches.
type AuditRow struct {
	RowID       int64     `json:"rowId"`
	AuditID     string    `json:"auditId"`
	ComponentID string    `json:"componentId"`
	Date        time.Time `json:"date"`
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
