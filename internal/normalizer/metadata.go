package normalizer

import (
	"encoding/json"
	"time"
)

const runSucceeded = "succeeded"

// RunMetadata is the scanner independent view of a run metadata file.
// Paths are relative to the folder of the metadata file.
type RunMetadata struct {
	AuditID            string
	ScannerVersion     string
	ToolVersion        string
	Periodicity        string
	Timestamp          int64
	Result             string
	FailureDescription string
	Paths              []string

	// AuditPath is the main result file of single-file scanners.
	AuditPath    string
	KubeMetaPath string

	SubscriptionID string
	ClusterID      string
	ImageTag       string

	// Raw is the metadata document as written by the scanner.
	Raw json.RawMessage
}

func (m *RunMetadata) Succeeded() bool {
	return m.Result == runSucceeded
}

func (m *RunMetadata) Date() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

type azskRunMetadata struct {
	AuditID            string   `json:"audit-id"`
	ScannerVersion     string   `json:"scanner-version"`
	Periodicity        string   `json:"periodicity"`
	Timestamp          int64    `json:"timestamp"`
	AuditResult        string   `json:"audit-result"`
	FailureDescription string   `json:"failure-description"`
	AzskVersion        string   `json:"azsk-version"`
	AuditPaths         []string `json:"azsk-audit-paths"`
	SubscriptionID     string   `json:"subscription-id"`
}

type polarisRunMetadata struct {
	AuditID            string `json:"audit-id"`
	ClusterID          string `json:"cluster-id"`
	ScannerVersion     string `json:"scanner-version"`
	Periodicity        string `json:"periodicity"`
	Timestamp          int64  `json:"timestamp"`
	Result             string `json:"result"`
	FailureDescription string `json:"failure-description"`
	PolarisVersion     string `json:"polaris-version"`
	AuditPath          string `json:"polaris-audit-path"`
	KubeMetaPath       string `json:"k8s-meta-path"`
}

type trivyRunMetadata struct {
	AuditID            string `json:"audit-id"`
	ImageTag           string `json:"image-tag"`
	ScannerVersion     string `json:"scanner-version"`
	Periodicity        string `json:"periodicity"`
	Timestamp          int64  `json:"timestamp"`
	AuditResult        string `json:"audit-result"`
	FailureDescription string `json:"failure-description"`
	TrivyVersion       string `json:"trivy-version"`
	AuditPath          string `json:"trivy-audit-path"`
}

func parseAzskRun(raw []byte) (*RunMetadata, error) {
	var m azskRunMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed("azsk run metadata: %v", err)
	}
	return validRun(&RunMetadata{
		AuditID:            m.AuditID,
		ScannerVersion:     m.ScannerVersion,
		ToolVersion:        m.AzskVersion,
		Periodicity:        m.Periodicity,
		Timestamp:          m.Timestamp,
		Result:             m.AuditResult,
		FailureDescription: m.FailureDescription,
		Paths:              m.AuditPaths,
		SubscriptionID:     m.SubscriptionID,
		Raw:                raw,
	})
}

func parsePolarisRun(raw []byte) (*RunMetadata, error) {
	var m polarisRunMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed("polaris run metadata: %v", err)
	}
	return validRun(&RunMetadata{
		AuditID:            m.AuditID,
		ScannerVersion:     m.ScannerVersion,
		ToolVersion:        m.PolarisVersion,
		Periodicity:        m.Periodicity,
		Timestamp:          m.Timestamp,
		Result:             m.Result,
		FailureDescription: m.FailureDescription,
		Paths:              nonEmpty(m.AuditPath, m.KubeMetaPath),
		AuditPath:          m.AuditPath,
		KubeMetaPath:       m.KubeMetaPath,
		ClusterID:          m.ClusterID,
		Raw:                raw,
	})
}

func parseTrivyRun(raw []byte) (*RunMetadata, error) {
	var m trivyRunMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, malformed("trivy run metadata: %v", err)
	}
	return validRun(&RunMetadata{
		AuditID:            m.AuditID,
		ScannerVersion:     m.ScannerVersion,
		ToolVersion:        m.TrivyVersion,
		Periodicity:        m.Periodicity,
		Timestamp:          m.Timestamp,
		Result:             m.AuditResult,
		FailureDescription: m.FailureDescription,
		Paths:              nonEmpty(m.AuditPath),
		AuditPath:          m.AuditPath,
		ImageTag:           m.ImageTag,
		Raw:                raw,
	})
}

func validRun(m *RunMetadata) (*RunMetadata, error) {
	if m.Timestamp <= 0 {
		return nil, malformed("run metadata of audit %q without timestamp", m.AuditID)
	}
	return m, nil
}

func nonEmpty(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
