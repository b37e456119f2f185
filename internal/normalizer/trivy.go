package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

type trivyVulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Title            string   `json:"Title"`
	Description      string   `json:"Description"`
	Severity         string   `json:"Severity"`
	References       []string `json:"References"`
}

func (v *trivyVulnerability) validate() error {
	if v.VulnerabilityID == "" || v.PkgName == "" {
		return fmt.Errorf("vulnerability without VulnerabilityID or PkgName")
	}
	return nil
}

// trivyTarget is one scanned layer: the OS packages or one application lock file.
type trivyTarget struct {
	Target          string            `json:"Target"`
	Vulnerabilities []json.RawMessage `json:"Vulnerabilities"`
}

type Trivy struct {
	cves CVEResolver
}

func NewTrivy(cves CVEResolver) *Trivy {
	return &Trivy{cves: cves}
}

func (*Trivy) Type() model.ScannerType { return model.ScannerTrivy }

func (*Trivy) ParseRunMetadata(raw []byte) (*RunMetadata, error) { return parseTrivyRun(raw) }

func (*Trivy) DescribeFailure(run *RunMetadata) string {
	return DescribeScanFailure(run.FailureDescription)
}

func (t *Trivy) Normalize(ctx context.Context, in Input) (*Result, error) {
	if in.Run.ImageTag == "" {
		return nil, malformed("trivy audit %s without image tag", in.Run.AuditID)
	}
	data, err := in.file(in.Run.AuditPath)
	if err != nil {
		return nil, err
	}
	targets, err := decodeRecords(data, "Results")
	if err != nil {
		return nil, malformed("trivy audit %s: %v", in.Run.AuditID, err)
	}

	scan := &model.ImageScanResult{
		ID:        in.Run.AuditID,
		Date:      in.Run.Date(),
		ImageTag:  in.Run.ImageTag,
		Status:    model.ImageScanSucceeded,
		FoundCVEs: []model.ImageScanToCVE{},
	}
	var (
		skipped int
		index   int
	)
	skip := func(err error) {
		skipRecord(model.ScannerTrivy, in.Run.AuditID, index, err)
		skipped++
	}

	for _, raw := range targets {
		index++
		var target trivyTarget
		if err := json.Unmarshal(raw, &target); err != nil {
			skip(err)
			continue
		}
		for _, rv := range target.Vulnerabilities {
			index++
			var v trivyVulnerability
			err := json.Unmarshal(rv, &v)
			if err == nil {
				err = v.validate()
			}
			if err != nil {
				skip(err)
				continue
			}

			cve := model.CVE{
				ID:          v.VulnerabilityID,
				Severity:    trivySeverity(v.Severity),
				PackageName: v.PkgName,
				Title:       v.Title,
				Description: v.Description,
				References:  strings.Join(v.References, "\n"),
			}
			if v.FixedVersion != "" {
				cve.Remediation = "Update the package to version " + v.FixedVersion
			}
			internalID, err := t.cves.Resolve(ctx, cve.ID, func() (model.CVE, error) { return cve, nil })
			if err != nil {
				return nil, err
			}
			scan.FoundCVEs = append(scan.FoundCVEs, model.ImageScanToCVE{
				InternalCVEID:      internalID,
				ExternalCVEID:      cve.ID,
				Severity:           cve.Severity,
				Target:             target.Target,
				UsedPackageVersion: v.InstalledVersion,
			})
		}
	}
	return &Result{ImageScan: scan, Skipped: skipped}, nil
}

func trivySeverity(s string) model.Severity {
	switch strings.ToUpper(s) {
	case "CRITICAL":
		return model.SeverityCritical
	case "HIGH":
		return model.SeverityHigh
	case "MEDIUM":
		return model.SeverityMedium
	case "LOW":
		return model.SeverityLow
	default:
		return model.SeverityUnknown
	}
}

const (
	ScanNotAuthorized = "Trivy is not authorized to pull the image"
	ScanUnknownOS     = "Trivy is not able to scan underlying OS"
	ScanUnknownError  = "Unknown error occurred"
)

// DescribeScanFailure maps a raw trivy error to a short human readable reason.
func DescribeScanFailure(description string) string {
	switch {
	case strings.Contains(description, "status=401"):
		return ScanNotAuthorized
	case strings.Contains(description, "failed to analyze OS: Unknown OS"):
		return ScanUnknownOS
	default:
		return ScanUnknownError
	}
}
