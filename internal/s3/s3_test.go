package s3

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

func TestUnprocessed(t *testing.T) {
	g := gomega.NewWithT(t)
	keys := map[string]struct{}{}
	for _, k := range []string{
		"polaris-1/polaris-1",
		"polaris-1/20260520-090000-abc/meta",
		"polaris-1/20260520-090000-abc/meta.processed",
		"polaris-1/20260520-090000-abc/audit.json",
		"polaris-1/20260520-150000-def/meta",
		"polaris-1/20260520-150000-def/audit.json",
		"polaris-1/20260519-150000-xyz/meta",
		"polaris-1/20260519-150000-xyz/metadata.json",
	} {
		keys[k] = struct{}{}
	}

	g.Expect(Unprocessed("polaris-1", keys)).To(gomega.Equal([]model.AuditBlob{
		{Container: "polaris-1", Name: "20260519-150000-xyz/meta"},
		{Container: "polaris-1", Name: "20260520-150000-def/meta"},
	}))
}

func TestScannerMetadataPath(t *testing.T) {
	if got := ScannerMetadataPath("trivy-1"); got != "trivy-1/trivy-1" {
		t.Errorf("ScannerMetadataPath() = %q", got)
	}
}
