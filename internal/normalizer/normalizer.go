// Package normalizer turns raw scanner output into the canonical audit model.
//
// Every scanner type has one Normalizer decoding into its own typed records.
// A malformed record is logged and skipped; only problems with the run as a
// whole (unreadable metadata, missing files, no scanned entity) fail the audit.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/refcache"
)

// ErrMalformedAudit marks run level input that can never be normalized.
// Batches failing with it are consumed rather than retried.
const ErrMalformedAudit = errors.ConstError("malformed audit")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w", ErrMalformedAudit, errors.NotValidf(format, args...))
}

type CheckResolver interface {
	Resolve(ctx context.Context, key string, factory refcache.Factory[model.Check]) (int64, error)
}

type CVEResolver interface {
	Resolve(ctx context.Context, key string, factory refcache.Factory[model.CVE]) (int64, error)
}

// Input is one downloaded audit batch.
type Input struct {
	Scanner model.ScannerMetadata
	Run     *RunMetadata
	// Files holds the content of every Run.Paths entry, keyed by that entry.
	Files map[string][]byte
}

// Result carries either an Audit or an ImageScan, depending on the scanner.
type Result struct {
	Audit     *model.Audit
	ImageScan *model.ImageScanResult
	Skipped   int
}

type Normalizer interface {
	Type() model.ScannerType
	ParseRunMetadata(raw []byte) (*RunMetadata, error)
	// DescribeFailure renders the failure reason of an unsuccessful run.
	DescribeFailure(run *RunMetadata) string
	Normalize(ctx context.Context, in Input) (*Result, error)
}

// Registry selects the Normalizer of a scanner type.
type Registry map[model.ScannerType]Normalizer

func NewRegistry(checks CheckResolver, cves CVEResolver) Registry {
	r := Registry{}
	for _, n := range []Normalizer{NewAzsk(checks), NewPolaris(checks), NewTrivy(cves)} {
		r[n.Type()] = n
	}
	return r
}

func (r Registry) For(t model.ScannerType) (Normalizer, error) {
	n, ok := r[t]
	if !ok {
		return nil, errors.NotSupportedf("scanner type %q", t)
	}
	return n, nil
}

// file returns the content of one of the run's result files.
func (in Input) file(path string) ([]byte, error) {
	if path == "" {
		return nil, malformed("audit %s without result path", in.Run.AuditID)
	}
	data, ok := in.Files[path]
	if !ok {
		return nil, malformed("audit %s result file %q", in.Run.AuditID, path)
	}
	return data, nil
}

// decodeRecords splits a JSON array, or the array under field of a JSON
// object, into raw records so each one can fail on its own.
func decodeRecords(data []byte, field string) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	inner, ok := wrapped[field]
	if !ok {
		return nil, fmt.Errorf("no %s array", field)
	}
	if err := json.Unmarshal(inner, &records); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return records, nil
}

func skipRecord(scanner model.ScannerType, auditID string, index int, err error) {
	metrics.RecordSkipped(string(scanner))
	log.WithFields(log.Fields{
		"scanner": scanner,
		"audit":   auditID,
		"record":  index,
	}).WithError(err).Warn("skipping malformed record")
}

// metadataBlob renders the scanner context stored next to an audit.
func metadataBlob(in Input, key string, value interface{}) (*model.MetadataBlob, error) {
	doc := map[string]interface{}{
		"scanner": in.Scanner,
		"audit":   in.Run.Raw,
		key:       value,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &model.MetadataBlob{AuditID: in.Run.AuditID, Date: in.Run.Date(), JSON: string(data)}, nil
}
