package normalizer

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

type azskControlItem struct {
	ID              string `json:"Id"`
	ControlID       string `json:"ControlID"`
	Description     string `json:"Description"`
	ControlSeverity string `json:"ControlSeverity"`
	Recommendation  string `json:"Recommendation"`
}

type azskResourceContext struct {
	ResourceGroupName string `json:"ResourceGroupName"`
	ResourceName      string `json:"ResourceName"`
	ResourceTypeName  string `json:"ResourceTypeName"`
	ResourceID        string `json:"ResourceId"`
}

// azskRecord is one evaluated control of an AzSK subscription or resource scan.
type azskRecord struct {
	ControlItem         *azskControlItem `json:"ControlItem"`
	FeatureName         string           `json:"FeatureName"`
	SubscriptionContext *struct {
		SubscriptionID   string `json:"SubscriptionId"`
		SubscriptionName string `json:"SubscriptionName"`
	} `json:"SubscriptionContext"`
	ResourceContext json.RawMessage `json:"ResourceContext"`
	ControlResults  []struct {
		VerificationResult string `json:"VerificationResult"`
	} `json:"ControlResults"`

	resource *azskResourceContext
}

func (r *azskRecord) validate() error {
	if r.ControlItem == nil || r.ControlItem.ID == "" {
		return fmt.Errorf("no ControlItem.Id")
	}
	if len(r.ControlResults) == 0 {
		return fmt.Errorf("control %s without ControlResults", r.ControlItem.ID)
	}
	if len(r.ResourceContext) > 0 && string(r.ResourceContext) != "null" {
		var rc azskResourceContext
		if err := json.Unmarshal(r.ResourceContext, &rc); err != nil {
			return fmt.Errorf("ResourceContext: %w", err)
		}
		// an incomplete context still places the result at its deepest known level
		r.resource = &rc
	}
	return nil
}

type Azsk struct {
	checks CheckResolver
}

func NewAzsk(checks CheckResolver) *Azsk {
	return &Azsk{checks: checks}
}

func (*Azsk) Type() model.ScannerType { return model.ScannerAzsk }

func (*Azsk) ParseRunMetadata(raw []byte) (*RunMetadata, error) { return parseAzskRun(raw) }

func (*Azsk) DescribeFailure(run *RunMetadata) string { return run.FailureDescription }

// Normalize builds one subscription audit out of every file listed in
// azsk-audit-paths. Each file holds an array of control records.
func (a *Azsk) Normalize(ctx context.Context, in Input) (*Result, error) {
	if len(in.Run.Paths) == 0 {
		return nil, malformed("azsk audit %s without audit paths", in.Run.AuditID)
	}

	var (
		records []*azskRecord
		skipped int
		index   int
	)
	for _, path := range in.Run.Paths {
		data, err := in.file(path)
		if err != nil {
			return nil, err
		}
		raw, err := decodeRecords(data, "Results")
		if err != nil {
			return nil, malformed("azsk audit %s file %s: %v", in.Run.AuditID, path, err)
		}
		for _, r := range raw {
			index++
			var rec azskRecord
			err := json.Unmarshal(r, &rec)
			if err == nil {
				err = rec.validate()
			}
			if err != nil {
				skipRecord(model.ScannerAzsk, in.Run.AuditID, index, err)
				skipped++
				continue
			}
			records = append(records, &rec)
		}
	}

	subscription, name := in.Run.SubscriptionID, ""
	for _, rec := range records {
		if rec.SubscriptionContext == nil {
			continue
		}
		if subscription == "" {
			subscription = rec.SubscriptionContext.SubscriptionID
		}
		if name == "" && rec.SubscriptionContext.SubscriptionID == subscription {
			name = rec.SubscriptionContext.SubscriptionName
		}
	}
	if subscription == "" {
		return nil, malformed("azsk audit %s without subscription context", in.Run.AuditID)
	}
	if name == "" {
		name = subscription
	}

	audit := &model.Audit{
		ID:            in.Run.AuditID,
		Date:          in.Run.Date(),
		ScannerID:     in.Scanner.ScannerID(),
		ComponentID:   model.CloudComponent(subscription, "", "", "").String(),
		ComponentName: name,
	}

	resources := []json.RawMessage{}
	seen := map[string]bool{}
	for _, rec := range records {
		componentID := audit.ComponentID
		if rec.resource != nil {
			id := model.CloudComponent(subscription, rec.resource.ResourceGroupName, rec.resource.ResourceTypeName, rec.resource.ResourceName)
			componentID = id.String()
			if _, ok := id.ObjectLevel(); !ok {
				log.WithFields(log.Fields{
					"audit":     in.Run.AuditID,
					"check":     rec.ControlItem.ID,
					"component": componentID,
				}).Warn("incomplete ResourceContext, using partial component id")
			} else if !seen[componentID] {
				seen[componentID] = true
				resources = append(resources, rec.ResourceContext)
			}
		}

		if len(rec.ControlResults) > 1 {
			log.WithFields(log.Fields{
				"audit":     in.Run.AuditID,
				"check":     rec.ControlItem.ID,
				"component": componentID,
				"results":   len(rec.ControlResults),
			}).Warn("control has more than one verification result, using the first")
		}

		checkID := model.CheckID(model.ScannerAzsk, rec.ControlItem.ID)
		item, feature := *rec.ControlItem, rec.FeatureName
		internalID, err := a.checks.Resolve(ctx, checkID, func() (model.Check, error) {
			return model.Check{
				ID:          checkID,
				Category:    feature,
				Severity:    azskSeverity(item.ControlSeverity),
				Description: item.Description,
				Remediation: item.Recommendation,
			}, nil
		})
		if err != nil {
			return nil, err
		}

		audit.CheckResults = append(audit.CheckResults, model.CheckResult{
			AuditID:         audit.ID,
			InternalCheckID: internalID,
			ExternalCheckID: checkID,
			ComponentID:     componentID,
			Value:           azskValue(rec.ControlResults[0].VerificationResult),
			Message:         rec.ControlItem.ControlID,
		})
	}

	meta, err := metadataBlob(in, "subscription", map[string]interface{}{
		"id":        subscription,
		"name":      name,
		"resources": resources,
	})
	if err != nil {
		return nil, err
	}
	audit.MetadataAzure = meta
	return &Result{Audit: audit, Skipped: skipped}, nil
}

func azskSeverity(s string) model.Severity {
	switch s {
	case "Critical":
		return model.SeverityCritical
	case "High":
		return model.SeverityHigh
	case "Medium":
		return model.SeverityMedium
	default:
		return model.SeverityUnknown
	}
}

// Verify, Manual, Error and any other token carry no verdict.
func azskValue(s string) model.CheckValue {
	switch s {
	case "Passed":
		return model.CheckValueSucceeded
	case "Failed":
		return model.CheckValueFailed
	default:
		return model.CheckValueNoData
	}
}
