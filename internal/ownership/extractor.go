package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

// Extractor is an audit post-processor that records the owners found in the
// audit metadata and invalidates the ownership cache.
type Extractor struct {
	store Store
	cache *Cache
	now   func() time.Time
}

func NewExtractor(store Store, cache *Cache) *Extractor {
	return &Extractor{store: store, cache: cache, now: time.Now}
}

func (e *Extractor) Name() string { return "ownership" }

// Process upserts the extracted owners. Existing components are always
// updated, new ones are only stored when they carry an owner.
func (e *Extractor) Process(ctx context.Context, audit *model.Audit) error {
	found, err := Extract(audit, e.now())
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}

	existing, err := e.store.ListOwnership(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, row := range existing {
		known[row.ComponentID] = true
	}

	upserts := make([]model.OwnershipEntry, 0, len(found))
	for _, entry := range found {
		if known[entry.ComponentID] || entry.Owner != "" {
			upserts = append(upserts, entry)
		}
	}
	if len(upserts) > 0 {
		if err := e.store.UpsertOwnership(ctx, upserts); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"audit": audit.ID, "found": len(found), "stored": len(upserts)}).Info("ownership extracted")
	e.cache.Invalidate()
	return nil
}

// Extract reads owner tags and labels from the metadata blobs of audit.
func Extract(audit *model.Audit, now time.Time) ([]model.OwnershipEntry, error) {
	var out []model.OwnershipEntry
	if audit.MetadataKube != nil {
		entries, err := fromKube(audit.MetadataKube.JSON, now)
		if err != nil {
			return nil, fmt.Errorf("kubernetes metadata of %s: %w", audit.ID, err)
		}
		out = append(out, entries...)
	}
	if audit.MetadataAzure != nil {
		entries, err := fromAzure(audit.MetadataAzure.JSON, now)
		if err != nil {
			return nil, fmt.Errorf("azure metadata of %s: %w", audit.ID, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

type azureMetadata struct {
	Subscription struct {
		ID        string          `json:"id"`
		Resources []azureResource `json:"resources"`
	} `json:"subscription"`
}

type azureResource struct {
	ResourceGroupName string `json:"ResourceGroupName"`
	ResourceName      string `json:"ResourceName"`
	ResourceTypeName  string `json:"ResourceTypeName"`
	ResourceDetails   *struct {
		Tags map[string]string `json:"Tags"`
	} `json:"ResourceDetails"`
}

func fromAzure(raw string, now time.Time) ([]model.OwnershipEntry, error) {
	var meta azureMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	var out []model.OwnershipEntry
	for _, r := range meta.Subscription.Resources {
		if r.ResourceGroupName == "" || r.ResourceName == "" || r.ResourceTypeName == "" {
			continue
		}
		entry := model.OwnershipEntry{
			ComponentID: model.CloudComponent(meta.Subscription.ID, r.ResourceGroupName, r.ResourceTypeName, r.ResourceName).String(),
			UpdatedAt:   now,
		}
		if r.ResourceDetails != nil {
			entry.Owner = tagValue(r.ResourceDetails.Tags, "owner")
			if changed, ok := parseChangeDate(tagValue(r.ResourceDetails.Tags, "changedate")); ok {
				entry.UpdatedAt = changed
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// azure tag names are case-insensitive
func tagValue(tags map[string]string, name string) string {
	if v, ok := tags[name]; ok {
		return v
	}
	for k, v := range tags {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func parseChangeDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.DateOnly, "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type kubeObject struct {
	Metadata struct {
		Name      string            `json:"name"`
		Namespace string            `json:"namespace"`
		Labels    map[string]string `json:"labels"`
	} `json:"metadata"`
}

type kubeMetadata struct {
	Scanner struct {
		ID string `json:"id"`
	} `json:"scanner"`
	Audit struct {
		ClusterID string `json:"cluster-id"`
	} `json:"audit"`
	Cluster struct {
		Namespaces   []kubeObject `json:"Namespaces"`
		Deployments  []kubeObject `json:"Deployments"`
		StatefulSets []kubeObject `json:"StatefulSets"`
		DaemonSets   []kubeObject `json:"DaemonSets"`
		Jobs         []kubeObject `json:"Jobs"`
		CronJobs     []kubeObject `json:"CronJobs"`
	} `json:"cluster"`
}

func fromKube(raw string, now time.Time) ([]model.OwnershipEntry, error) {
	var meta kubeMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	cluster := meta.Audit.ClusterID
	if cluster == "" {
		cluster = meta.Scanner.ID
	}
	if cluster == "" {
		return nil, fmt.Errorf("no cluster id")
	}

	var out []model.OwnershipEntry
	for _, ns := range meta.Cluster.Namespaces {
		if ns.Metadata.Name == "" {
			continue
		}
		out = append(out, model.OwnershipEntry{
			ComponentID: model.KubeComponent(cluster, ns.Metadata.Name, "", "").String(),
			Owner:       ns.Metadata.Labels["owner"],
			UpdatedAt:   now,
		})
	}

	workloads := []struct {
		kind    string
		objects []kubeObject
	}{
		{"deployment", meta.Cluster.Deployments},
		{"statefulset", meta.Cluster.StatefulSets},
		{"daemonset", meta.Cluster.DaemonSets},
		{"job", meta.Cluster.Jobs},
		{"cronjob", meta.Cluster.CronJobs},
	}
	for _, w := range workloads {
		for _, obj := range w.objects {
			if obj.Metadata.Name == "" || obj.Metadata.Namespace == "" {
				continue
			}
			out = append(out, model.OwnershipEntry{
				ComponentID: model.KubeComponent(cluster, obj.Metadata.Namespace, w.kind, obj.Metadata.Name).String(),
				Owner:       obj.Metadata.Labels["owner"],
				UpdatedAt:   now,
			})
		}
	}
	return out, nil
}
