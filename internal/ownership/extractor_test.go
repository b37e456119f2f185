package ownership

import (
	"context"
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

const azureMeta = `{
  "scanner": {"type": "azsk", "id": "s1"},
  "audit": {"audit-id": "a1"},
  "subscription": {
    "id": "00",
    "name": "Test Subscription",
    "resources": [
      {"ResourceGroupName": "rg", "ResourceName": "vm1", "ResourceTypeName": "VirtualMachine",
       "ResourceDetails": {"Id": "/subscriptions/00/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1",
                           "Type": "Microsoft.Compute/virtualMachines",
                           "Tags": {"Owner": "alice", "changedate": "2026-02-03"}}},
      {"ResourceGroupName": "rg", "ResourceName": "kv", "ResourceTypeName": "KeyVault",
       "ResourceDetails": {"Tags": {}}},
      {"ResourceGroupName": "rg", "ResourceName": "st", "ResourceTypeName": "Storage"},
      {"ResourceName": "broken"}
    ]
  }
}`

const kubeMeta = `{
  "scanner": {"type": "polaris", "id": "scanner-1"},
  "audit": {"audit-id": "k1", "cluster-id": "c1"},
  "cluster": {
    "Namespaces": [
      {"metadata": {"name": "web", "labels": {"owner": "team-web"}}},
      {"metadata": {"name": "kube-system"}}
    ],
    "Deployments": [{"metadata": {"name": "frontend", "namespace": "web", "labels": {"owner": "bob"}}}],
    "StatefulSets": [{"metadata": {"name": "db", "namespace": "web"}}],
    "DaemonSets": [],
    "Jobs": [{"metadata": {"name": "migrate", "namespace": "web", "labels": {"owner": "carol"}}}],
    "CronJobs": [{"metadata": {"name": "nightly", "namespace": "web", "labels": {"owner": "dave"}}}]
  }
}`

func TestExtract_Azure(t *testing.T) {
	g := gomega.NewWithT(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &model.Audit{ID: "a1", MetadataAzure: &model.MetadataBlob{AuditID: "a1", JSON: azureMeta}}

	entries, err := Extract(audit, now)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(entries).To(gomega.Equal([]model.OwnershipEntry{
		{ComponentID: "/subscriptions/00/resource_group/rg/VirtualMachine/vm1", Owner: "alice", UpdatedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)},
		{ComponentID: "/subscriptions/00/resource_group/rg/KeyVault/kv", UpdatedAt: now},
		{ComponentID: "/subscriptions/00/resource_group/rg/Storage/st", UpdatedAt: now},
	}))
}

func TestExtract_Kube(t *testing.T) {
	g := gomega.NewWithT(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &model.Audit{ID: "k1", MetadataKube: &model.MetadataBlob{AuditID: "k1", JSON: kubeMeta}}

	entries, err := Extract(audit, now)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	owners := map[string]string{}
	for _, e := range entries {
		owners[e.ComponentID] = e.Owner
	}
	g.Expect(owners).To(gomega.Equal(map[string]string{
		"/k8s/c1/namespace/web":                     "team-web",
		"/k8s/c1/namespace/kube-system":             "",
		"/k8s/c1/namespace/web/deployment/frontend": "bob",
		"/k8s/c1/namespace/web/statefulset/db":      "",
		"/k8s/c1/namespace/web/job/migrate":         "carol",
		"/k8s/c1/namespace/web/cronjob/nightly":     "dave",
	}))
}

func TestExtract_InvalidJSON(t *testing.T) {
	g := gomega.NewWithT(t)
	audit := &model.Audit{ID: "x", MetadataKube: &model.MetadataBlob{JSON: "{"}}
	_, err := Extract(audit, time.Now())
	g.Expect(err).To(gomega.HaveOccurred())
}

func TestExtractor_Process(t *testing.T) {
	g := gomega.NewWithT(t)
	store := newFakeStore(
		model.OwnershipEntry{ComponentID: "/k8s/c1/namespace/web/statefulset/db", Owner: "old-owner"},
		model.OwnershipEntry{ComponentID: "/k8s/c1", Owner: "platform"},
	)
	cache := New(store, nil)
	ctx := context.Background()

	// prime the cache so the invalidation is observable
	g.Expect(cache.GetOwner(ctx, "/k8s/c1/namespace/web/statefulset/db")).To(gomega.Equal("old-owner"))

	audit := &model.Audit{ID: "k1", MetadataKube: &model.MetadataBlob{AuditID: "k1", JSON: kubeMeta}}
	g.Expect(NewExtractor(store, cache).Process(ctx, audit)).To(gomega.Succeed())

	// existing row cleared, new rows only with owners
	g.Expect(store.rows).To(gomega.HaveKey("/k8s/c1/namespace/web/statefulset/db"))
	g.Expect(store.rows["/k8s/c1/namespace/web/statefulset/db"].Owner).To(gomega.BeEmpty())
	g.Expect(store.rows).NotTo(gomega.HaveKey("/k8s/c1/namespace/kube-system"))
	g.Expect(store.rows).To(gomega.HaveKey("/k8s/c1/namespace/web/deployment/frontend"))
	g.Expect(store.rows).To(gomega.HaveLen(6))

	g.Expect(cache.GetOwner(ctx, "/k8s/c1/namespace/web/statefulset/db")).To(gomega.Equal("team-web"))
	g.Expect(cache.GetOwner(ctx, "/k8s/c1/namespace/kube-system/deployment/dns")).To(gomega.Equal("platform"))
}

func TestExtractor_ProcessWithoutMetadata(t *testing.T) {
	g := gomega.NewWithT(t)
	store := newFakeStore()
	g.Expect(NewExtractor(store, New(store, nil)).Process(context.Background(), &model.Audit{ID: "empty"})).To(gomega.Succeed())
	g.Expect(store.lists).To(gomega.BeZero())
}
