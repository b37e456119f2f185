package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/onsi/gomega"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/db/sqlite"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/refcache"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/s3"
)

var now = time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

// fakeBlobs is an in-memory bucket.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	downloads map[string]int
	failing   map[string]error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, downloads: map[string]int{}, failing: map[string]error{}}
}

func (b *fakeBlobs) put(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = []byte(content)
}

func (b *fakeBlobs) processed(blob model.AuditBlob) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[blob.Path()+".processed"]
	return ok
}

func (b *fakeBlobs) ListContainers(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for key := range b.objects {
		c := strings.SplitN(key, "/", 2)[0]
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *fakeBlobs) ListUnprocessed(_ context.Context, container string) ([]model.AuditBlob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := map[string]struct{}{}
	for key := range b.objects {
		if strings.HasPrefix(key, container+"/") {
			keys[key] = struct{}{}
		}
	}
	return s3.Unprocessed(container, keys), nil
}

func (b *fakeBlobs) DownloadFile(_ context.Context, p string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloads[p]++
	if err := b.failing[p]; err != nil {
		return nil, err
	}
	data, ok := b.objects[p]
	if !ok {
		return nil, errors.NotFoundf("object %s", p)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobs) MarkProcessed(_ context.Context, blob model.AuditBlob) error {
	b.put(blob.Path()+".processed", "")
	return nil
}

// recordingStore wraps the embedded store and counts saves.
type recordingStore struct {
	*sqlite.Store
	mu     sync.Mutex
	audits []string
	scans  []*model.ImageScanResult
	err    error
}

func (s *recordingStore) SaveAuditResult(ctx context.Context, audit *model.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if err := s.Store.SaveAuditResult(ctx, audit); err != nil {
		return err
	}
	s.audits = append(s.audits, audit.ID)
	return nil
}

func (s *recordingStore) SaveImageScanResult(ctx context.Context, scan *model.ImageScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if err := s.Store.SaveImageScanResult(ctx, scan); err != nil {
		return err
	}
	s.scans = append(s.scans, scan)
	return nil
}

type fakeScores struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeScores) Invalidate(componentID string, day time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, componentID+"@"+day.Format(time.DateOnly))
}

type fakePost struct {
	mu     sync.Mutex
	audits []string
	err    error
}

func (p *fakePost) Name() string { return "fake" }

func (p *fakePost) Process(_ context.Context, audit *model.Audit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audits = append(p.audits, audit.ID)
	return p.err
}

type harness struct {
	blobs  *fakeBlobs
	store  *recordingStore
	scores *fakeScores
	post   *fakePost
	runner *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	h := &harness{
		blobs:  newFakeBlobs(),
		store:  &recordingStore{Store: db},
		scores: &fakeScores{},
		post:   &fakePost{},
	}
	registry := normalizer.NewRegistry(
		refcache.NewCheckCache(db.Checks(), refcache.TTLs{}),
		refcache.NewCVECache(db.CVEs(), refcache.TTLs{}),
	)
	cfg := config.Config{WorkerConcurrency: 2, DownloadConcurrency: 2}
	h.runner = NewRunner(cfg, h.blobs, h.store, registry, nil).WithScores(h.scores).WithPostProcessors(h.post)
	h.runner.now = func() time.Time { return now }
	return h
}

func scannerJSON(scannerType, id string) string {
	return fmt.Sprintf(`{"type":%q,"id":%q,"periodicity":"on-cron(0 */6 * * *)","heartbeat-periodicity":600,"heartbeat":%d}`,
		scannerType, id, now.Add(-time.Minute).Unix())
}

const (
	polarisRun = `{"audit-id":"%s","cluster-id":"c1","timestamp":%d,"result":"succeeded","polaris-audit-path":"audit.json","k8s-meta-path":"k8s-meta.json"}`
	polarisOut = `{"Results":[{"Name":"api","Namespace":"ns","Kind":"Deployment","Results":{
  "hostIPCSet":{"ID":"hostIPCSet","Message":"Host IPC is not configured","Success":true,"Severity":"error","Category":"Security"},
  "cpuLimitsMissing":{"ID":"cpuLimitsMissing","Message":"CPU limits should be set","Success":false,"Severity":"warning","Category":"Efficiency"}}}]}`
	polarisKube = `{"Namespaces":[{"metadata":{"name":"ns","labels":{"owner":"team-a"}}}]}`
)

func (h *harness) addPolarisRun(folder, auditID string) model.AuditBlob {
	h.blobs.put("polaris-1/polaris-1", scannerJSON("polaris", "s1"))
	h.blobs.put("polaris-1/"+folder+"/meta", fmt.Sprintf(polarisRun, auditID, now.Add(-time.Hour).Unix()))
	h.blobs.put("polaris-1/"+folder+"/audit.json", polarisOut)
	h.blobs.put("polaris-1/"+folder+"/k8s-meta.json", polarisKube)
	return model.AuditBlob{Container: "polaris-1", Name: folder + "/meta"}
}

func TestProcessPass_IngestsAllContainers(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	h := newHarness(t)

	polaris := h.addPolarisRun("run-1", "p1")
	h.blobs.put("trivy-1/trivy-1", scannerJSON("trivy", "t1"))
	h.blobs.put("trivy-1/run-1/meta", fmt.Sprintf(
		`{"audit-id":"t1","image-tag":"nginx:1.25","timestamp":%d,"audit-result":"succeeded","trivy-audit-path":"result.json"}`, now.Unix()))
	h.blobs.put("trivy-1/run-1/result.json",
		`[{"Target":"debian","Vulnerabilities":[{"VulnerabilityID":"CVE-2023-4911","PkgName":"libc6","InstalledVersion":"2.36","Severity":"HIGH"}]}]`)
	trivy := model.AuditBlob{Container: "trivy-1", Name: "run-1/meta"}

	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())

	g.Expect(h.blobs.processed(polaris)).To(gomega.BeTrue())
	g.Expect(h.blobs.processed(trivy)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.Equal([]string{"p1"}))
	g.Expect(h.store.scans).To(gomega.HaveLen(1))
	g.Expect(h.store.scans[0].FoundCVEs).To(gomega.HaveLen(1))
	g.Expect(h.scores.invalidated).To(gomega.Equal([]string{"/k8s/c1@2026-05-20"}))
	g.Expect(h.post.audits).To(gomega.Equal([]string{"p1"}))

	counters, err := h.store.CountersForAudit(ctx, 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(counters).To(gomega.Equal(model.CountersSummary{Warning: 1, Succeeded: 1}))

	// a second pass finds nothing left to do
	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.store.audits).To(gomega.HaveLen(1))
}

func TestProcessPass_MalformedBatchIsConsumed(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.blobs.put("polaris-1/run-1/audit.json", `{"NoResults": true}`)

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.BeEmpty())
	g.Expect(h.post.audits).To(gomega.BeEmpty())
}

func TestProcessPass_UnreadableRunMetadataIsConsumed(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.blobs.put("polaris-1/run-1/meta", `not json`)

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.BeEmpty())
}

func TestProcessPass_StoreFailureKeepsBatch(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.store.err = fmt.Errorf("connection reset")

	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeFalse())
	g.Expect(h.post.audits).To(gomega.BeEmpty())

	h.store.err = nil
	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.Equal([]string{"p1"}))
}

func TestProcessPass_MissingResultFileKeepsBatch(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.blobs.mu.Lock()
	delete(h.blobs.objects, "polaris-1/run-1/k8s-meta.json")
	h.blobs.mu.Unlock()

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeFalse())
	g.Expect(h.blobs.downloads["polaris-1/run-1/k8s-meta.json"]).To(gomega.Equal(1))
}

func TestProcessPass_FailedDownloadIsPickedUpNextPass(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.blobs.failing["polaris-1/run-1/audit.json"] = fmt.Errorf("connection reset")

	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.blobs.downloads["polaris-1/run-1/audit.json"]).To(gomega.Equal(1))
	g.Expect(h.blobs.processed(blob)).To(gomega.BeFalse())
	g.Expect(h.store.audits).To(gomega.BeEmpty())

	h.blobs.mu.Lock()
	delete(h.blobs.failing, "polaris-1/run-1/audit.json")
	h.blobs.mu.Unlock()
	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.blobs.downloads["polaris-1/run-1/audit.json"]).To(gomega.Equal(2))
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.Equal([]string{"p1"}))
}

func TestProcessPass_AlreadyStoredAuditIsConsumed(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	h := newHarness(t)
	h.addPolarisRun("run-1", "p1")
	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())

	again := h.addPolarisRun("run-2", "p1")
	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.Succeed())
	g.Expect(h.blobs.processed(again)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.Equal([]string{"p1"}))
	g.Expect(h.post.audits).To(gomega.Equal([]string{"p1"}))
}

func TestProcessPass_PostProcessorFailureIsLogged(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	h.post.err = fmt.Errorf("ownership table locked")

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.audits).To(gomega.Equal([]string{"p1"}))
}

func TestProcessPass_FailedTrivyRun(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	h.blobs.put("trivy-1/trivy-1", scannerJSON("trivy", "t1"))
	h.blobs.put("trivy-1/run-1/meta", fmt.Sprintf(
		`{"audit-id":"t1","image-tag":"private/app:1","timestamp":%d,"audit-result":"failed","failure-description":"GET https://registry/v2/: status=401"}`, now.Unix()))
	blob := model.AuditBlob{Container: "trivy-1", Name: "run-1/meta"}

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	g.Expect(h.blobs.processed(blob)).To(gomega.BeTrue())
	g.Expect(h.store.scans).To(gomega.HaveLen(1))
	g.Expect(h.store.scans[0].Status).To(gomega.Equal(model.ImageScanFailed))
	g.Expect(h.store.scans[0].Description).To(gomega.Equal(normalizer.ScanNotAuthorized))
}

func TestProcessPass_MissingAuditIDIsDerivedFromPath(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	h.addPolarisRun("run-1", "")

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	want := uuid.NewSHA1(uuid.NameSpaceURL, []byte("polaris-1/run-1/meta")).String()
	g.Expect(h.store.audits).To(gomega.Equal([]string{want}))
}

func TestProcessPass_SkipsUnknownContainers(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	h.blobs.put("kube-bench/kube-bench", scannerJSON("kube-bench", "kb"))
	h.blobs.put("kube-bench/run-1/meta", `{}`)
	h.blobs.put("orphan/run-1/meta", `{}`)
	h.blobs.put("broken/broken", `{"type":"polaris"}`)
	h.blobs.put("broken/run-1/meta", `{}`)

	g.Expect(h.runner.ProcessPass(context.Background())).To(gomega.Succeed())
	for _, c := range []string{"kube-bench", "orphan", "broken"} {
		g.Expect(h.blobs.processed(model.AuditBlob{Container: c, Name: "run-1/meta"})).To(gomega.BeFalse(), c)
	}
}

func TestProcessPass_StopsOnCancelledContext(t *testing.T) {
	g := gomega.NewWithT(t)
	h := newHarness(t)
	blob := h.addPolarisRun("run-1", "p1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g.Expect(h.runner.ProcessPass(ctx)).To(gomega.MatchError(context.Canceled))
	g.Expect(h.blobs.processed(blob)).To(gomega.BeFalse())
}

func TestHeartbeatStatus(t *testing.T) {
	tests := []struct {
		name   string
		period int64
		ago    time.Duration
		want   heartbeat
	}{
		{"fresh", 600, 5 * time.Minute, heartbeatOK},
		{"late", 600, 20 * time.Minute, heartbeatLate},
		{"late below one hour floor", 600, 50 * time.Minute, heartbeatLate},
		{"silent", 600, 61 * time.Minute, heartbeatSilent},
		{"silent after two long periods", 3 * 3600, 7 * time.Hour, heartbeatSilent},
		{"late within two long periods", 3 * 3600, 5 * time.Hour, heartbeatLate},
		{"no periodicity", 0, 48 * time.Hour, heartbeatOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := model.ScannerMetadata{HeartbeatPeriodicity: tt.period, Heartbeat: now.Add(-tt.ago).Unix()}
			if got, _ := heartbeatStatus(m, now); got != tt.want {
				t.Errorf("heartbeatStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
