// Package worker runs the ingestion passes over the scanner containers and
// the periodic score reload.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub001/internal/s3"
)

type BlobStore interface {
	ListContainers(ctx context.Context) ([]string, error)
	ListUnprocessed(ctx context.Context, container string) ([]model.AuditBlob, error)
	DownloadFile(ctx context.Context, path string) (io.ReadCloser, error)
	MarkProcessed(ctx context.Context, blob model.AuditBlob) error
}

// AuditStore persists normalized results. Saving an id that is already
// stored returns an AlreadyExists error.
type AuditStore interface {
	SaveAuditResult(ctx context.Context, audit *model.Audit) error
	SaveImageScanResult(ctx context.Context, scan *model.ImageScanResult) error
}

type ScoreInvalidator interface {
	Invalidate(componentID string, day time.Time)
}

// PostProcessor runs after an audit is saved. Its failures are logged only.
type PostProcessor interface {
	Name() string
	Process(ctx context.Context, audit *model.Audit) error
}

type Runner struct {
	cfg      config.Config
	blobs    BlobStore
	store    AuditStore
	registry normalizer.Registry
	scores   ScoreInvalidator
	post     []PostProcessor
	state    *State
	id       string
	now      func() time.Time
}

func NewRunner(cfg config.Config, blobs BlobStore, store AuditStore, registry normalizer.Registry, state *State) *Runner {
	if state == nil {
		state = NewState()
	}
	return &Runner{
		cfg:      cfg,
		blobs:    blobs,
		store:    store,
		registry: registry,
		state:    state,
		id:       uuid.NewString(),
		now:      time.Now,
	}
}

// WithScores makes every saved audit invalidate its score cell.
func (r *Runner) WithScores(scores ScoreInvalidator) *Runner {
	r.scores = scores
	return r
}

func (r *Runner) WithPostProcessors(post ...PostProcessor) *Runner {
	r.post = append(r.post, post...)
	return r
}

func (r *Runner) WorkerID() string { return r.id }

// RunForever runs an ingestion pass every poll interval until ctx is done.
func (r *Runner) RunForever(ctx context.Context) error {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := r.ProcessPass(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.WithError(err).WithField("worker", r.id).Error("ingestion pass failed")
		} else {
			r.state.MarkContainersScanned(r.now())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessPass ingests every unprocessed audit batch of every container.
// Containers are processed concurrently, batches of one container in order.
func (r *Runner) ProcessPass(ctx context.Context) error {
	containers, err := r.blobs.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(max(r.cfg.WorkerConcurrency, 1))
	for _, container := range containers {
		container := container
		g.Go(func() error { return r.processContainer(ctx, container) })
	}
	return g.Wait()
}

func (r *Runner) processContainer(ctx context.Context, container string) error {
	logger := log.WithFields(log.Fields{"worker": r.id, "container": container})
	scanner, err := r.scannerMetadata(ctx, container)
	if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
		logger.WithError(err).Warn("skipping container without valid scanner metadata")
		return nil
	}
	if err != nil {
		return fmt.Errorf("container %s: %w", container, err)
	}
	logger = logger.WithField("scanner", scanner.ScannerID())
	r.checkHeartbeat(logger, scanner)

	n, err := r.registry.For(scanner.Type)
	if err != nil {
		logger.WithError(err).Warn("skipping container of unsupported scanner")
		return nil
	}

	blobs, err := r.blobs.ListUnprocessed(ctx, container)
	if err != nil {
		return fmt.Errorf("list unprocessed %s: %w", container, err)
	}
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processAudit(ctx, scanner, n, blob); err != nil {
			metrics.AuditProcessed(string(scanner.Type), "error")
			logger.WithError(err).WithField("blob", blob.Name).Error("audit batch left unprocessed")
		}
	}
	return nil
}

func (r *Runner) scannerMetadata(ctx context.Context, container string) (model.ScannerMetadata, error) {
	var m model.ScannerMetadata
	raw, err := r.download(ctx, s3.ScannerMetadataPath(container))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, errors.NotValidf("scanner metadata of %s: %v", container, err)
	}
	if m.Type == "" || m.ID == "" {
		return m, errors.NotValidf("scanner metadata of %s without type or id", container)
	}
	return m, nil
}

type heartbeat int

const (
	heartbeatOK heartbeat = iota
	heartbeatLate
	heartbeatSilent
)

// heartbeatStatus is late once the scanner missed one heartbeat period and
// silent once it missed max(1h, two periods).
func heartbeatStatus(m model.ScannerMetadata, now time.Time) (heartbeat, time.Duration) {
	if m.HeartbeatPeriodicity <= 0 || m.Heartbeat <= 0 {
		return heartbeatOK, 0
	}
	period := time.Duration(m.HeartbeatPeriodicity) * time.Second
	silent := now.Sub(m.LastHeartbeat())
	switch {
	case silent > max(time.Hour, 2*period):
		return heartbeatSilent, silent
	case silent > period:
		return heartbeatLate, silent
	default:
		return heartbeatOK, silent
	}
}

func (r *Runner) checkHeartbeat(logger *log.Entry, m model.ScannerMetadata) {
	status, silent := heartbeatStatus(m, r.now())
	logger = logger.WithField("silent", silent.Round(time.Second).String())
	switch status {
	case heartbeatSilent:
		logger.Error("scanner stopped sending heartbeats")
	case heartbeatLate:
		logger.Warn("scanner heartbeat is late")
	}
}

func (r *Runner) processAudit(ctx context.Context, scanner model.ScannerMetadata, n normalizer.Normalizer, blob model.AuditBlob) error {
	logger := log.WithFields(log.Fields{"worker": r.id, "scanner": scanner.ScannerID(), "blob": blob.Path()})
	raw, err := r.download(ctx, blob.Path())
	if err != nil {
		return fmt.Errorf("download %s: %w", blob.Path(), err)
	}
	run, err := n.ParseRunMetadata(raw)
	if err != nil {
		return r.consumeMalformed(ctx, logger, scanner, blob, err)
	}
	if run.AuditID == "" {
		run.AuditID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(blob.Path())).String()
	}
	logger = logger.WithField("audit", run.AuditID)

	if !run.Succeeded() {
		return r.recordFailedRun(ctx, logger, scanner, n, blob, run)
	}

	files, err := r.downloadFiles(ctx, path.Dir(blob.Path()), run.Paths)
	if err != nil {
		return err
	}
	res, err := n.Normalize(ctx, normalizer.Input{Scanner: scanner, Run: run, Files: files})
	if errors.Is(err, normalizer.ErrMalformedAudit) {
		return r.consumeMalformed(ctx, logger, scanner, blob, err)
	}
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	if err := r.persist(ctx, logger, res); err != nil {
		return err
	}
	if err := r.blobs.MarkProcessed(ctx, blob); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	metrics.AuditProcessed(string(scanner.Type), "ok")
	logger.WithField("skipped", res.Skipped).Info("audit processed")
	return nil
}

// consumeMalformed marks a batch that can never be normalized as processed.
func (r *Runner) consumeMalformed(ctx context.Context, logger *log.Entry, scanner model.ScannerMetadata, blob model.AuditBlob, cause error) error {
	logger.WithError(cause).Error("malformed audit batch")
	if err := r.blobs.MarkProcessed(ctx, blob); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	metrics.AuditProcessed(string(scanner.Type), "malformed")
	return nil
}

func (r *Runner) recordFailedRun(ctx context.Context, logger *log.Entry, scanner model.ScannerMetadata, n normalizer.Normalizer, blob model.AuditBlob, run *normalizer.RunMetadata) error {
	reason := n.DescribeFailure(run)
	logger.WithFields(log.Fields{"reason": reason, "failure": run.FailureDescription}).Warn("scanner reported a failed run")
	if scanner.Type == model.ScannerTrivy && run.ImageTag != "" {
		scan := &model.ImageScanResult{
			ID:          run.AuditID,
			Date:        run.Date(),
			ImageTag:    run.ImageTag,
			Status:      model.ImageScanFailed,
			Description: reason,
		}
		if err := r.saveImageScan(ctx, logger, scan); err != nil {
			return err
		}
	}
	if err := r.blobs.MarkProcessed(ctx, blob); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	metrics.AuditProcessed(string(scanner.Type), "failed_run")
	return nil
}

func (r *Runner) persist(ctx context.Context, logger *log.Entry, res *normalizer.Result) error {
	if res.ImageScan != nil {
		if err := r.saveImageScan(ctx, logger, res.ImageScan); err != nil {
			return err
		}
	}
	if res.Audit == nil {
		return nil
	}
	err := r.store.SaveAuditResult(ctx, res.Audit)
	if errors.Is(err, errors.AlreadyExists) {
		logger.Info("audit already stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	if r.scores != nil {
		r.scores.Invalidate(res.Audit.ComponentID, res.Audit.Date)
	}
	for _, p := range r.post {
		if err := p.Process(ctx, res.Audit); err != nil {
			logger.WithError(err).WithField("postprocessor", p.Name()).Warn("post-processing failed")
		}
	}
	return nil
}

func (r *Runner) saveImageScan(ctx context.Context, logger *log.Entry, scan *model.ImageScanResult) error {
	err := r.store.SaveImageScanResult(ctx, scan)
	if errors.Is(err, errors.AlreadyExists) {
		logger.Info("image scan already stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("save image scan: %w", err)
	}
	return nil
}

// download reads one object. A failure aborts the audit; the batch stays
// unprocessed and the next pass picks it up again.
func (r *Runner) download(ctx context.Context, p string) ([]byte, error) {
	rc, err := r.blobs.DownloadFile(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// downloadFiles fetches the result files of one run, relative to folder.
func (r *Runner) downloadFiles(ctx context.Context, folder string, paths []string) (map[string][]byte, error) {
	var (
		mu    sync.Mutex
		files = make(map[string][]byte, len(paths))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.DownloadConcurrency, 1))
	for _, p := range paths {
		p := p
		g.Go(func() error {
			data, err := r.download(gctx, path.Join(folder, p))
			if err != nil {
				return fmt.Errorf("download %s: %w", p, err)
			}
			mu.Lock()
			files[p] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
