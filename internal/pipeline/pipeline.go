// Package pipeline executes batches of queued beams: bucket creation first,
// then bounded-concurrency object transfers, then result classification and
// an immediate reconciliation pass. A run never blocks indefinitely; beams
// whose preconditions are not met yet are re-queued and picked up by a later
// run.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/beamup/internal/beam"
	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	"github.com/dmitrijs2005/beamup/internal/reconcile"
	"github.com/dmitrijs2005/beamup/internal/records"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

// Outcome is the per-beam verdict of one run.
type Outcome int

const (
	// OutcomeSuccess means the transfer went through; the beam is either
	// fully completed or only waiting on remote integration.
	OutcomeSuccess Outcome = iota
	// OutcomeWaiting means a precondition was not met yet and the beam was
	// re-queued for a later run.
	OutcomeWaiting
	// OutcomeFailed means the beam ended in a failed process.
	OutcomeFailed
)

// Result is the overall exit verdict of a run, fed back to whatever queue
// mechanism triggered it.
type Result int

const (
	ResultSuccess Result = iota
	ResultWaiting
	ResultFailed
)

// Report summarizes one run.
type Report struct {
	RunID    string
	Outcomes map[int64]Outcome
}

// Result folds the per-beam outcomes into the exit verdict: any failure
// fails the run, otherwise any re-queued beam asks for a later retry.
func (r *Report) Result() Result {
	res := ResultSuccess
	for _, o := range r.Outcomes {
		switch o {
		case OutcomeFailed:
			return ResultFailed
		case OutcomeWaiting:
			res = ResultWaiting
		}
	}
	return res
}

// Pipeline orchestrates one batch of beams.
type Pipeline struct {
	repo  beam.Repository
	svc   *beam.Service
	store records.Store
	api   remote.API
	rec   *reconcile.Reconciler
	cfg   *config.Config
	log   logging.Logger
}

func New(repo beam.Repository, svc *beam.Service, store records.Store, api remote.API, rec *reconcile.Reconciler, cfg *config.Config, log logging.Logger) *Pipeline {
	return &Pipeline{repo: repo, svc: svc, store: store, api: api, rec: rec, cfg: cfg, log: log}
}

// transfer is one built request, ready to execute.
type transfer struct {
	b       *beam.Record
	method  string
	url     string
	headers http.Header
	body    io.ReadCloser
	size    int64
}

// Run processes the given beam ids. Only beams whose process is queued are
// claimed; everything else is left untouched. Every step re-validates current
// state before acting, so re-submitting the same ids after a partial run is
// always safe.
func (p *Pipeline) Run(ctx context.Context, ids []int64) (*Report, error) {
	if !p.cfg.AccountConfigured() {
		return nil, common.ErrAccountNotConfigured
	}

	report := &Report{RunID: uuid.NewString(), Outcomes: map[int64]Outcome{}}
	p.log.Info(ctx, "pipeline run started", "run", report.RunID, "beams", len(ids))

	beams, err := p.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var items, files []*beam.Record
	for _, b := range beams {
		if !b.IsProcessQueued() {
			p.log.Info(ctx, "beam not queued, skipping", "run", report.RunID, "beam", b.ID, "process", b.Process)
			continue
		}
		if b.IsItem() {
			items = append(items, b)
		} else {
			files = append(files, b)
		}
	}

	// Items go first so no file transfer ever races ahead of its parent's
	// bucket creation.
	for _, b := range items {
		p.ensureBucket(ctx, b, report)
	}

	var transfers []*transfer
	for _, b := range append(items, files...) {
		if _, done := report.Outcomes[b.ID]; done {
			continue
		}
		t := p.buildTransfer(ctx, b, report)
		if t == nil {
			continue
		}
		transfers = append(transfers, t)
	}

	p.execute(ctx, transfers, report)

	for _, t := range transfers {
		if _, err := p.rec.CheckRemoteStatus(ctx, t.b); err != nil {
			p.log.Warn(ctx, "reconciliation failed", "run", report.RunID, "beam", t.b.ID, "error", err)
		}
		report.Outcomes[t.b.ID] = outcomeFor(t.b)
	}

	p.log.Info(ctx, "pipeline run finished", "run", report.RunID, "result", report.Result())
	return report, nil
}

// ensureBucket performs the synchronous bucket-creation step for an item beam
// that does not have a usable bucket yet. Success parks the beam in
// QueuedWaitingBucket until the bucket is confirmed.
func (p *Pipeline) ensureBucket(ctx context.Context, b *beam.Record, report *Report) {
	if b.Status != beam.StatusToBeamUp || b.IsBucketReadyLocal() || b.Process == beam.ProcessQueuedWaitingBucket {
		return
	}

	ok, err := p.svc.IsReadyToBeamUp(ctx, b)
	if err != nil || !ok {
		p.noteSkip(b, report, err)
		return
	}
	if err := p.svc.AssignRemoteID(ctx, b); err != nil {
		p.fail(ctx, b, report, err)
		return
	}

	it, err := p.store.Item(ctx, b.RecordID)
	if err != nil {
		p.fail(ctx, b, report, fmt.Errorf("%w: %w", common.ErrRecord, err))
		return
	}
	headers := remote.Headers(p.cfg, remote.HeaderOptions{
		Title:          it.Title,
		NoIndex:        b.NoIndex(),
		AutoMakeBucket: true,
	})

	res := p.api.PutObject(ctx, remote.BucketURL(p.cfg, b.RemoteID), headers, nil, 0, nil)
	if err := res.Classify(); err != nil {
		p.fail(ctx, b, report, err)
		return
	}

	b.Process = beam.ProcessQueuedWaitingBucket
	if err := p.repo.Save(ctx, b); err != nil {
		p.fail(ctx, b, report, err)
		return
	}
	p.log.Info(ctx, "bucket creation requested", "beam", b.ID, "bucket", b.RemoteID)
}

// buildTransfer re-validates the beam and assembles its PUT or DELETE. A nil
// return means the beam was re-queued or failed; the report already says
// which.
func (p *Pipeline) buildTransfer(ctx context.Context, b *beam.Record, report *Report) *transfer {
	if b.Status == beam.StatusToBeamUp {
		ok, err := p.svc.IsReadyToBeamUp(ctx, b)
		if err != nil || !ok {
			p.noteSkip(b, report, err)
			return nil
		}
		if err := p.svc.AssignRemoteID(ctx, b); err != nil {
			p.fail(ctx, b, report, err)
			return nil
		}
	}
	if b.RemoteID == "" {
		p.fail(ctx, b, report, fmt.Errorf("%w: beam %d has no remote id", common.ErrRecord, b.ID))
		return nil
	}

	if !p.checkBucketReady(ctx, b, report) {
		return nil
	}
	if p.parentBusy(ctx, b, report) {
		return nil
	}

	t, err := p.assemble(ctx, b)
	if err != nil {
		p.fail(ctx, b, report, err)
		return nil
	}

	b.Process = beam.ProcessInProgress
	if err := p.repo.Save(ctx, b); err != nil {
		if t.body != nil {
			t.body.Close()
		}
		p.fail(ctx, b, report, err)
		return nil
	}
	return t
}

// checkBucketReady re-validates bucket availability right before the
// transfer. An item whose bucket is still materializing waits on the bounded
// metadata poll; running out of budget re-queues rather than fails.
func (p *Pipeline) checkBucketReady(ctx context.Context, b *beam.Record, report *Report) bool {
	if b.IsItem() {
		if b.IsBucketReadyLocal() {
			return true
		}
		meta, err := p.api.WaitForMetadata(ctx, b.RemoteID, p.cfg.MaxBucketWait)
		if err != nil {
			p.fail(ctx, b, report, err)
			return false
		}
		if meta == nil || meta.Error != "" {
			p.requeue(ctx, b, report, beam.ProcessQueuedWaitingBucket)
			return false
		}
		b.RemoteMetadata = meta
		if err := p.repo.Save(ctx, b); err != nil {
			p.fail(ctx, b, report, err)
			return false
		}
		return true
	}

	ready, err := p.svc.IsBucketReady(ctx, b)
	if err != nil {
		p.fail(ctx, b, report, err)
		return false
	}
	if !ready {
		process := beam.ProcessQueued
		if b.Status == beam.StatusToBeamUp {
			process = beam.ProcessQueuedWaitingBucket
		}
		p.requeue(ctx, b, report, process)
		return false
	}
	return true
}

// parentBusy postpones an update or removal of a file while its parent bucket
// still has remote tasks running, instead of racing a concurrent remote
// operation. The cached parent metadata has its task blob dropped on
// completion, so the check asks the service for the current document.
func (p *Pipeline) parentBusy(ctx context.Context, b *beam.Record, report *Report) bool {
	if !b.IsFile() || b.Status == beam.StatusToBeamUp {
		return false
	}
	parent, err := p.repo.GetByID(ctx, b.RequiredBeamID)
	if err != nil {
		p.fail(ctx, b, report, fmt.Errorf("%w: %w", common.ErrRecord, err))
		return true
	}
	meta, err := p.api.FetchMetadata(ctx, parent.RemoteID)
	if err != nil {
		p.fail(ctx, b, report, err)
		return true
	}
	if meta.PendingTasks() > 0 {
		p.requeue(ctx, b, report, beam.ProcessQueued)
		return true
	}
	return false
}

func (p *Pipeline) assemble(ctx context.Context, b *beam.Record) (*transfer, error) {
	if b.Status == beam.StatusToRemove {
		target := remote.ObjectURL(p.cfg, b.RemoteID)
		if b.IsItem() {
			target = remote.MetadataUploadURL(p.cfg, b.RemoteID)
		}
		return &transfer{
			b:       b,
			method:  http.MethodDelete,
			url:     target,
			headers: remote.Headers(p.cfg, remote.HeaderOptions{NoIndex: b.NoIndex(), CascadeDelete: true}),
		}, nil
	}

	if b.IsItem() {
		return p.assembleItemPut(ctx, b)
	}
	return p.assembleFilePut(ctx, b)
}

// itemDocument is the metadata payload uploaded for an item beam.
type itemDocument struct {
	Title      string `json:"title"`
	Collection string `json:"collection"`
	MediaType  string `json:"mediatype"`
	NoIndex    bool   `json:"noindex"`
	Creator    string `json:"creator,omitempty"`
}

func (p *Pipeline) assembleItemPut(ctx context.Context, b *beam.Record) (*transfer, error) {
	it, err := p.store.Item(ctx, b.RecordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRecord, err)
	}

	doc := itemDocument{
		Title:      it.Title,
		Collection: p.cfg.CollectionName,
		MediaType:  p.cfg.MediaType,
		NoIndex:    b.NoIndex(),
		Creator:    p.cfg.Creator,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRecord, err)
	}

	return &transfer{
		b:       b,
		method:  http.MethodPut,
		url:     remote.MetadataUploadURL(p.cfg, b.RemoteID),
		headers: remote.Headers(p.cfg, remote.HeaderOptions{Title: it.Title, NoIndex: b.NoIndex()}),
		body:    io.NopCloser(bytes.NewReader(body)),
		size:    int64(len(body)),
	}, nil
}

func (p *Pipeline) assembleFilePut(ctx context.Context, b *beam.Record) (*transfer, error) {
	f, err := p.store.File(ctx, b.RecordID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRecord, err)
	}
	rc, err := p.store.Open(ctx, f)
	if err != nil {
		if errors.Is(err, common.ErrLocalRecordMissing) {
			return nil, fmt.Errorf("%w: %w", common.ErrRecord, err)
		}
		return nil, err
	}

	return &transfer{
		b:      b,
		method: http.MethodPut,
		url:    remote.ObjectURL(p.cfg, b.RemoteID),
		headers: remote.Headers(p.cfg, remote.HeaderOptions{
			Title:     f.OriginalFilename,
			MediaType: f.MediaType(),
			NoIndex:   b.NoIndex(),
		}),
		body: rc,
		size: f.Size,
	}, nil
}

// execute runs all built transfers concurrently, bounded by the configured
// simultaneous cap, then classifies each result independently.
func (p *Pipeline) execute(ctx context.Context, transfers []*transfer, report *Report) {
	results := make([]remote.Result, len(transfers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxSimultaneous)
	for i, t := range transfers {
		i, t := i, t
		g.Go(func() error {
			defer func() {
				if t.body != nil {
					t.body.Close()
				}
			}()
			progress := func(sent, total int64) {
				p.log.Debug(ctx, "transfer progress", "beam", t.b.ID, "sent", sent, "total", total)
			}
			switch t.method {
			case http.MethodDelete:
				results[i] = p.api.DeleteObject(gctx, t.url, t.headers)
			default:
				results[i] = p.api.PutObject(gctx, t.url, t.headers, t.body, t.size, progress)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range transfers {
		b := t.b
		if err := results[i].Classify(); err != nil {
			p.fail(ctx, b, report, err)
			continue
		}
		b.Process = beam.ProcessInProgressWaitingRemote
		if err := p.repo.Save(ctx, b); err != nil {
			p.fail(ctx, b, report, err)
			continue
		}
		p.log.Info(ctx, "transfer done, awaiting remote confirmation", "beam", b.ID, "remote", b.RemoteID)
	}
}

// fail classifies err on the connection/record axis, persists the matching
// failed process, and records the outcome.
func (p *Pipeline) fail(ctx context.Context, b *beam.Record, report *Report, err error) {
	if errors.Is(err, common.ErrConnection) {
		b.Process = beam.ProcessFailedConnection
	} else {
		b.Process = beam.ProcessFailedRecord
	}
	if saveErr := p.repo.Save(ctx, b); saveErr != nil {
		p.log.Error(ctx, "failed to persist beam failure", "beam", b.ID, "error", saveErr)
	}
	p.log.Warn(ctx, "beam failed", "beam", b.ID, "type", b.RecordType, "record", b.RecordID, "process", b.Process, "error", err)
	report.Outcomes[b.ID] = OutcomeFailed
}

func (p *Pipeline) requeue(ctx context.Context, b *beam.Record, report *Report, process beam.Process) {
	if b.Process != process {
		b.Process = process
		if err := p.repo.Save(ctx, b); err != nil {
			p.fail(ctx, b, report, err)
			return
		}
	}
	p.log.Info(ctx, "beam postponed", "beam", b.ID, "process", b.Process)
	report.Outcomes[b.ID] = OutcomeWaiting
}

// noteSkip records the verdict for a beam that did not pass readiness checks;
// the readiness call already persisted the new process.
func (p *Pipeline) noteSkip(b *beam.Record, report *Report, err error) {
	if err != nil || b.IsProcessFailed() {
		report.Outcomes[b.ID] = OutcomeFailed
		return
	}
	report.Outcomes[b.ID] = OutcomeWaiting
}

func outcomeFor(b *beam.Record) Outcome {
	switch {
	case b.IsProcessFailed():
		return OutcomeFailed
	case b.IsProcessQueued():
		return OutcomeWaiting
	default:
		return OutcomeSuccess
	}
}
