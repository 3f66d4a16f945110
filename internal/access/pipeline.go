package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"reader/internal/domain"
	"reader/internal/platform/telemetry"
)

// Pipeline fetches, authorizes and decrypts content. At most one load per
// content ID runs at a time; concurrent callers with the same identity
// attach to it.
type Pipeline struct {
	blobs     BlobStore
	resolver  CredentialResolver
	decrypter Decrypter
	logger    *slog.Logger
	metrics   *telemetry.ReaderMetrics

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is one in-progress load. state and waiters are guarded by
// Pipeline.mu; outcome is written before done is closed.
type flight struct {
	contentID string
	identity  domain.Identity
	cancel    context.CancelFunc
	done      chan struct{}
	state     domain.PipelineState
	waiters   int
	outcome   domain.Outcome
}

// NewPipeline creates a pipeline over the given collaborators.
// The logger and metrics parameters are optional.
func NewPipeline(blobs BlobStore, resolver CredentialResolver, decrypter Decrypter, logger *slog.Logger, m *telemetry.ReaderMetrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		blobs:     blobs,
		resolver:  resolver,
		decrypter: decrypter,
		logger:    logger,
		metrics:   m,
		flights:   make(map[string]*flight),
	}
}

// Load returns the plaintext of desc for the reader, or a classified
// failure. If ctx ends before the load finishes the caller receives
// FailureCancelled; the load itself keeps running while other callers
// are still attached to it.
func (p *Pipeline) Load(ctx context.Context, desc domain.ContentDescriptor, id domain.Identity) domain.Outcome {
	if err := desc.Validate(); err != nil {
		p.logger.Error("rejecting invalid content descriptor", "content_id", desc.ContentID, "error", err)
		return failure(err)
	}

	f, err := p.acquire(ctx, desc, id)
	if err != nil {
		return domain.Failed(domain.FailureCancelled, err.Error())
	}

	select {
	case <-f.done:
		return f.outcome
	case <-ctx.Done():
		p.leave(f)
		return domain.Failed(domain.FailureCancelled, ctx.Err().Error())
	}
}

// Cancel stops the in-flight load for contentID and frees its slot so a
// new load can start immediately. It reports whether a load was running.
func (p *Pipeline) Cancel(contentID string) bool {
	return p.cancel(contentID, func(*flight) bool { return true })
}

// CancelFor is Cancel limited to a load started for id. Loads driven by
// other identities are left alone and reported as not running.
func (p *Pipeline) CancelFor(contentID string, id domain.Identity) bool {
	return p.cancel(contentID, func(f *flight) bool { return f.identity == id })
}

func (p *Pipeline) cancel(contentID string, match func(*flight) bool) bool {
	p.mu.Lock()
	f, ok := p.flights[contentID]
	ok = ok && match(f)
	if ok {
		delete(p.flights, contentID)
	}
	p.mu.Unlock()

	if ok {
		f.cancel()
		p.logger.Info("load cancelled", "content_id", contentID, "identity", f.identity.String())
	}
	return ok
}

// Status reports the stage of the in-flight load for contentID, or
// StateIdle when none is running.
func (p *Pipeline) Status(contentID string) domain.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.flights[contentID]; ok {
		return f.state
	}
	return domain.StateIdle
}

// StatusFor is Status as seen by id: a load started for another identity
// reports StateIdle.
func (p *Pipeline) StatusFor(contentID string, id domain.Identity) domain.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.flights[contentID]; ok && f.identity == id {
		return f.state
	}
	return domain.StateIdle
}

// acquire attaches to the running flight for the content or starts one.
// A flight started for a different identity is never shared; the caller
// waits for it to finish and then takes the slot.
func (p *Pipeline) acquire(ctx context.Context, desc domain.ContentDescriptor, id domain.Identity) (*flight, error) {
	for {
		p.mu.Lock()
		f, ok := p.flights[desc.ContentID]
		if !ok {
			f = p.start(ctx, desc, id)
			p.mu.Unlock()
			return f, nil
		}
		if f.identity == id {
			f.waiters++
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.RecordSingleFlightJoin(ctx)
			}
			return f, nil
		}
		done := f.done
		p.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// start registers and launches a flight. Must be called with p.mu held.
// The flight context keeps the caller's values but not its cancellation;
// it ends through Cancel or when the last waiter leaves.
func (p *Pipeline) start(ctx context.Context, desc domain.ContentDescriptor, id domain.Identity) *flight {
	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		contentID: desc.ContentID,
		identity:  id,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     domain.StateIdle,
		waiters:   1,
	}
	p.flights[desc.ContentID] = f
	go p.run(flightCtx, f, desc, id)
	return f
}

func (p *Pipeline) leave(f *flight) {
	p.mu.Lock()
	f.waiters--
	last := f.waiters == 0
	if last && p.flights[f.contentID] == f {
		delete(p.flights, f.contentID)
	}
	p.mu.Unlock()

	if last {
		f.cancel()
	}
}

func (p *Pipeline) run(ctx context.Context, f *flight, desc domain.ContentDescriptor, id domain.Identity) {
	start := time.Now()
	out := p.execute(ctx, f, desc, id)

	terminal := domain.StateDone
	if !out.OK() {
		terminal = domain.StateFailed
	}

	p.mu.Lock()
	f.state = terminal
	f.outcome = out
	if p.flights[f.contentID] == f {
		delete(p.flights, f.contentID)
	}
	p.mu.Unlock()
	f.cancel()
	close(f.done)

	result := "plaintext"
	if !out.OK() {
		result = out.Kind().String()
	}
	if p.metrics != nil {
		p.metrics.RecordLoad(ctx, result, time.Since(start).Seconds())
	}

	switch out.Kind() {
	case domain.FailureCorrupt:
		p.logger.Error("content failed integrity checks",
			"content_id", desc.ContentID,
			"blob_ref", desc.BlobRef,
			"identity", id.String(),
			"detail", out.Failure.Detail,
		)
	case domain.FailureUnknown, domain.FailureCancelled:
		p.logger.Debug("load finished", "content_id", desc.ContentID, "result", result)
	default:
		p.logger.Info("load failed",
			"content_id", desc.ContentID,
			"identity", id.String(),
			"result", result,
			"detail", out.Failure.Detail,
		)
	}
}

func (p *Pipeline) execute(ctx context.Context, f *flight, desc domain.ContentDescriptor, id domain.Identity) domain.Outcome {
	if desc.IsEncrypted && !id.Present() {
		return failure(fmt.Errorf("%w: content %s is encrypted", domain.ErrIdentityRequired, desc.ContentID))
	}

	p.setState(f, domain.StateFetchingBlob)
	stageStart := time.Now()
	blob, err := p.blobs.Fetch(ctx, desc.BlobRef)
	p.stageMetric(ctx, domain.StateFetchingBlob, stageStart)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure(ctxErr)
	}
	if err != nil {
		return failure(fmt.Errorf("fetching blob %s: %w", desc.BlobRef, err))
	}
	if !desc.IsEncrypted {
		return decodeText(blob)
	}

	p.setState(f, domain.StateResolvingCredential)
	stageStart = time.Now()
	cred, err := p.resolver.Resolve(ctx, id, desc.OwnerID, desc.ContentID)
	p.stageMetric(ctx, domain.StateResolvingCredential, stageStart)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure(ctxErr)
	}
	if err != nil {
		return failure(err)
	}

	p.setState(f, domain.StateDecrypting)
	stageStart = time.Now()
	plain, err := p.decrypter.Decrypt(ctx, domain.DecryptionRequest{
		Ciphertext: blob,
		ContentID:  desc.ContentID,
		Credential: cred,
		Requester:  id,
	})
	p.stageMetric(ctx, domain.StateDecrypting, stageStart)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure(ctxErr)
	}
	if err != nil {
		return failure(fmt.Errorf("decrypting %s with %s credential: %w", desc.ContentID, cred.Kind(), err))
	}
	return decodeText(plain)
}

func (p *Pipeline) setState(f *flight, s domain.PipelineState) {
	p.mu.Lock()
	f.state = s
	p.mu.Unlock()
}

func (p *Pipeline) stageMetric(ctx context.Context, s domain.PipelineState, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, s.String(), time.Since(start).Seconds())
	}
}

// decodeText applies strict UTF-8 decoding; invalid sequences are corrupt
// content rather than replacement characters.
func decodeText(b []byte) domain.Outcome {
	if !utf8.Valid(b) {
		return failure(fmt.Errorf("%w: payload is not valid UTF-8", domain.ErrCorrupt))
	}
	return domain.Plaintext(string(b))
}
