package keyserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"reader/internal/domain"
	"reader/internal/platform/telemetry"
	"reader/internal/shamir"
)

// Quorum decrypts envelopes by collecting shares from key servers.
type Quorum struct {
	servers map[string]*Client
	logger  *slog.Logger
	metrics *telemetry.ReaderMetrics
}

// NewQuorum creates a decrypter over the given key server clients.
// The logger and metrics parameters are optional.
func NewQuorum(clients []*Client, logger *slog.Logger, m *telemetry.ReaderMetrics) *Quorum {
	if logger == nil {
		logger = slog.Default()
	}
	servers := make(map[string]*Client, len(clients))
	for _, c := range clients {
		servers[c.Name()] = c
	}
	return &Quorum{servers: servers, logger: logger, metrics: m}
}

// errQuorumReached ends the fan-out once enough shares are in.
var errQuorumReached = errors.New("quorum reached")

type tally struct {
	mu         sync.Mutex
	shares     []shamir.Share
	from       []string
	denied     int
	unauthed   int
	mismatched int
	failed     int
}

// Decrypt asks every key server holding a share for it and stops once the
// envelope threshold is reached. The envelope must belong to req.ContentID.
// The reader's bearer token in ctx is forwarded to each server.
func (q *Quorum) Decrypt(ctx context.Context, req domain.DecryptionRequest) ([]byte, error) {
	env, err := DecodeEnvelope(req.Ciphertext)
	if err != nil {
		return nil, err
	}
	if env.ContentID != req.ContentID {
		return nil, fmt.Errorf("%w: envelope sealed for %q, requested %q", domain.ErrContentMismatch, env.ContentID, req.ContentID)
	}

	cred := EncodeCredential(req.Credential)
	n, t := len(env.Shares), env.Threshold

	var res tally
	g, fanCtx := errgroup.WithContext(ctx)
	for _, share := range env.Shares {
		client, ok := q.servers[share.Server]
		if !ok {
			q.logger.Warn("no client configured for key server", "server", share.Server, "content_id", env.ContentID)
			res.mu.Lock()
			res.failed++
			res.mu.Unlock()
			continue
		}
		g.Go(func() error {
			got, err := client.RequestShare(fanCtx, ShareRequest{
				ContentID:  env.ContentID,
				Credential: cred,
				Sealed:     share.Sealed,
			})
			if err == nil && got.X != share.X {
				err = fmt.Errorf("%w: key server %s returned share %d, expected %d", domain.ErrCorrupt, share.Server, got.X, share.X)
			}
			q.record(fanCtx, share.Server, err)

			res.mu.Lock()
			defer res.mu.Unlock()
			switch {
			case err == nil:
				if len(res.shares) < t {
					res.shares = append(res.shares, got)
					res.from = append(res.from, share.Server)
				}
				if len(res.shares) >= t {
					return errQuorumReached
				}
			case errors.Is(err, domain.ErrAuthorizationDenied):
				res.denied++
			case errors.Is(err, domain.ErrIdentityRequired):
				res.unauthed++
			case errors.Is(err, domain.ErrContentMismatch):
				res.mismatched++
			default:
				if fanCtx.Err() == nil {
					q.logger.Warn("key server request failed", "server", share.Server, "content_id", env.ContentID, "error", err)
				}
				res.failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errQuorumReached) {
		return nil, err
	}

	if len(res.shares) >= t {
		plain, err := env.Open(res.shares)
		if err != nil {
			q.logger.Error("combined shares did not open the envelope",
				"content_id", env.ContentID,
				"servers", res.from,
				"requester", req.Requester.String(),
				"error", err,
			)
		}
		return plain, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case res.unauthed > n-t:
		return nil, fmt.Errorf("%w: %d of %d key servers rejected the requester token", domain.ErrIdentityRequired, res.unauthed, n)
	case res.denied+res.unauthed > n-t:
		return nil, fmt.Errorf("%w: %d of %d key servers refused", domain.ErrAuthorizationDenied, res.denied+res.unauthed, n)
	case res.mismatched > 0:
		return nil, fmt.Errorf("%w: %d key servers rejected the content id", domain.ErrContentMismatch, res.mismatched)
	default:
		return nil, fmt.Errorf("%w: %d of %d shares (denied %d, failed %d)",
			domain.ErrThresholdUnmet, len(res.shares), t, res.denied, res.failed)
	}
}

func (q *Quorum) record(ctx context.Context, server string, err error) {
	if q.metrics == nil {
		return
	}
	result := "share"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAuthorizationDenied):
		result = "denied"
	case errors.Is(err, domain.ErrIdentityRequired):
		result = "unauthenticated"
	case errors.Is(err, domain.ErrContentMismatch):
		result = "mismatch"
	case errors.Is(err, context.Canceled):
		result = "cancelled"
	default:
		result = "error"
	}
	q.metrics.RecordKeyServerResponse(context.WithoutCancel(ctx), server, result)
}
