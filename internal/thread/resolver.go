// Package thread reconstructs conversation context from reply chains.
package thread

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/plumehq/plume/internal/mastodon"
	"github.com/plumehq/plume/internal/normalize"
)

// Speaker tags a transcript turn by author.
type Speaker string

const (
	SpeakerSelf  Speaker = "self"
	SpeakerOther Speaker = "other"
)

// Turn is one entry of a reconstructed transcript, oldest first.
type Turn struct {
	Speaker Speaker
	Text    string
}

// ContextFetcher fetches the reply-thread neighborhood of a status.
type ContextFetcher interface {
	GetContext(ctx context.Context, statusID string) (mastodon.Context, error)
}

// Resolver derives thread roots and transcripts from ancestor chains.
type Resolver struct {
	fetcher  ContextFetcher
	selfAcct string
	logger   *slog.Logger
}

// NewResolver creates a Resolver. selfAcct is the bot's own account name,
// used to tag its past replies in transcripts.
func NewResolver(log *slog.Logger, fetcher ContextFetcher, selfAcct string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		fetcher:  fetcher,
		selfAcct: strings.TrimSpace(selfAcct),
		logger:   log.With(slog.String("service", "thread")),
	}
}

// ResolveRoot returns the id of the earliest message in the reply chain of
// status. A status with no parent is its own root. A failed ancestor fetch
// degrades to treating the status itself as root.
func (r *Resolver) ResolveRoot(ctx context.Context, status mastodon.Status) string {
	if status.InReplyToID == "" {
		return status.ID
	}
	ancestors, err := r.ancestors(ctx, status.ID)
	if err != nil {
		r.logger.Warn("ancestor fetch failed, using status as root",
			slog.String("status_id", status.ID), slog.Any("error", err))
		return status.ID
	}
	if len(ancestors) == 0 {
		return status.ID
	}
	return ancestors[0].ID
}

// BuildTranscript materializes the ordered transcript ending at status. Each
// ancestor is flattened and tagged self/other, with status itself as the
// final entry. A failed fetch returns a nil transcript; callers treat that
// as no prior context, not as an error.
func (r *Resolver) BuildTranscript(ctx context.Context, status mastodon.Status) []Turn {
	var turns []Turn
	if status.InReplyToID != "" {
		ancestors, err := r.ancestors(ctx, status.ID)
		if err != nil {
			r.logger.Warn("transcript fetch failed, continuing without context",
				slog.String("status_id", status.ID), slog.Any("error", err))
			return nil
		}
		for _, ancestor := range ancestors {
			turns = append(turns, r.toTurn(ancestor))
		}
	}
	return append(turns, r.toTurn(status))
}

func (r *Resolver) ancestors(ctx context.Context, statusID string) ([]mastodon.Status, error) {
	tc, err := r.fetcher.GetContext(ctx, statusID)
	if err != nil {
		return nil, err
	}
	ancestors := make([]mastodon.Status, len(tc.Ancestors))
	copy(ancestors, tc.Ancestors)
	sort.SliceStable(ancestors, func(i, j int) bool {
		return ancestors[i].CreatedAt.Before(ancestors[j].CreatedAt)
	})
	return ancestors, nil
}

func (r *Resolver) toTurn(status mastodon.Status) Turn {
	speaker := SpeakerOther
	if r.selfAcct != "" && status.Account.Acct == r.selfAcct {
		speaker = SpeakerSelf
	}
	return Turn{Speaker: speaker, Text: normalize.Flatten(status.Content)}
}
