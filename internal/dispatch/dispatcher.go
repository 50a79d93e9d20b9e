// Package dispatch orchestrates mention handling: skip rules, context
// lookup, completion, and posting the reply.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/plumehq/plume/internal/completion"
	"github.com/plumehq/plume/internal/mastodon"
	"github.com/plumehq/plume/internal/models/clients"
	"github.com/plumehq/plume/internal/normalize"
	"github.com/plumehq/plume/internal/session"
	"github.com/plumehq/plume/internal/thread"
)

// Completer produces reply text for a completion request.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) string
}

// Poster publishes replies and fetches attachments.
type Poster interface {
	PostStatus(ctx context.Context, req mastodon.PostRequest) (mastodon.Status, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// PromptStore persists per-conversant prompt override selections.
type PromptStore interface {
	PromptOverride(ctx context.Context, acct string) string
	SetPromptOverride(ctx context.Context, acct, name string) error
}

// Dispatcher handles one mention at a time; the stream delivers events
// sequentially, so session mutation is never interleaved.
type Dispatcher struct {
	poster       Poster
	resolver     *thread.Resolver
	store        *session.Store
	engine       Completer
	prompts      PromptStore
	promptBodies map[string]string
	systemPrompt string
	handle       string
	domain       string
	logger       *slog.Logger
}

// NewDispatcher creates a Dispatcher. handle is the bot's account name
// without the leading @; domain its home instance.
func NewDispatcher(
	log *slog.Logger,
	poster Poster,
	resolver *thread.Resolver,
	store *session.Store,
	engine Completer,
	prompts PromptStore,
	promptBodies map[string]string,
	systemPrompt string,
	handle string,
	domain string,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		poster:       poster,
		resolver:     resolver,
		store:        store,
		engine:       engine,
		prompts:      prompts,
		promptBodies: promptBodies,
		systemPrompt: systemPrompt,
		handle:       strings.TrimPrefix(strings.TrimSpace(handle), "@"),
		domain:       strings.TrimSpace(domain),
		logger:       log.With(slog.String("service", "dispatch")),
	}
}

// HandleMention runs the per-mention state machine. All failure paths are
// absorbed here or below; a mention never escapes unanswered except when a
// skip rule applies.
func (d *Dispatcher) HandleMention(ctx context.Context, n mastodon.Notification) {
	status := n.Status
	if status == nil {
		return
	}
	if status.Account.Acct == d.handle {
		return
	}

	text := normalize.Flatten(status.Content)
	acct := status.Account.Acct

	if d.hasSkipMarker(text) {
		if reply, ok := d.runCommand(ctx, acct, text); ok {
			d.post(ctx, status, acct, reply)
		}
		return
	}

	message := d.stripSelfMentions(text)
	rootID := d.resolver.ResolveRoot(ctx, *status)
	sess, isNew := d.store.GetOrCreate(acct, rootID, func() []thread.Turn {
		return d.resolver.BuildTranscript(ctx, *status)
	})

	req := completion.Request{
		SystemPrompt:   d.resolvePrompt(ctx, acct),
		ConversationID: sess.ID,
		SpeakerName:    speakerName(status.Account),
		Image:          d.firstImage(ctx, *status),
	}
	if isNew {
		// The freshly built transcript already ends with this message.
		req.Transcript = sess.Transcript
	} else {
		req.Message = message
	}

	reply := d.engine.Complete(ctx, req)
	d.post(ctx, status, acct, reply)
}

// hasSkipMarker reports whether the normalized text carries the explicit
// do-not-reply marker: the bot's own handle immediately followed by "!".
func (d *Dispatcher) hasSkipMarker(text string) bool {
	for _, ref := range d.selfRefs() {
		if strings.Contains(text, ref+" !") {
			return true
		}
	}
	return false
}

func (d *Dispatcher) selfRefs() []string {
	refs := []string{"@" + d.handle}
	if d.domain != "" {
		// Longer form first so stripping removes it before the bare handle.
		refs = []string{"@" + d.handle + "@" + d.domain, "@" + d.handle}
	}
	return refs
}

// stripSelfMentions removes the bot's own handle from text so the model is
// not prompted with it and cannot be tricked into reply loops.
func (d *Dispatcher) stripSelfMentions(text string) string {
	for _, ref := range d.selfRefs() {
		text = strings.ReplaceAll(text, ref, "")
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

func (d *Dispatcher) resolvePrompt(ctx context.Context, acct string) string {
	if d.prompts != nil {
		if name := d.prompts.PromptOverride(ctx, acct); name != "" {
			if body, ok := d.promptBodies[name]; ok {
				return body
			}
		}
	}
	return d.systemPrompt
}

// firstImage downloads the first image attachment, if any. Failures degrade
// to a text-only completion.
func (d *Dispatcher) firstImage(ctx context.Context, status mastodon.Status) *clients.Image {
	for _, attachment := range status.MediaAttachments {
		if attachment.Type != "image" || attachment.URL == "" {
			continue
		}
		data, mime, err := d.poster.Download(ctx, attachment.URL)
		if err != nil {
			d.logger.Warn("attachment download failed",
				slog.String("url", attachment.URL), slog.Any("error", err))
			return nil
		}
		if mime == "" {
			mime = "image/jpeg"
		}
		return &clients.Image{Mime: mime, Data: data}
	}
	return nil
}

// post publishes the reply with the original visibility, prefixing the
// requester's handle unless the text already starts with it. Posting is
// fire-and-forget; failures are logged, not retried.
func (d *Dispatcher) post(ctx context.Context, status *mastodon.Status, acct, reply string) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}
	for _, ref := range d.selfRefs() {
		reply = strings.ReplaceAll(reply, ref, "")
	}
	reply = strings.TrimSpace(reply)
	mention := "@" + acct
	if !strings.HasPrefix(reply, mention) {
		reply = mention + " " + reply
	}
	if _, err := d.poster.PostStatus(ctx, mastodon.PostRequest{
		Status:      reply,
		InReplyToID: status.ID,
		Visibility:  status.Visibility,
	}); err != nil {
		d.logger.Error("post reply failed",
			slog.String("in_reply_to", status.ID), slog.Any("error", err))
	}
}

func speakerName(account mastodon.Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return account.Acct
}
