// Package sync orchestrates one identity's mirror run: find the watermark,
// pull new items, and publish them oldest-first.
package sync

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mkarpov/tweetmirror/internal/attach"
	"github.com/mkarpov/tweetmirror/internal/feed"
	"github.com/mkarpov/tweetmirror/internal/journal"
	"github.com/mkarpov/tweetmirror/internal/markdown"
	"github.com/mkarpov/tweetmirror/internal/render"
	"github.com/mkarpov/tweetmirror/internal/store"
)

// Feed is the upstream item stream.
type Feed interface {
	Stream(ctx context.Context, source string) iter.Seq2[feed.Item, error]
}

// Store is the downstream content store.
type Store interface {
	LatestPostTime(ctx context.Context, address string) (time.Time, bool, error)
	CreatePost(ctx context.Context, address string, sig, document []byte) error
	CreateFile(ctx context.Context, address string, sig []byte, name string, size int64, r io.Reader) error
}

// Recorder persists a local note of each successful publish.
type Recorder interface {
	Add(ctx context.Context, in journal.RecordInput) error
}

// Identity is one mirror destination and its policy.
type Identity struct {
	Source       string // upstream handle or feed URL
	Address      string // downstream identity address
	CollectMedia bool
	SkipAuthors  []string
	MaxItems     int
	Signer       store.Signer
}

// Result summarizes one identity's run.
type Result struct {
	Published       int
	Skipped         int
	Attachments     int
	AttachmentBytes int64
}

// Engine runs mirror syncs. Identities share no mutable state, so separate
// Run calls are safe to execute concurrently; within one run items publish
// strictly oldest-first because the watermark only means anything if
// published timestamps form a contiguous prefix.
type Engine struct {
	feed     Feed
	store    Store
	conv     markdown.Converter
	renderer *render.Renderer
	recorder Recorder // may be nil
	log      zerolog.Logger

	// newScope builds the attachment scope for one item. Swapped in tests.
	newScope func(collect bool) attach.Collector
}

// New creates an engine. recorder may be nil to disable journaling.
func New(f Feed, s Store, conv markdown.Converter, recorder Recorder, log zerolog.Logger) *Engine {
	return &Engine{
		feed:     f,
		store:    s,
		conv:     conv,
		renderer: render.New(log),
		recorder: recorder,
		log:      log,
		newScope: func(collect bool) attach.Collector {
			if collect {
				return attach.NewCollecting(log)
			}
			return attach.NoOp{}
		},
	}
}

// Run mirrors one identity. Partial progress is durable: each published item
// is an independent store write, and the watermark read on the next run
// reflects exactly the contiguous prefix that made it out.
func (e *Engine) Run(ctx context.Context, id Identity) (Result, error) {
	var res Result

	watermark, haveWatermark, err := e.store.LatestPostTime(ctx, id.Address)
	if err != nil {
		return res, fmt.Errorf("read watermark for %s: %w", id.Address, err)
	}

	batch, skipped, err := e.accumulate(ctx, id, watermark, haveWatermark)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	sortByTimestamp(batch)

	for i := range batch {
		it := &batch[i]
		if err := e.publish(ctx, id, it, &res); err != nil {
			// Abort the rest of this identity's batch; other identities
			// are unaffected.
			return res, fmt.Errorf("process item %s: %w", it.URL(), err)
		}
		res.Published++
	}

	e.log.Info().
		Str("identity", id.Address).
		Int("published", res.Published).
		Int("skipped", res.Skipped).
		Msg("sync complete")
	return res, nil
}

// accumulate pulls new items newest-first, stopping at the watermark or the
// configured cap.
func (e *Engine) accumulate(ctx context.Context, id Identity, watermark time.Time, haveWatermark bool) ([]feed.Item, int, error) {
	skipSet := make(map[string]bool, len(id.SkipAuthors))
	for _, h := range id.SkipAuthors {
		skipSet[h] = true
	}

	var (
		batch   []feed.Item
		skipped int
	)
	for it, err := range e.feed.Stream(ctx, id.Source) {
		if err != nil {
			return nil, skipped, fmt.Errorf("stream items for %s: %w", id.Source, err)
		}

		if !it.IsPublic() {
			skipped++
			continue
		}
		if skipSet[it.Author.Handle] {
			skipped++
			continue
		}

		// Newest-first ordering: the first item at or below the watermark
		// ends the scan, it does not merely skip.
		if haveWatermark && !it.CreatedAt.After(watermark) {
			break
		}

		batch = append(batch, it)
		if id.MaxItems > 0 && len(batch) >= id.MaxItems {
			break
		}
	}
	return batch, skipped, nil
}

// publish renders, converts, signs, and writes one item together with its
// attachments, releasing the attachment scope on every exit path.
func (e *Engine) publish(ctx context.Context, id Identity, it *feed.Item, res *Result) (err error) {
	scope := e.newScope(id.CollectMedia)
	defer func() {
		if closeErr := scope.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("release attachment scope: %w", closeErr)
		}
	}()

	fragment, err := e.renderer.Render(ctx, it, scope)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	body, err := e.conv.Render(fragment)
	if err != nil {
		return fmt.Errorf("convert to markdown: %w", err)
	}

	atts := scope.Attachments()
	doc := store.Document{
		Kind:      store.KindPost,
		CreatedAt: it.CreatedAt,
		Body:      body,
	}
	for _, a := range atts {
		doc.Attachments = append(doc.Attachments, store.DocumentAttachment{
			Name: a.Name,
			Hash: a.Hash,
			Size: a.Size,
		})
	}

	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	sig, err := id.Signer.Sign(docBytes)
	if err != nil {
		return fmt.Errorf("sign document: %w", err)
	}
	if err := e.store.CreatePost(ctx, id.Address, sig, docBytes); err != nil {
		return fmt.Errorf("write post: %w", err)
	}

	for _, a := range atts {
		if err := e.uploadAttachment(ctx, id, a); err != nil {
			return err
		}
		res.Attachments++
		res.AttachmentBytes += a.Size
	}

	if e.recorder != nil {
		rec := journal.RecordInput{
			Identity:        id.Address,
			ItemID:          it.ID,
			ItemURL:         it.URL(),
			PostedAt:        it.CreatedAt,
			PublishedAt:     time.Now().UTC(),
			Attachments:     len(atts),
			AttachmentBytes: attachmentBytes(atts),
		}
		if err := e.recorder.Add(ctx, rec); err != nil {
			// The publish already succeeded; a journal miss is not worth
			// aborting the batch over.
			e.log.Warn().Err(err).Str("item", it.ID).Msg("journal write failed")
		}
	}

	e.log.Debug().Str("item", it.URL()).Int("attachments", len(atts)).Msg("published")
	return nil
}

func (e *Engine) uploadAttachment(ctx context.Context, id Identity, a attach.Attachment) error {
	sig, err := id.Signer.Sign([]byte(a.Hash))
	if err != nil {
		return fmt.Errorf("sign attachment %s: %w", a.Name, err)
	}

	rc, err := a.Open()
	if err != nil {
		return fmt.Errorf("open attachment %s: %w", a.Name, err)
	}
	defer func() { _ = rc.Close() }()

	if err := e.store.CreateFile(ctx, id.Address, sig, a.Name, a.Size, rc); err != nil {
		return fmt.Errorf("write attachment %s: %w", a.Name, err)
	}
	return nil
}

// sortByTimestamp orders the batch oldest-first in place. The sort is stable
// so same-timestamp items keep their relative stream order.
func sortByTimestamp(batch []feed.Item) {
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})
}

func attachmentBytes(atts []attach.Attachment) int64 {
	var total int64
	for _, a := range atts {
		total += a.Size
	}
	return total
}
