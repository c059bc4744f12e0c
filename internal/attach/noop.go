package attach

import "context"

// NoOp is the pass-through collector variant: media is referenced by its
// original URL and nothing is downloaded. Used for nested retweet/quote
// scopes and for identities whose policy forbids copying media.
type NoOp struct{}

func (NoOp) Add(_ context.Context, rawURL string) (string, error) { return rawURL, nil }

func (n NoOp) ForRetweet() Collector { return n }
func (n NoOp) ForQuote() Collector   { return n }

func (NoOp) Attachments() []Attachment { return nil }

func (NoOp) Close() error { return nil }
