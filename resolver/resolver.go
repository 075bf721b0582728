// Package resolver implements the external video-metadata fetcher the
// render task consumes: resolve(videoID, proxyURL, isLivestream) returning
// a tagged-variant result so the caller can distinguish a geoblocked video
// (give up, no retry) from a transient error (retry once through a proxy),
// per spec.md §9's design note.
package resolver

import (
	"context"
	"fmt"
)

// Kind tags which branch of the resolver result is populated.
type Kind int

const (
	KindPlayable Kind = iota
	KindUnplayable
	KindLoginRequired
)

// Format is a single playback rendition a resolver strategy offered up.
type Format struct {
	URL    string
	Width  int
	Height int
	FPS    float64
}

// Result is the tagged variant spec.md §9 calls for: exactly one of
// Formats (Playable), Reason (Unplayable), or neither (LoginRequired) is
// meaningful depending on Kind.
type Result struct {
	Kind    Kind
	Formats []Format
	Reason  string
}

func Playable(formats []Format) Result {
	return Result{Kind: KindPlayable, Formats: formats}
}

func Unplayable(reason string) Result {
	return Result{Kind: KindUnplayable, Reason: reason}
}

func LoginRequired() Result {
	return Result{Kind: KindLoginRequired}
}

// BestFormat returns the first format at or below maxHeight, preferring
// the resolver's own ordering (spec.md's originating implementation
// prefers AV1 and sorts tallest-first), or false if none qualifies.
func (r Result) BestFormat(maxHeight int) (Format, bool) {
	for _, f := range r.Formats {
		if f.Height <= maxHeight {
			return f, true
		}
	}
	return Format{}, false
}

// Strategy is one way of turning a videoID into playback formats. Multiple
// strategies may be tried in sequence by a caller-composed resolver chain.
type Strategy interface {
	Resolve(ctx context.Context, videoID string, proxyURL string, isLivestream bool) (Result, error)
}

// Chain tries each strategy in order, returning the first result that
// isn't a plain transient error. A Playable/Unplayable/LoginRequired
// result from any strategy short-circuits the chain; only a Go error
// (network failure, malformed response) falls through to the next one.
type Chain []Strategy

func (c Chain) Resolve(ctx context.Context, videoID string, proxyURL string, isLivestream bool) (Result, error) {
	var lastErr error
	for _, s := range c {
		res, err := s.Resolve(ctx, videoID, proxyURL, isLivestream)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no resolver strategies configured")
	}
	return Result{}, fmt.Errorf("resolving %s: %w", videoID, lastErr)
}
