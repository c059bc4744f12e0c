package feed

import (
	"fmt"
	"time"
)

// createdAtLayout is the timestamp format the upstream API uses.
const createdAtLayout = time.RubyDate // "Mon Jan 02 15:04:05 -0700 2006"

// wireItem mirrors the upstream JSON for one status in extended-text mode.
type wireItem struct {
	IDStr            string                `json:"id_str"`
	FullText         string                `json:"full_text"`
	CreatedAt        string                `json:"created_at"`
	User             wireUser              `json:"user"`
	InReplyToHandle  string                `json:"in_reply_to_screen_name"`
	RetweetedStatus  *wireItem             `json:"retweeted_status"`
	QuotedStatus     *wireItem             `json:"quoted_status"`
	Entities         *wireEntities         `json:"entities"`
	ExtendedEntities *wireExtendedEntities `json:"extended_entities"`
}

type wireUser struct {
	IDStr      string `json:"id_str"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
	Protected  bool   `json:"protected"`
}

type wireEntities struct {
	URLs []wireURL `json:"urls"`
}

type wireURL struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type wireExtendedEntities struct {
	Media []wireMedia `json:"media"`
}

type wireMedia struct {
	Type          string         `json:"type"`
	URL           string         `json:"url"`
	MediaURLHTTPS string         `json:"media_url_https"`
	VideoInfo     *wireVideoInfo `json:"video_info"`
}

type wireVideoInfo struct {
	Variants []wireVariant `json:"variants"`
}

type wireVariant struct {
	Bitrate int    `json:"bitrate"`
	URL     string `json:"url"`
}

func (w *wireItem) toItem(depth int) (Item, error) {
	if depth > maxNestingDepth {
		return Item{}, fmt.Errorf("status %s: nesting deeper than %d levels", w.IDStr, maxNestingDepth)
	}
	if w.IDStr == "" {
		return Item{}, fmt.Errorf("status missing id_str")
	}

	createdAt, err := time.Parse(createdAtLayout, w.CreatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("status %s: parse created_at %q: %w", w.IDStr, w.CreatedAt, err)
	}

	it := Item{
		ID:        w.IDStr,
		CreatedAt: createdAt.UTC(),
		Text:      w.FullText,
		ReplyTo:   w.InReplyToHandle,
		Author: Author{
			ID:        w.User.IDStr,
			Name:      w.User.Name,
			Handle:    w.User.ScreenName,
			Protected: w.User.Protected,
		},
	}

	if w.Entities != nil {
		for _, u := range w.Entities.URLs {
			it.URLs = append(it.URLs, URLEntity{Short: u.URL, Expanded: u.ExpandedURL})
		}
	}

	if w.ExtendedEntities != nil {
		for _, m := range w.ExtendedEntities.Media {
			me := MediaEntity{
				Type:    MediaType(m.Type),
				Short:   m.URL,
				Display: m.MediaURLHTTPS,
			}
			if m.VideoInfo != nil {
				for _, v := range m.VideoInfo.Variants {
					me.Variants = append(me.Variants, VideoVariant{Bitrate: v.Bitrate, URL: v.URL})
				}
			}
			it.Media = append(it.Media, me)
		}
	}

	if w.RetweetedStatus != nil {
		nested, err := w.RetweetedStatus.toItem(depth + 1)
		if err != nil {
			return Item{}, err
		}
		it.Retweeted = &nested
	}
	if w.QuotedStatus != nil {
		nested, err := w.QuotedStatus.toItem(depth + 1)
		if err != nil {
			return Item{}, err
		}
		it.Quoted = &nested
	}

	return it, nil
}
