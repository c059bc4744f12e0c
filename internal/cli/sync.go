package cli

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mkarpov/tweetmirror/internal/config"
	"github.com/mkarpov/tweetmirror/internal/feed"
	"github.com/mkarpov/tweetmirror/internal/journal"
	"github.com/mkarpov/tweetmirror/internal/markdown"
	"github.com/mkarpov/tweetmirror/internal/store"
	syncer "github.com/mkarpov/tweetmirror/internal/sync"
)

// maxConcurrentIdentities bounds parallel identity runs so one sync does not
// open an unbounded number of upstream connections.
const maxConcurrentIdentities = 4

var syncOnly string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Publish new items for every configured identity",
	RunE:  syncAction,
}

func init() {
	syncCmd.Flags().StringVar(&syncOnly, "identity", "", "sync only the identity with this address")
	rootCmd.AddCommand(syncCmd)
}

// timelineFeed adapts the upstream API client to the engine's feed interface.
type timelineFeed struct {
	client *feed.Client
}

func (tf timelineFeed) Stream(ctx context.Context, source string) iter.Seq2[feed.Item, error] {
	return tf.client.Timeline(ctx, source)
}

func syncAction(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	identities := selectIdentities(cfg.Identities, syncOnly)
	if len(identities) == 0 {
		return fmt.Errorf("no identity matches %q", syncOnly)
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = jr.Close() }()

	sc := store.NewClient(cfg.Store.BaseURL, log)
	conv := markdown.NewConverter()

	timeline := feed.NewClient(cfg.Upstream.Token, log)
	timeline.SetTimeout(cfg.Upstream.Timeout.Duration)
	rss := feed.NewRSSSource()

	ctx := cmd.Context()
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentIdentities)

	results := make([]syncer.Result, len(identities))
	errs := make([]error, len(identities))

	for i, idCfg := range identities {
		g.Go(func() error {
			id, err := buildIdentity(idCfg)
			if err != nil {
				errs[i] = err
				return nil
			}

			var src syncer.Feed
			switch idCfg.Kind {
			case config.KindRSS:
				src = rss
			default:
				src = timelineFeed{client: timeline}
			}

			engine := syncer.New(src, sc, conv, jr, log)
			res, err := engine.Run(ctx, id)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("sync %s: %w", idCfg.Address, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, idCfg := range identities {
		if errs[i] != nil {
			fmt.Printf("%s: FAILED: %v\n", idCfg.Address, errs[i])
			continue
		}
		r := results[i]
		fmt.Printf("%s: published %d, skipped %d, attachments %d (%s)\n",
			idCfg.Address, r.Published, r.Skipped, r.Attachments,
			humanize.Bytes(uint64(r.AttachmentBytes)))
	}

	return errors.Join(errs...)
}

// selectIdentities filters the configured identities by address. An empty
// filter selects all of them.
func selectIdentities(ids []config.IdentityConfig, address string) []config.IdentityConfig {
	if address == "" {
		return ids
	}
	var out []config.IdentityConfig
	for _, id := range ids {
		if id.Address == address {
			out = append(out, id)
		}
	}
	return out
}

// buildIdentity resolves one configured identity into an engine identity,
// loading its signing key from the environment.
func buildIdentity(idCfg config.IdentityConfig) (syncer.Identity, error) {
	signer, err := store.NewEd25519SignerFromEnv(idCfg.SigningKeyEnv)
	if err != nil {
		return syncer.Identity{}, fmt.Errorf("signer for %s: %w", idCfg.Address, err)
	}
	return syncer.Identity{
		Source:       idCfg.Source,
		Address:      idCfg.Address,
		CollectMedia: idCfg.CollectMedia,
		SkipAuthors:  idCfg.SkipAuthors,
		MaxItems:     idCfg.MaxItems,
		Signer:       signer,
	}, nil
}
