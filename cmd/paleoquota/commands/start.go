package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/paleoquota/paleoquota/crypto"
	"github.com/paleoquota/paleoquota/feed"
	"github.com/paleoquota/paleoquota/relay"
	"github.com/paleoquota/paleoquota/store"
	"github.com/paleoquota/paleoquota/types"
)

// StartCommand constructs the start command: it connects to the relay,
// streams the merged feed to stdout and publishes every stdin line as a
// post.
func StartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the client: print the live feed, post lines read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := cfg.EnsureRoot(); err != nil {
				return err
			}

			relayMetrics := relay.NopMetrics()
			feedMetrics := feed.NopMetrics()
			if cfg.Instrumentation.Prometheus {
				relayMetrics = relay.PrometheusMetrics("paleoquota")
				feedMetrics = feed.PrometheusMetrics("paleoquota")
				go func() {
					srv := &http.Server{
						Addr:    cfg.Instrumentation.PrometheusListenAddr,
						Handler: promhttp.Handler(),
					}
					if err := srv.ListenAndServe(); err != http.ErrServerClosed {
						logger.Error("prometheus listener failed", "err", err)
					}
				}()
			}

			// a failing cache degrades to an in-memory feed
			var feedStore feed.Store
			if st, err := store.Open(cfg.DBFile()); err != nil {
				logger.Error("cannot open post cache; continuing without persistence", "err", err)
			} else {
				feedStore = st
				defer st.Close()
			}

			client := relay.New(logger.With("module", "relay"), cfg.RelayURL,
				relay.WithMetrics(relayMetrics),
				relay.PublishTimeout(cfg.PublishTimeout),
			)
			// an unreachable relay degrades to a local-only feed
			if err := client.Start(ctx); err != nil {
				logger.Error("cannot connect to relay; feed is local-only", "err", err)
			}

			opts := []feed.Option{feed.WithMetrics(feedMetrics)}
			if cfg.PersistIdentity {
				ident, err := crypto.LoadOrGenIdentity(cfg.IdentityPath())
				if err != nil {
					return err
				}
				logger.Info("using persistent identity", "pubkey", ident.PubKey)
				opts = append(opts, feed.WithIdentity(ident))
			}

			reconciler := feed.NewReconciler(logger.With("module", "feed"), feedStore, relayClient{client}, opts...)
			if err := reconciler.Start(ctx); err != nil {
				return err
			}

			for _, p := range reconciler.Snapshot() {
				printPost(p)
			}

			sub := reconciler.Updates()
			go func() {
				for {
					select {
					case p := <-sub.Out():
						printPost(p)
					case <-sub.Canceled():
						return
					}
				}
			}()

			go readSubmissions(ctx, reconciler)

			<-ctx.Done()
			if client.IsRunning() {
				client.Wait()
			}
			reconciler.Wait()
			return nil
		},
	}
}

func readSubmissions(ctx context.Context, reconciler *feed.Reconciler) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		p, err := reconciler.SubmitPost(ctx, scanner.Text())
		if err != nil {
			if err == feed.ErrEmptyPost {
				continue
			}
			fmt.Fprintf(os.Stderr, "post failed (retry): %v\n", err)
			continue
		}
		logger.Debug("post accepted", "author", p.AuthorPubKey)
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading stdin", "err", err)
	}
}

func printPost(p types.Post) {
	fmt.Printf("%s\n  -- %s\n", p.Content, p.AuthorPubKey)
}

// relayClient adapts *relay.Client to the reconciler's Relay interface; the
// method sets differ only in the subscription handle's static type.
type relayClient struct {
	*relay.Client
}

func (c relayClient) Subscribe(ctx context.Context, filter types.Filter, cb func(types.Event)) (io.Closer, error) {
	return c.Client.Subscribe(ctx, filter, cb)
}
