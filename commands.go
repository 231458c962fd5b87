package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maastricht-university/affect-pipeline/clients"
	"github.com/maastricht-university/affect-pipeline/features"
	"github.com/maastricht-university/affect-pipeline/orchestrator"
	"github.com/maastricht-university/affect-pipeline/rules"
	"github.com/maastricht-university/affect-pipeline/sink"
	"github.com/maastricht-university/affect-pipeline/store"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live pipeline behind a websocket endpoint",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
	cmd.Flags().String("listen", ":8085", "websocket listen address")
	cmd.Flags().String("nats-url", "", "publish observations to this NATS server")
	cmd.Flags().String("face-url", "", "face detection service")
	cmd.Flags().String("chat-url", "", "chat service")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	text, err := a.textScorer()
	if err != nil {
		return err
	}
	h := clients.NewHTTP()
	deps := orchestrator.Deps{Text: text, HTTP: h, Store: st, Log: a.log}
	if url := a.cfg.Services.Face.URL; url != "" {
		deps.Face = clients.NewFaceDetector(h, url)
	}
	p := orchestrator.NewPipeline(a.cfg, deps)
	if err := p.Restore(ctx); err != nil {
		a.log.WithError(err).Warn("history not restored")
	}

	if url := a.cfg.NATS.URL; url != "" {
		n, err := sink.DialNATS(url, a.cfg.NATS.Subject, a.log)
		if err != nil {
			return err
		}
		defer n.Close()
		defer p.OnObservation(n.Publish)()
	}

	if path := a.cfg.Rules.LexiconPath; path != "" {
		go func() {
			if err := rules.Watch(ctx, path, text, a.log); err != nil {
				a.log.WithError(err).Warn("lexicon watcher stopped")
			}
		}()
	}

	hub := sink.NewHub(p, a.log)
	srv := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.log.WithField("listen", a.cfg.Server.Listen).Info("serving websocket on /ws")

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = p.Shutdown(context.Background())
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = hub.Close()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.WithError(err).Warn("http shutdown")
	}
	return p.Shutdown(sctx)
}

func (a *app) newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <recording.wav>",
		Short: "Transcribe a recording and write per-window affect summaries",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runAnalyze,
	}
	cmd.Flags().String("asr-url", "", "speech-to-text service")
	cmd.Flags().String("outputs", "", "output directory")
	return cmd
}

func (a *app) runAnalyze(cmd *cobra.Command, args []string) error {
	text, err := a.textScorer()
	if err != nil {
		return err
	}
	p := orchestrator.NewPipeline(a.cfg, orchestrator.Deps{Text: text, Log: a.log})
	sum, err := p.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func (a *app) newTextCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "text <utterance>...",
		Short: "Score the tone of one utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := a.textScorer()
			if err != nil {
				return err
			}
			f, err := features.ExtractText(strings.Join(args, " "))
			if err != nil {
				return err
			}
			res := ts.Score(f)
			out := cmd.OutOrStdout()
			if !asJSON {
				_, err = fmt.Fprintf(out, "%s\t%.2f\n", res.Category, res.Confidence)
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"tone":       res.Category,
				"confidence": res.Confidence,
				"scores":     res.Scores,
				"features":   f,
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print scores and features as JSON")
	return cmd
}

func (a *app) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-channel category shares from the history cache",
		Args:  cobra.NoArgs,
		RunE:  a.runStats,
	}
}

func (a *app) runStats(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tREADINGS\tSAVED\tSHARES")
	for _, n := range orchestrator.Names {
		var hist []orchestrator.Reading
		saved, err := st.LoadHistory(cmd.Context(), string(n), &hist)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(tw, "%s\t0\t-\t-\n", n)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", n, len(hist), saved.Local().Format(time.DateTime), shares(hist))
	}
	return tw.Flush()
}

// shares formats category shares, largest first.
func shares(hist []orchestrator.Reading) string {
	if len(hist) == 0 {
		return "-"
	}
	counts := map[string]int{}
	for _, r := range hist {
		counts[r.Category]++
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = fmt.Sprintf("%s %.0f%%", c, 100*float64(counts[c])/float64(len(hist)))
	}
	return strings.Join(parts, ", ")
}
