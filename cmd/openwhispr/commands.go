package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/HeroTools/open-whispr-sub004/internal/app"
	"github.com/HeroTools/open-whispr-sub004/internal/config"
	"github.com/HeroTools/open-whispr-sub004/internal/dictation"
	"github.com/HeroTools/open-whispr-sub004/internal/models"
	"github.com/HeroTools/open-whispr-sub004/pkg/audio"
)

// newApp builds an App for the one-shot commands: no probe server and no
// config watch.
func newApp(ctx context.Context, cfg *config.Config, d *deps) (*app.App, error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, d)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, err
	}
	cfg.Server.ListenAddr = ""
	return app.New(ctx, cfg, providers, app.WithCheckers(d.checkers(cfg)...))
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Shutdown(ctx)
}

// runTranscribe transcribes a WAV file through the same pipeline as a
// dictation session and prints the delivered text.
func runTranscribe(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	langs := fs.String("languages", "", "comma-separated language codes, overriding the settings file")
	raw := fs.Bool("raw", false, "skip the correction pass")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: openwhispr transcribe [-languages en,de] [-raw] <file.wav>")
		return 2
	}

	a, err := audio.ReadWAVFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}
	if *langs != "" {
		codes := lo.Uniq(lo.Compact(lo.Map(strings.Split(*langs, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		})))
		cfg.Languages.Selected = codes
		cfg.Languages.Fallback = lo.FirstOrEmpty(codes)
		// The flag wins over the settings file.
		cfg.Paths.Settings = ""
	}
	if *raw {
		cfg.Dictation.CorrectionEnabled = false
	}
	cfg.Dictation.StreamingEnabled = false

	application, err := newApp(ctx, cfg, newDeps(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}
	defer shutdown(application)

	o := application.Orchestrator()
	id, err := o.Submit(ctx, a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}
	return printOutcome(ctx, os.Stdout, os.Stderr, o.Events(), id)
}

// printOutcome waits for session id to end and prints its transcript.
func printOutcome(ctx context.Context, stdout, stderr io.Writer, events <-chan dictation.Event, id string) int {
	code := 1
	for {
		select {
		case <-ctx.Done():
			return 130
		case ev, ok := <-events:
			if !ok {
				return code
			}
			if ev.SessionID != id {
				continue
			}
			switch ev.Kind {
			case dictation.EventComplete:
				fmt.Fprintln(stdout, ev.Completion.Text)
				if lang := ev.Completion.Language.Effective(); lang != "" {
					fmt.Fprintf(stderr, "source=%s language=%s corrected=%v\n", ev.Completion.Source, lang, ev.Completion.Corrected)
				}
				code = 0
			case dictation.EventError:
				fmt.Fprintf(stderr, "%s: %s\n", ev.Error.Title, ev.Error.Description)
			case dictation.EventNotice:
				fmt.Fprintf(stderr, "%s: %s\n", ev.Notice.Title, ev.Notice.Description)
			case dictation.EventStateChange:
				if ev.State.State == dictation.StateIdle {
					return code
				}
			}
		}
	}
}

// runModels manages local model files.
func runModels(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) == 0 {
		args = []string{"list"}
	}
	mgr := models.NewManager(cfg.Paths.ModelsDir)
	sub, rest := args[0], args[1:]
	if sub != "list" && len(rest) != 1 {
		fmt.Fprintf(os.Stderr, "usage: openwhispr models %s <name>\n", sub)
		return 2
	}

	var err error
	switch sub {
	case "list":
		err = listModels(os.Stdout, mgr)
	case "check":
		var st models.Status
		if st, err = mgr.Check(rest[0]); err == nil {
			printStatus(os.Stdout, st)
		}
	case "download":
		err = downloadModel(ctx, os.Stdout, mgr, rest[0])
	case "delete":
		var freed int64
		if freed, err = mgr.Delete(rest[0]); err == nil {
			fmt.Fprintf(os.Stdout, "deleted %s, freed %.1f MB\n", rest[0], float64(freed)/(1<<20))
		}
	default:
		fmt.Fprintf(os.Stderr, "openwhispr: unknown models command %q\n", sub)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		if errors.Is(err, models.ErrUnknownModel) {
			names := lo.Map(models.Catalog(), func(m models.Model, _ int) string { return m.Name })
			fmt.Fprintf(os.Stderr, "known models: %s\n", strings.Join(names, ", "))
		}
		return 1
	}
	return 0
}

func listModels(w io.Writer, mgr *models.Manager) error {
	list, err := mgr.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tSIZE\tDESCRIPTION")
	for _, st := range list {
		status := "-"
		size := fmt.Sprintf("%d MB", st.Model.Size>>20)
		if st.Downloaded {
			status = "downloaded"
			size = fmt.Sprintf("%.1f MB", st.SizeMB())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Model.Name, status, size, st.Model.Description)
	}
	return tw.Flush()
}

func printStatus(w io.Writer, st models.Status) {
	if !st.Downloaded {
		fmt.Fprintf(w, "%s: not downloaded (%s)\n", st.Model.Name, st.Path)
		return
	}
	fmt.Fprintf(w, "%s: %.1f MB at %s\n", st.Model.Name, st.SizeMB(), st.Path)
}

func downloadModel(ctx context.Context, w io.Writer, mgr *models.Manager, name string) error {
	st, err := mgr.Download(ctx, name, func(p models.Progress) {
		fmt.Fprintf(w, "\r\033[K%s: %5.1f%%  %.1f/%.1f MB  %.1f MB/s",
			p.Model, p.Percent, float64(p.Downloaded)/(1<<20), float64(p.Total)/(1<<20), p.BytesPerSecond/(1<<20))
		if p.Done {
			fmt.Fprintln(w)
		}
	})
	if err != nil {
		fmt.Fprintln(w)
		return err
	}
	printStatus(w, st)
	return nil
}

func runCheckFFmpeg(ctx context.Context, cfg *config.Config) int {
	d := newDeps(cfg)
	info := d.ffmpeg.Check(ctx)
	if !info.Available {
		fmt.Fprintf(os.Stdout, "ffmpeg: not available: %s\n", info.Error)
		return 1
	}
	fmt.Fprintf(os.Stdout, "ffmpeg: %s (%s, version %s)\n", info.Path, info.Source, info.Version)
	return 0
}

// runDoctor runs every readiness check and prints the report.
func runDoctor(ctx context.Context, cfg *config.Config) int {
	application, err := newApp(ctx, cfg, newDeps(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "openwhispr: %v\n", err)
		return 1
	}
	defer shutdown(application)

	report := application.Health().Run(ctx)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range report.Checks {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status(), r.Took.Round(time.Millisecond))
	}
	_ = tw.Flush()
	if !report.OK {
		fmt.Fprintln(os.Stdout, "not ready")
		return 1
	}
	fmt.Fprintln(os.Stdout, "ready")
	return 0
}
