// Command transync incrementally translates i18next string tables with LLMs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/getlost-engine/transync/batch"
	"github.com/getlost-engine/transync/config"
	"github.com/getlost-engine/transync/i18n"
	"github.com/getlost-engine/transync/i18next"
	"github.com/getlost-engine/transync/langs"
	"github.com/getlost-engine/transync/memo"
	"github.com/getlost-engine/transync/prompt"
	"github.com/getlost-engine/transync/reconcile"
	"github.com/getlost-engine/transync/settings"
	"github.com/getlost-engine/transync/source"
	"github.com/getlost-engine/transync/store"
	"github.com/getlost-engine/transync/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

// stderrIsTerminal decides colours and the progress bar.
var stderrIsTerminal = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

// logMu serializes log lines with progress bar redraws.
var (
	logMu     sync.Mutex
	activeBar *progressbar.ProgressBar
)

func init() {
	if !stderrIsTerminal || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

func logLine(tag, format string, args ...any) {
	logMu.Lock()
	defer logMu.Unlock()
	if activeBar != nil {
		_ = activeBar.Clear()
	}
	fmt.Fprintf(os.Stderr, tag+" "+format+"\n", args...)
	if activeBar != nil {
		_ = activeBar.RenderBlank()
	}
}

func logInfo(format string, args ...any) {
	logLine(blue("[INFO]"), format, args...)
}

func logSuccess(format string, args ...any) {
	logLine(green("[OK]"), format, args...)
}

func logWarning(format string, args ...any) {
	logLine(yellow("[WARN]"), format, args...)
}

func logError(format string, args ...any) {
	logLine(red("[ERROR]"), format, args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	transDir   string
	dotenvFile string
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "transync",
		Short: "Incremental LLM translation of i18next string tables",
		Long: `transync keeps a tree of per-language translation tables in sync with a
set of source string tables, translating only what is new or changed.

Layout of the translations directory:
  main/<namespace>.jsonl       source entries {"k","v","ctx"}
  <lang>/<namespace>.jsonl     translated records {"k","v","original","ctx","lock"}
  transync.yaml                optional project configuration

Commands:
  translate   Bring every language up to date with the source
  status      Show per-language progress without translating
  lock        Pin translated keys so they are never re-translated
  unlock      Release pinned keys
  export      Write flat i18next JSON files for runtime use
  auth        Manage provider API keys`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dotenvFile == "" {
				return nil
			}
			if err := godotenv.Load(dotenvFile); err != nil {
				return fmt.Errorf(i18n.T("loading %s: %w"), dotenvFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&transDir, "trans-dir", ".", "Translations directory")
	root.PersistentFlags().StringVar(&dotenvFile, "dotenv", "", "Load environment variables from a .env file")

	root.AddCommand(
		newTranslateCmd(),
		newStatusCmd(),
		newLockCmd(true),
		newLockCmd(false),
		newExportCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			logWarning("%s", i18n.T("Translation interrupted, partial progress saved"))
			os.Exit(0)
		}
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("transync version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	provider, apiKey, model, baseURL string
	langs, primaryLang               string
	rpm, parallel, maxRetries        int
	timeout                          time.Duration
	strict, noCache, dryRun, verbose bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate new and changed source strings",
		Long: `Translate every source namespace into every target language.

Only entries that are missing, or whose source text or context changed since
they were last translated, are sent to the model. Locked entries are never
touched. Progress is written after every entry, so an interrupted run
resumes where it stopped.

Examples:
  # Translate with OpenAI (OPENAI_API_KEY from .env)
  transync translate --trans-dir public/locales --dotenv .env

  # Only French and German, four namespace/language pairs at a time
  transync translate --trans-dir public/locales --lang fr,de --parallel 4

  # Show what would be translated
  transync translate --trans-dir public/locales --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, a)
		},
	}

	// Provider selection
	cmd.Flags().StringVar(&a.provider, "provider", "", "AI provider: "+strings.Join(translate.ProviderIDs(), ", "))
	cmd.Flags().StringVar(&a.model, "model", "", "Model name (default: provider default, gpt-4.1-nano for openai)")
	cmd.Flags().StringVar(&a.apiKey, "api-key", "", "API key (or provider env var / "+settings.GenericKeyEnv+")")
	cmd.Flags().StringVar(&a.baseURL, "base-url", "", "Custom API base URL")

	// Target selection
	cmd.Flags().StringVar(&a.langs, "lang", "", "Target languages (comma-separated, default: all supported)")
	cmd.Flags().StringVar(&a.primaryLang, "primary-lang", "", "Language of the source strings (default: detect)")

	// Behaviour
	cmd.Flags().IntVar(&a.rpm, "rpm", config.DefaultRPM, "Maximum requests per minute (0 = unlimited)")
	cmd.Flags().IntVar(&a.parallel, "parallel", config.DefaultParallel, "Namespace/language pairs translated at once")
	cmd.Flags().BoolVar(&a.strict, "strict", false, "Abort on the first failed translation instead of keeping the source text")
	cmd.Flags().BoolVar(&a.noCache, "no-cache", false, "Do not use the translation memory")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "Show what would be translated without calling the model")
	cmd.Flags().BoolVar(&a.verbose, "verbose", false, "Log every translated key")

	// Network
	cmd.Flags().DurationVar(&a.timeout, "timeout", 0, "Request timeout (0 = provider default)")
	cmd.Flags().IntVar(&a.maxRetries, "max-retries", config.DefaultMaxRetries, "Maximum retries on 429, 5xx and network errors")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var out []string
		provs := translate.DefaultProviders()
		for _, id := range translate.ProviderIDs() {
			out = append(out, id+"\t"+provs[id].Name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("lang", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return langs.Codes(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// loadConfig resolves flags > environment > transync.yaml > defaults.
func loadConfig(cmd *cobra.Command, a translateArgs) (*config.Config, error) {
	cfg, err := config.Load(transDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = a.provider
	}
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("lang") {
		cfg.Languages = config.SplitList(a.langs)
	}
	if flags.Changed("primary-lang") {
		cfg.PrimaryLang = a.primaryLang
	}
	if flags.Changed("rpm") {
		cfg.RPM = a.rpm
	}
	if flags.Changed("parallel") {
		cfg.Parallel = a.parallel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = a.maxRetries
	}
	if a.strict {
		cfg.Policy = reconcile.PolicyStrict.String()
	}
	if a.noCache {
		cfg.Cache = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openMemo opens the translation memory, or returns nil with a warning.
func openMemo(cfg *config.Config) *memo.Cache {
	if !cfg.Cache {
		return nil
	}
	mc, err := memo.Open(cfg.MemoPath(transDir))
	if err != nil {
		logWarning(i18n.T("Translation memory unavailable, continuing without it: %v"), err)
		return nil
	}
	return mc
}

func runTranslate(cmd *cobra.Command, a translateArgs) error {
	cfg, err := loadConfig(cmd, a)
	if err != nil {
		return err
	}

	mc := openMemo(cfg)
	if mc != nil {
		defer mc.Close()
	}

	opts := batch.Options{
		Root:        transDir,
		SourceDir:   cfg.SourceDir,
		Languages:   cfg.Languages,
		PrimaryLang: cfg.PrimaryLang,
		Policy:      cfg.FailurePolicy(),
		Parallel:    cfg.Parallel,
		Verbose:     a.verbose,
		OnLog:       logInfo,
		OnWarn:      logWarning,
		OnError:     logError,
	}
	if mc != nil {
		opts.Detections = mc
	}

	if a.dryRun {
		return runDryRun(cmd.Context(), opts)
	}

	// Resolve provider and key
	if cfg.Provider == translate.ProviderCustomOpenAI && cfg.BaseURL == "" {
		cfg.BaseURL = settings.GetBaseURL(cfg.Provider)
	}
	prov, err := cfg.ProviderConfig(settings.ResolveAPIKey(cfg.Provider, a.apiKey))
	if err != nil {
		if errors.Is(err, config.ErrMissingCredentials) {
			env := settings.EnvVarForProvider(prov.ID)
			return fmt.Errorf(i18n.T("%w\n\nSet %s (or %s), pass --api-key, or run 'transync auth login --provider %s'"),
				err, env, settings.GenericKeyEnv, prov.ID)
		}
		return err
	}

	prompts := prompt.NewSet()
	if path, err := settings.PromptsFilePath(); err == nil {
		if err := prompts.Load(path); err != nil {
			logWarning(i18n.T("Ignoring custom prompts: %v"), err)
		}
	}

	client, err := translate.NewClient(translate.Options{
		Provider:   prov,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Limiter:    translate.NewLimiter(cfg.RPM),
		OnLog:      logWarning,
		Verbose:    a.verbose,
	})
	if err != nil {
		return err
	}
	tr := translate.NewTranslator(client, prompts)

	opts.Detector = tr
	opts.Translator = tr
	if mc != nil {
		opts.Translator = mc.Translator(tr, prov.ID+"/"+prov.Model)
	}

	logInfo(i18n.T("Provider: %s (%s), Model: %s"), prov.Name, prov.ID, prov.Model)
	if cfg.RPM > 0 {
		logInfo(i18n.T("Rate limit: %d requests/minute"), cfg.RPM)
	}
	if cfg.Parallel > 1 {
		logInfo(i18n.T("Parallel: %d pairs at once"), cfg.Parallel)
	}

	// Setup signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logWarning("%s", i18n.T("Interrupted, saving progress..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	prog := newProgress(a.verbose)
	opts.OnProgress = prog.update
	sum, err := batch.Run(ctx, opts)
	prog.finish()

	if err != nil {
		if sum.Total > 0 {
			printSummary(sum, mc)
		}
		return err
	}

	printSummary(sum, mc)
	if sum.Degraded > 0 {
		logWarning(i18n.N("%d entry kept its source text and will be retried on the next run",
			"%d entries kept their source text and will be retried on the next run", sum.Degraded), sum.Degraded)
	}
	logSuccess("%s", i18n.T("Translation complete!"))
	return nil
}

func printSummary(sum batch.Summary, mc *memo.Cache) {
	logInfo(i18n.T("Translated %d, up to date %d, failed %d, pruned %d (%d/%d units) in %s"),
		sum.Committed, sum.Skipped, sum.Degraded, sum.Pruned, sum.Done(), sum.Total, sum.Elapsed.Round(time.Second))
	if sum.Dropped > 0 {
		logInfo(i18n.N("Removed %d file of a deleted namespace", "Removed %d files of deleted namespaces", sum.Dropped), sum.Dropped)
	}
	if mc != nil {
		if hits, misses := mc.Stats(); hits+misses > 0 {
			logInfo(i18n.T("Translation memory: %d hits, %d misses"), hits, misses)
		}
	}
}

func runDryRun(ctx context.Context, opts batch.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	primary, plans, err := batch.PlanAll(ctx, opts)
	if err != nil {
		return err
	}
	if primary == "" {
		logWarning("%s", i18n.T("Primary language unknown until the first real run; all languages are counted as targets"))
	} else {
		logInfo(i18n.T("Primary language: %s"), primary)
	}

	pending := 0
	for _, p := range plans {
		if p.Pending() == 0 {
			continue
		}
		pending += p.Pending()
		logInfo(i18n.T("%s (%s) %s: %d new, %d changed"), p.Lang.Code, p.Lang.Native, p.Namespace, len(p.Missing), len(p.Stale))
	}
	orphans, err := batch.OrphanNamespaces(opts)
	if err != nil {
		return err
	}
	for _, path := range orphanPaths(orphans) {
		logInfo(i18n.T("%s would be removed: namespace left the source"), path)
	}
	if pending == 0 {
		logSuccess("%s", i18n.T("All translations are up to date!"))
		return nil
	}
	logInfo(i18n.N("%d entry would be translated", "%d entries would be translated", pending), pending)
	return nil
}

// ---------------------------------------------------------------------------
// Progress display
// ---------------------------------------------------------------------------

// progress draws a bar on a terminal and periodic log lines otherwise.
type progress struct {
	enabled  bool
	lastStep int
}

func newProgress(verbose bool) *progress {
	return &progress{enabled: stderrIsTerminal && !verbose}
}

func (p *progress) update(pr batch.Progress) {
	if !p.enabled {
		step := pr.Total / 20
		if step < 1 {
			step = 1
		}
		if pr.Done == pr.Total || pr.Done/step > p.lastStep {
			p.lastStep = pr.Done / step
			logInfo(i18n.T("Progress: %d/%d (ETA %s)"), pr.Done, pr.Total, pr.ETA.Round(time.Second))
		}
		return
	}

	logMu.Lock()
	defer logMu.Unlock()
	if activeBar == nil {
		activeBar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetItsString("entry"),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetDescription("[cyan]Translating[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
	}
	activeBar.Describe(fmt.Sprintf("[cyan]Translating[reset] ETA %s", pr.ETA.Round(time.Second)))
	_ = activeBar.Set(pr.Done)
}

func (p *progress) finish() {
	logMu.Lock()
	defer logMu.Unlock()
	if activeBar != nil {
		_ = activeBar.Finish()
		fmt.Fprintln(os.Stderr)
		activeBar = nil
	}
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	var langList string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show translation progress per language",
		Long: `Show, for every target language, how many source entries are translated,
how many are new or changed since their last translation, how many are locked,
and how many stored keys no longer exist in the source. Does not modify files
and does not call the model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(transDir)
			if err != nil {
				return err
			}
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if langList != "" {
				cfg.Languages = config.SplitList(langList)
			}
			opts := batch.Options{
				Root:        transDir,
				SourceDir:   cfg.SourceDir,
				Languages:   cfg.Languages,
				PrimaryLang: cfg.PrimaryLang,
				OnWarn:      logWarning,
			}
			if mc := openMemo(cfg); mc != nil {
				defer mc.Close()
				opts.Detections = mc
			}
			return runStatus(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&langList, "lang", "", "Languages to show (comma-separated, default: configured targets)")
	return cmd
}

// langStats aggregates plans of one language across namespaces.
type langStats struct {
	lang    langs.Lang
	primary bool
	total   int
	current int
	missing int
	stale   int
	locked  int
	orphans int
}

func (s langStats) percent() int {
	if s.total == 0 {
		return 100
	}
	return (s.current + s.locked) * 100 / s.total
}

func aggregate(plans []batch.PairPlan) []langStats {
	idx := make(map[string]int)
	var out []langStats
	for _, p := range plans {
		i, ok := idx[p.Lang.Code]
		if !ok {
			i = len(out)
			idx[p.Lang.Code] = i
			out = append(out, langStats{lang: p.Lang, primary: p.Primary})
		}
		s := &out[i]
		s.current += len(p.Current)
		s.missing += len(p.Missing)
		s.stale += len(p.Stale)
		s.locked += len(p.Locked)
		s.orphans += len(p.Orphans)
		s.total += len(p.Current) + len(p.Missing) + len(p.Stale) + len(p.Locked)
	}
	return out
}

func runStatus(ctx context.Context, opts batch.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	nss, err := source.Load(opts.Root, opts.SourceDir)
	if err != nil {
		return err
	}
	primary, plans, err := batch.PlanAll(ctx, opts)
	if err != nil {
		return err
	}
	orphans, err := batch.OrphanNamespaces(opts)
	if err != nil {
		return err
	}

	absRoot, _ := filepath.Abs(opts.Root)
	fmt.Fprintf(os.Stderr, "\n%s\n", blue(i18n.T("Translations")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 72))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Root:"), absRoot)
	fmt.Fprintf(os.Stderr, "  %-12s %d (%d %s)\n", i18n.T("Namespaces:"), len(nss), source.Count(nss), i18n.T("entries"))
	if primary != "" {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Primary:"), primary)
	} else {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Primary:"), i18n.T("not detected yet"))
	}
	fmt.Fprintln(os.Stderr)

	fmt.Fprintf(os.Stderr, "  %-8s %-24s %-20s %7s %7s %7s %7s\n",
		i18n.T("Lang"), i18n.T("Name"), i18n.T("Progress"), i18n.T("New"), i18n.T("Changed"), i18n.T("Locked"), i18n.T("Orphans"))
	for _, s := range aggregate(plans) {
		name := s.lang.Flag + " " + s.lang.Native
		if s.primary {
			name += " *"
		}
		fmt.Fprintf(os.Stderr, "  %-8s %-24s %s %7d %7d %7d %7d\n",
			s.lang.Code, name, progressBar(s.percent(), 14), s.missing, s.stale, s.locked, s.orphans)
	}
	fmt.Fprintln(os.Stderr)

	paths := orphanPaths(orphans)
	if len(paths) > 0 {
		fmt.Fprintf(os.Stderr, "  %s\n", i18n.T("Files of deleted namespaces:"))
		for _, p := range paths {
			fmt.Fprintf(os.Stderr, "    %s\n", p)
		}
		fmt.Fprintln(os.Stderr)
	}

	printSuggestedCommands(plans, len(paths))
	return nil
}

// orphanPaths flattens OrphanNamespaces output into sorted lang/ns.jsonl paths.
func orphanPaths(orphans map[string][]string) []string {
	var out []string
	for lang, nss := range orphans {
		for _, ns := range nss {
			out = append(out, lang+"/"+ns+store.Ext)
		}
	}
	sort.Strings(out)
	return out
}

// progressBar renders a fixed-width coloured bar followed by the percentage.
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	paint := yellow
	switch {
	case percent >= 100:
		paint = green
	case percent < 30:
		paint = red
	}
	return paint(bar) + fmt.Sprintf(" %3d%%", percent)
}

func printSuggestedCommands(plans []batch.PairPlan, orphanFiles int) {
	pending := 0
	orphans := orphanFiles
	for _, p := range plans {
		pending += p.Pending()
		orphans += len(p.Orphans)
	}
	switch {
	case pending > 0:
		fmt.Fprintf(os.Stderr, "  %s\n    transync translate --trans-dir %s\n\n", i18n.T("Next step:"), transDir)
	case orphans > 0:
		fmt.Fprintf(os.Stderr, "  %s\n    transync translate --trans-dir %s\n\n", i18n.T("Stale keys and files will be pruned by:"), transDir)
	default:
		logSuccess("%s", i18n.T("All translations are up to date!"))
	}
}

// ---------------------------------------------------------------------------
// lock / unlock
// ---------------------------------------------------------------------------

func newLockCmd(locked bool) *cobra.Command {
	var (
		lang string
		ns   string
		all  bool
	)

	use, short := "lock", "Pin translated keys so they are never re-translated"
	if !locked {
		use, short = "unlock", "Release pinned keys"
	}

	cmd := &cobra.Command{
		Use:   use + " --lang LANG --ns NAMESPACE [KEY...]",
		Short: short,
		Long: short + `.

A locked record keeps its value no matter how the source changes. Keys must
already exist in the language table (run translate first). Use --all to
apply to every key of the namespace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang == "" || ns == "" {
				return errors.New(i18n.T("--lang and --ns are required"))
			}
			code, ok := langs.Normalize(lang)
			if !ok {
				return fmt.Errorf(i18n.T("unsupported language %q"), lang)
			}
			st := store.New(transDir)
			keys := args
			if all {
				keys = st.Load(code, ns).Keys()
			}
			if len(keys) == 0 {
				return errors.New(i18n.T("no keys given (pass keys or --all)"))
			}
			if err := st.SetLock(code, ns, keys, locked); err != nil {
				return err
			}
			if locked {
				logSuccess(i18n.N("%d key locked in %s/%s", "%d keys locked in %s/%s", len(keys)), len(keys), code, ns)
			} else {
				logSuccess(i18n.N("%d key unlocked in %s/%s", "%d keys unlocked in %s/%s", len(keys)), len(keys), code, ns)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Language code")
	cmd.Flags().StringVar(&ns, "ns", "", "Namespace")
	cmd.Flags().BoolVar(&all, "all", false, "Apply to every key in the namespace")
	return cmd
}

// ---------------------------------------------------------------------------
// export
// ---------------------------------------------------------------------------

func newExportCmd() *cobra.Command {
	var (
		out      string
		langList string
	)

	cmd := &cobra.Command{
		Use:   "export --out DIR",
		Short: "Write flat i18next JSON files for runtime use",
		Long: `Write <out>/<lang>/<namespace>.json for every stored language table, as
flat key/value objects that i18next loads directly. Records are exported as
stored, including source-text placeholders of failed translations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New(i18n.T("--out is required"))
			}
			cfg, err := config.Load(transDir)
			if err != nil {
				return err
			}
			n, err := exportTables(store.New(transDir), cfg.SourceDir, out, config.SplitList(langList))
			if err != nil {
				return err
			}
			logSuccess(i18n.N("Exported %d file to %s", "Exported %d files to %s", n), n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output directory")
	cmd.Flags().StringVar(&langList, "lang", "", "Languages to export (comma-separated, default: all stored)")
	return cmd
}

// exportTables writes every stored table except the source directory.
func exportTables(st *store.Store, sourceDir, out string, only []string) (int, error) {
	if sourceDir == "" {
		sourceDir = source.DefaultDir
	}
	stored, err := st.Languages()
	if err != nil {
		return 0, err
	}
	want := make(map[string]bool)
	for _, l := range only {
		code, ok := langs.Normalize(l)
		if !ok {
			return 0, fmt.Errorf(i18n.T("unsupported language %q"), l)
		}
		want[code] = true
	}

	written := 0
	for _, lang := range stored {
		if lang == sourceDir {
			continue
		}
		if _, ok := langs.Lookup(lang); !ok {
			continue
		}
		if len(want) > 0 && !want[lang] {
			continue
		}
		nss, err := st.Namespaces(lang)
		if err != nil {
			return written, err
		}
		for _, ns := range nss {
			tbl := st.Load(lang, ns)
			values := make(map[string]string, tbl.Len())
			for _, k := range tbl.Keys() {
				r, _ := tbl.Get(k)
				values[k] = r.Value
			}
			path := filepath.Join(out, lang, ns+".json")
			if err := i18next.FromValues(values).WriteFile(path); err != nil {
				return written, fmt.Errorf("writing %s: %w", path, err)
			}
			written++
		}
	}
	return written, nil
}
