package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/schovi/dockertest/internal/config"
	"github.com/schovi/dockertest/internal/escape"
	"github.com/schovi/dockertest/internal/executor"
	"github.com/schovi/dockertest/internal/logger"
	"github.com/schovi/dockertest/internal/match"
	"github.com/schovi/dockertest/internal/transcript"
)

var expectCmd = &cobra.Command{
	Use:   "expect <pattern> -- <args>...",
	Short: "Run the docker CLI and wait for a pattern in its output",
	Long: `Run the configured docker CLI with args and wait until a line of its
output matches pattern, a Go regular expression.

The command is docker_path, then docker_options, then args. Every {name}
in args is replaced by a unique container name built from --name-prefix,
so a test can refer to the container it created.

Outcomes:
  default     a complete line must match before --timeout
  --partial   the unterminated last line may match too (prompts)
  --forbid    no line may match before --timeout

Input given with --send is escape-interpreted (\n, \r, \x03, ...) and
written to the process in order before matching starts.

When --subtest names a config section, its timeout, tty, partial and
forbid keys are used for flags not given on the command line.

Exit status is 2 when a required pattern was not seen and 3 when a
forbidden pattern was.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExpect,
}

var (
	expectTimeoutFlag    time.Duration
	expectPartialFlag    bool
	expectForbidFlag     bool
	expectTTYFlag        bool
	expectSendFlag       []string
	expectCloseInputFlag bool
	expectStderrFlag     bool
	expectSubtestFlag    string
	expectNamePrefixFlag string
	expectExitCodeFlag   int
	expectTranscriptFlag string
	expectJsonFlag       bool
)

func init() {
	expectCmd.Flags().DurationVar(&expectTimeoutFlag, "timeout", 0, "Time limit for the search (default docker_timeout)")
	expectCmd.Flags().BoolVar(&expectPartialFlag, "partial", false, "Also match the unterminated last line")
	expectCmd.Flags().BoolVar(&expectForbidFlag, "forbid", false, "Fail if the pattern is seen")
	expectCmd.Flags().BoolVar(&expectTTYFlag, "tty", false, "Run on a pseudo-terminal")
	expectCmd.Flags().StringArrayVar(&expectSendFlag, "send", nil, "Input to write before matching, may be repeated")
	expectCmd.Flags().BoolVar(&expectCloseInputFlag, "close-input", false, "Close input after --send")
	expectCmd.Flags().BoolVar(&expectStderrFlag, "stderr", false, "Match stderr instead of stdout")
	expectCmd.Flags().StringVar(&expectSubtestFlag, "subtest", "", "Config section to take settings from")
	expectCmd.Flags().StringVar(&expectNamePrefixFlag, "name-prefix", "", "Prefix for the {name} placeholder")
	expectCmd.Flags().IntVar(&expectExitCodeFlag, "exit-code", -1, "After matching, wait for exit and require this status")
	expectCmd.Flags().StringVar(&expectTranscriptFlag, "transcript-dir", "", "Save output and outcome here (default transcript_dir)")
	expectCmd.Flags().BoolVar(&expectJsonFlag, "json", false, "Output as JSON")
}

type expectOutput struct {
	Pattern        string   `json:"pattern"`
	Policy         string   `json:"policy"`
	Argv           []string `json:"argv"`
	Name           string   `json:"name,omitempty"`
	Success        bool     `json:"success"`
	Matched        string   `json:"matched,omitempty"`
	MatchedPartial bool     `json:"matched_partial,omitempty"`
	Line           int      `json:"line"`
	Searched       []string `json:"searched"`
	ElapsedMs      int64    `json:"elapsed_ms"`
	ExitCode       *int     `json:"exit_code,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func runExpect(cmd *cobra.Command, args []string) error {
	pattern := args[0]
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	sub, err := loaded.Resolve(expectSubtestFlag)
	if err != nil {
		return err
	}
	settings := sub.Settings

	timeout := settings.DockerTimeout
	switch {
	case cmd.Flags().Changed("timeout"):
		timeout = expectTimeoutFlag
	case sub.Get("timeout") != "":
		if timeout, err = sub.Duration("timeout"); err != nil {
			return err
		}
	}
	if timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}

	tty, err := subtestBool(cmd, sub, "tty", expectTTYFlag)
	if err != nil {
		return err
	}
	partial, err := subtestBool(cmd, sub, "partial", expectPartialFlag)
	if err != nil {
		return err
	}
	forbid, err := subtestBool(cmd, sub, "forbid", expectForbidFlag)
	if err != nil {
		return err
	}
	if tty && expectStderrFlag {
		return fmt.Errorf("--stderr cannot be used with --tty, the terminal merges both streams")
	}

	prefix := expectNamePrefixFlag
	if prefix == "" {
		prefix = sanitizePrefix(sub.Name)
	}
	name, err := executor.UniqueName(prefix)
	if err != nil {
		return err
	}
	argv, err := executor.Command(settings, executor.ExpandName(args[1:], name)...)
	if err != nil {
		return err
	}

	inputs := make([]string, 0, len(expectSendFlag))
	for _, s := range expectSendFlag {
		in, err := escape.Interpret(s)
		if err != nil {
			return fmt.Errorf("escape sequence error: %w", err)
		}
		inputs = append(inputs, in)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transcriptDir := settings.TranscriptDir
	if cmd.Flags().Changed("transcript-dir") {
		transcriptDir = expectTranscriptFlag
	}

	startedAt := time.Now()
	proc, err := executor.Start(ctx, argv, executor.Options{
		TTY:          tty,
		PollInterval: settings.PollInterval,
		Logger:       logger.For("executor"),
	})
	if err != nil {
		return err
	}
	defer proc.Close()

	for _, in := range inputs {
		if err := proc.Send(in); err != nil {
			return err
		}
	}
	if expectCloseInputFlag {
		if err := proc.CloseInput(); err != nil {
			return fmt.Errorf("close input: %w", err)
		}
	}

	primary, secondary := proc.Stdout, proc.Stderr
	if expectStderrFlag {
		primary, secondary = proc.Stderr, proc.Stdout
	}
	opts := []match.Option{match.WithLogger(logger.For("match"))}
	if secondary != nil {
		opts = append(opts, match.WithSecondary(secondary))
	}

	policy := match.Policy{Partial: partial, Forbid: forbid}
	res, matchErr := match.Run(primary, re, timeout, policy, opts...)

	out := expectOutput{
		Pattern: pattern,
		Policy:  policy.String(),
		Argv:    argv,
		Name:    name,
		Success: matchErr == nil,
	}
	if res != nil {
		out.Matched = res.Matched
		out.MatchedPartial = res.MatchedPartial
		out.Line = res.EndIdx
		out.Searched = res.Searched
		out.ElapsedMs = res.Elapsed.Milliseconds()
	}

	resultErr := matchErr
	if resultErr == nil && expectExitCodeFlag >= 0 {
		resultErr = checkExit(proc, settings.DockerTimeout, expectExitCodeFlag, &out)
	}
	if resultErr != nil {
		out.Success = false
		out.Error = resultErr.Error()
	}

	if transcriptDir != "" {
		if err := saveTranscript(transcriptDir, proc, out, startedAt); err != nil {
			logger.Log.Warn().Err(err).Str("dir", transcriptDir).Msg("saving transcript failed")
		}
	}

	if expectJsonFlag {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else if resultErr == nil {
		printExpect(cmd.OutOrStdout(), out, policy)
	}
	return resultErr
}

// subtestBool returns the flag value when it was given on the command line,
// otherwise the subtest's key of the same name.
func subtestBool(cmd *cobra.Command, sub *config.Subtest, name string, flag bool) (bool, error) {
	if cmd.Flags().Changed(name) {
		return flag, nil
	}
	return sub.Bool(name)
}

func checkExit(proc *executor.Process, timeout time.Duration, want int, out *expectOutput) error {
	if err := proc.Wait(timeout); err != nil {
		return err
	}
	code := proc.ExitCode()
	out.ExitCode = &code
	if code != want {
		return fmt.Errorf("exit status %d, want %d", code, want)
	}
	return nil
}

func saveTranscript(dir string, proc *executor.Process, out expectOutput, startedAt time.Time) error {
	store, err := transcript.NewStore(dir)
	if err != nil {
		return err
	}

	streams := map[string][]string{}
	if proc.Stderr == nil {
		streams["pty"] = proc.Stdout.Lines(0, proc.Stdout.Len())
	} else {
		streams["stdout"] = proc.Stdout.Lines(0, proc.Stdout.Len())
		streams["stderr"] = proc.Stderr.Lines(0, proc.Stderr.Len())
	}

	return store.Save(&transcript.Meta{
		Name:       out.Name,
		Argv:       out.Argv,
		PID:        proc.Pid(),
		TTY:        proc.Stderr == nil,
		Pattern:    out.Pattern,
		Policy:     out.Policy,
		Success:    out.Success,
		MatchLine:  out.Line,
		ExitCode:   out.ExitCode,
		Error:      out.Error,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}, streams)
}

func printExpect(w io.Writer, out expectOutput, policy match.Policy) {
	switch {
	case policy.Forbid:
		fmt.Fprintf(w, "Pattern not seen (%d lines searched)\n", len(out.Searched))
	case out.MatchedPartial:
		fmt.Fprintf(w, "%s\n", out.Matched)
	default:
		fmt.Fprint(w, out.Matched)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

var prefixInvalid = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

const maxPrefixLen = 40

// sanitizePrefix derives a container name prefix from a subtest path.
func sanitizePrefix(subtest string) string {
	p := prefixInvalid.ReplaceAllString(subtest, "_")
	for p != "" && !isAlnum(p[0]) {
		p = p[1:]
	}
	if len(p) > maxPrefixLen {
		p = p[:maxPrefixLen]
	}
	return p
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
