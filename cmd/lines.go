package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/dockertest/internal/linebuf"
	"github.com/schovi/dockertest/internal/logger"
	"github.com/schovi/dockertest/internal/wait"
)

var linesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Print stdin as clean lines once it goes quiet",
	Long: `Read stdin through the same line buffer the matchers use and print
the lines with terminal escape sequences and carriage returns removed.

Reading stops at end of input, after --settle of silence, or fails after
--timeout if the input never goes quiet. An unterminated last line is
printed as well.`,
	Args: cobra.NoArgs,
	RunE: runLines,
}

var (
	linesSettleFlag  time.Duration
	linesTimeoutFlag time.Duration
	linesJsonFlag    bool
)

func init() {
	linesCmd.Flags().DurationVar(&linesSettleFlag, "settle", 0, "Stop after this much silence (default settle)")
	linesCmd.Flags().DurationVar(&linesTimeoutFlag, "timeout", 0, "Give up after this long (default docker_timeout)")
	linesCmd.Flags().BoolVar(&linesJsonFlag, "json", false, "Output as JSON")
}

func runLines(cmd *cobra.Command, args []string) error {
	sub, err := loaded.Resolve("")
	if err != nil {
		return err
	}
	cfg := wait.Config{
		Settle:  sub.Settings.Settle,
		Timeout: sub.Settings.DockerTimeout,
	}
	if cmd.Flags().Changed("settle") {
		cfg.Settle = linesSettleFlag
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = linesTimeoutFlag
	}

	buf := linebuf.NewFD(int(os.Stdin.Fd()),
		linebuf.WithPollTimeout(sub.Settings.PollInterval),
		linebuf.WithLogger(logger.For("lines")))

	lines, err := wait.ForSettle(buf, cfg)

	if linesJsonFlag {
		out := map[string]interface{}{
			"lines":   nonNil(lines),
			"partial": buf.Peek(),
			"eof":     buf.EOF(),
		}
		if err != nil {
			out["error"] = err.Error()
		}
		if jerr := printJSON(cmd.OutOrStdout(), out); jerr != nil {
			return jerr
		}
		return err
	}

	w := cmd.OutOrStdout()
	for _, line := range lines {
		fmt.Fprint(w, line)
	}
	if partial := buf.Peek(); partial != "" {
		fmt.Fprintln(w, partial)
	}
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
