package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/dockertest/internal/transcript"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript [name]",
	Short: "List or show saved step transcripts",
	Long: `List the transcripts saved by expect, or show one of them.

Without a name every saved step is listed with its outcome. With a name the
step's command, outcome and output are printed; --stream limits the output
to one stream (stdout, stderr or pty).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTranscript,
}

var (
	transcriptDirFlag    string
	transcriptStreamFlag string
	transcriptDeleteFlag bool
	transcriptJsonFlag   bool
)

func init() {
	transcriptCmd.Flags().StringVar(&transcriptDirFlag, "dir", "", "Transcript directory (default transcript_dir)")
	transcriptCmd.Flags().StringVar(&transcriptStreamFlag, "stream", "", "Print only this stream")
	transcriptCmd.Flags().BoolVar(&transcriptDeleteFlag, "delete", false, "Delete the named transcript")
	transcriptCmd.Flags().BoolVar(&transcriptJsonFlag, "json", false, "Output as JSON")
}

func runTranscript(cmd *cobra.Command, args []string) error {
	dir := transcriptDirFlag
	if dir == "" {
		sub, err := loaded.Resolve("")
		if err != nil {
			return err
		}
		dir = sub.Settings.TranscriptDir
	}
	if dir == "" {
		return fmt.Errorf("no transcript directory, use --dir or set transcript_dir")
	}

	store, err := transcript.NewStore(dir)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if len(args) == 0 {
		return listTranscripts(cmd, store)
	}
	name := args[0]

	if transcriptDeleteFlag {
		if err := store.Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(w, "Deleted %q\n", name)
		return nil
	}

	meta, err := store.LoadMeta(name)
	if err != nil {
		return err
	}

	if transcriptStreamFlag != "" {
		data, err := store.ReadStream(name, transcriptStreamFlag)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if transcriptJsonFlag {
		streams := map[string]string{}
		for _, stream := range meta.Streams {
			data, err := store.ReadStream(name, stream)
			if err != nil {
				return err
			}
			streams[stream] = string(data)
		}
		return printJSON(w, map[string]interface{}{
			"meta":    meta,
			"streams": streams,
		})
	}

	fmt.Fprintf(w, "Command:  %s\n", strings.Join(meta.Argv, " "))
	fmt.Fprintf(w, "Pattern:  %s (%s)\n", meta.Pattern, meta.Policy)
	fmt.Fprintf(w, "Result:   %s\n", outcome(meta))
	if meta.ExitCode != nil {
		fmt.Fprintf(w, "Exit:     %d\n", *meta.ExitCode)
	}
	fmt.Fprintf(w, "Duration: %s\n", meta.FinishedAt.Sub(meta.StartedAt).Round(time.Millisecond))
	for _, stream := range meta.Streams {
		data, err := store.ReadStream(name, stream)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "--- %s ---\n%s", stream, data)
	}
	return nil
}

func listTranscripts(cmd *cobra.Command, store *transcript.Store) error {
	names, err := store.List()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	if transcriptJsonFlag {
		metas := make([]*transcript.Meta, 0, len(names))
		for _, name := range names {
			meta, err := store.LoadMeta(name)
			if err != nil {
				return err
			}
			metas = append(metas, meta)
		}
		return printJSON(w, metas)
	}

	if len(names) == 0 {
		fmt.Fprintln(w, "No transcripts")
		return nil
	}
	for _, name := range names {
		meta, err := store.LoadMeta(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, outcome(meta), meta.Pattern)
	}
	return nil
}

func outcome(meta *transcript.Meta) string {
	if meta.Success {
		return "ok"
	}
	return "FAIL: " + meta.Error
}
