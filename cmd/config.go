package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/schovi/dockertest/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [subtest]",
	Short: "Show the effective settings of a subtest",
	Long: `Show the settings a subtest runs with after merging every --config
file, the subtest's ancestor sections, [defaults] and DOCKERTEST_*
environment variables. Without a subtest only [defaults] applies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfig,
}

var (
	configListFlag bool
	configJsonFlag bool
)

func init() {
	configCmd.Flags().BoolVar(&configListFlag, "list", false, "List configured subtests")
	configCmd.Flags().BoolVar(&configJsonFlag, "json", false, "Output as JSON")
}

func runConfig(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	if configListFlag {
		names := loaded.Subtests()
		if configJsonFlag {
			return printJSON(w, nonNil(names))
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	sub, err := loaded.Resolve(name)
	if err != nil {
		return err
	}

	if configJsonFlag {
		return printJSON(w, map[string]interface{}{
			"subtest":  sub.Name,
			"settings": sub.Settings,
			"values":   sub.Values,
		})
	}

	s := sub.Settings
	fmt.Fprintf(w, "docker_path = %s\n", s.DockerPath)
	fmt.Fprintf(w, "docker_options = %s\n", s.DockerOptions)
	fmt.Fprintf(w, "docker_timeout = %s\n", s.DockerTimeout)
	fmt.Fprintf(w, "poll_interval = %s\n", s.PollInterval)
	fmt.Fprintf(w, "settle = %s\n", s.Settle)
	fmt.Fprintf(w, "log_file = %s\n", s.LogFile)
	fmt.Fprintf(w, "transcript_dir = %s\n", s.TranscriptDir)
	fmt.Fprintf(w, "debug = %t\n", s.Debug)

	var extra []string
	for key := range sub.Values {
		if !config.IsSettingKey(key) {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		fmt.Fprintf(w, "%s = %s\n", key, sub.Values[key])
	}
	return nil
}
