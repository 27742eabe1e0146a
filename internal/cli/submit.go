package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/haul/internal/client"
	"github.com/cwygoda/haul/internal/domain"
)

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	server string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server base URL (default server.url)")
}

func (f *clientFlags) client(a *app) *client.Client {
	base := f.server
	if base == "" {
		base = a.cfg.Server.URL
	}
	return client.New(base, nil)
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		cf       clientFlags
		file     string
		name     string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [url...]",
		Short: "Submit a batch of URLs to a running server",
		Long: `Submit a batch of URLs as one job.

URLs come from the arguments and from --file, one per line. Blank lines and
lines starting with # are skipped. Use --file - to read standard input.

Examples:
  haul submit --file urls.txt --name holiday --wait
  haul submit https://www.youtube.com/playlist?list=abc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			urls := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readURLFile(cmd, file)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}
			if len(urls) == 0 {
				return errors.New("no URLs given: pass them as arguments or with --file")
			}

			c := cf.client(a)
			ctx := cmd.Context()
			id, err := c.Submit(ctx, urls, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !wait {
				return nil
			}

			stderr := cmd.ErrOrStderr()
			var last string
			job, err := c.Wait(ctx, id, interval, func(j *domain.Job) {
				line := fmt.Sprintf("%s %d/%d", j.State, j.Progress.Current, j.Progress.Total)
				if line != last {
					fmt.Fprintln(stderr, line)
					last = line
				}
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), job); err != nil {
				return err
			}
			if job.State == domain.StateError {
				return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
			}
			return nil
		},
	}
	cf.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one URL per line (- for stdin)")
	cmd.Flags().StringVar(&name, "name", "", "batch name (default batch_<id prefix>)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval for --wait")
	return cmd
}

func readURLFile(cmd *cobra.Command, path string) ([]string, error) {
	if path == "-" {
		return client.ReadURLs(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return client.ReadURLs(f)
}

func newStatusCmd(a *app) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := cf.client(a).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cf.register(cmd)
	return cmd
}

func newJobsCmd(a *app) *cobra.Command {
	var cf clientFlags
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Print every job as JSON, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := cf.client(a).List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cf.register(cmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
