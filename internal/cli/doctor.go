package cli

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/cwygoda/haul/internal/config"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, external tools, backends and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			failed := 0
			check := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Fprintf(out, "[FAIL] %s: %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "[ OK ] %s\n", name)
			}

			// Config is already loaded and validated by the root command.
			check("config", nil)

			_, err := exec.LookPath(a.cfg.Worker.YtDLPBin)
			check("yt-dlp ("+a.cfg.Worker.YtDLPBin+")", err)

			for _, d := range a.cfg.Downloaders {
				_, err := exec.LookPath(config.ExpandPath(d.Command))
				check("downloader "+d.Name+" ("+d.Command+")", err)
			}

			b, err := openBackends(ctx, a.cfg, a.log)
			check(fmt.Sprintf("store %s, queue %s", a.cfg.Store.Backend, a.cfg.Queue.Backend), err)
			if err == nil {
				_ = b.Close()
			}

			_, err = newUploader(ctx, a.cfg, a.log)
			check("uploader "+a.cfg.Uploader.Backend, err)

			return summarize(out, failed)
		},
	}
}

func summarize(out io.Writer, failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}
