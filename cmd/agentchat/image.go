package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/imagegen"
	"github.com/spf13/cobra"
)

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// followGeneration prints progress until the handle reports a terminal event.
func followGeneration(w io.Writer, h *imagegen.Handle) error {
	for ev := range h.Events() {
		switch ev.Kind {
		case imagegen.EventProgress:
			fmt.Fprintf(w, "\r%s %3.0f%%", progressBar(ev.Progress, 30), ev.Progress)
		case imagegen.EventImageReady:
			fmt.Fprintf(w, "\r%s 100%%\n", progressBar(100, 30))
			fmt.Fprintf(w, "Image ready: %s\n", ev.ImageURL)
			if ev.Seed != nil {
				fmt.Fprintf(w, "Seed: %d\n", *ev.Seed)
			}
		case imagegen.EventCached:
			fmt.Fprintln(w, "\nUsing the existing image. Pass --force to regenerate.")
		case imagegen.EventFailed:
			fmt.Fprintln(w)
			return fmt.Errorf("generation failed: %s", ev.Message)
		case imagegen.EventError:
			fmt.Fprintln(w)
			return fmt.Errorf("check generation status: %w", ev.Err)
		}
	}
	return nil
}

func printGenerationLog(w io.Writer, log *domain.GenerationLog) error {
	fmt.Fprintf(w, "Status: %s\n", log.Status)
	if log.Progress != nil {
		fmt.Fprintf(w, "Progress: %.0f%%\n", float64(*log.Progress))
	}
	if log.Provider != "" {
		fmt.Fprintf(w, "Provider: %s\n", log.Provider)
	}
	if log.Prompt != "" {
		fmt.Fprintf(w, "Prompt: %s\n", log.Prompt)
	}
	if log.ImageURL != "" {
		fmt.Fprintf(w, "Image: %s\n", log.ImageURL)
	}
	if log.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", log.Error)
	}
	if log.TotalTime != "" {
		fmt.Fprintf(w, "Total time: %s\n", log.TotalTime)
	}
	if len(log.Steps) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTEP\tSTATUS\tMESSAGE")
	for _, s := range log.Steps {
		msg := s.Message
		if s.Error != "" {
			msg = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Step, s.Status, msg)
	}
	return tw.Flush()
}

func newImageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Generate and manage an agent's profile image",
	}

	var force, noWait bool
	generate := &cobra.Command{
		Use:   "generate AGENT_ID",
		Short: "Generate a profile image and follow its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			if noWait {
				if err := a.client.GenerateImage(cmd.Context(), id, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Generation started. Run 'agentchat image log %d' to check on it.\n", id)
				return nil
			}
			mon := imagegen.NewMonitor(a.client, a.cfg.PollInterval, a.logger)
			h, err := mon.Generate(cmd.Context(), id, force)
			if err != nil {
				return err
			}
			defer h.Stop()
			return followGeneration(cmd.OutOrStdout(), h)
		},
	}
	generate.Flags().BoolVar(&force, "force", false, "Regenerate even when the agent already has an image")
	generate.Flags().BoolVar(&noWait, "no-wait", false, "Start the job and return immediately")
	cmd.AddCommand(generate)

	cmd.AddCommand(&cobra.Command{
		Use:   "log AGENT_ID",
		Short: "Show the latest generation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			log, err := a.client.GenerationLog(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printGenerationLog(cmd.OutOrStdout(), log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete AGENT_ID",
		Short: "Remove the profile image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			if err := a.client.DeleteImage(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile image removed.")
			return nil
		},
	})

	return cmd
}
