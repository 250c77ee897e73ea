package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newGalleryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Manage an agent's photo gallery",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list AGENT_ID",
		Short: "List gallery images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			images, err := a.client.ListImages(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRIMARY\tURL\tCREATED")
			for _, img := range images {
				primary := ""
				if img.IsPrimary {
					primary = "*"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", img.ID, primary, img.ImageURL,
					img.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})

	var primary bool
	upload := &cobra.Command{
		Use:   "upload AGENT_ID FILE",
		Short: "Upload an image to the gallery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			img, err := a.client.UploadImage(cmd.Context(), id, filepath.Base(args[1]), f, primary)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded image %d: %s\n", img.ID, img.ImageURL)
			return nil
		},
	}
	upload.Flags().BoolVar(&primary, "primary", false, "Make the image the agent's primary image")
	cmd.AddCommand(upload)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete AGENT_ID IMAGE_ID",
		Short: "Delete a gallery image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			imageID, err := parseID(args[1], "image")
			if err != nil {
				return err
			}
			if err := a.client.DeleteAgentImage(cmd.Context(), agentID, imageID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted image %d.\n", imageID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "primary AGENT_ID IMAGE_ID",
		Short: "Make a gallery image the primary image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			imageID, err := parseID(args[1], "image")
			if err != nil {
				return err
			}
			if err := a.client.SetPrimaryImage(cmd.Context(), agentID, imageID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Image %d is now primary.\n", imageID)
			return nil
		},
	})

	return cmd
}
