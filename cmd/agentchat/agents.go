package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

// agentFlags binds the editable agent fields to command flags.
type agentFlags struct {
	in             domain.AgentInput
	age, height    int
	seed           int64
	personalityIDs []int64
	roleIDs        []int64
	toneIDs        []int64
}

func (f *agentFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.in.Name, "name", "", "Agent name")
	fs.StringVar(&f.in.Description, "description", "", "Short description")
	fs.StringVar(&f.in.Gender, "gender", "", "Gender")
	fs.StringVar(&f.in.RelationshipStatus, "relationship", "", "Relationship status")
	fs.StringVar(&f.in.Background, "background", "", "Background story")
	fs.StringVar(&f.in.HairStyle, "hair-style", "", "Hair style")
	fs.StringVar(&f.in.HairColor, "hair-color", "", "Hair color")
	fs.StringVar(&f.in.EyeColor, "eye-color", "", "Eye color")
	fs.StringVar(&f.in.Ethnicity, "ethnicity", "", "Ethnicity")
	fs.IntVar(&f.age, "age", 0, "Age")
	fs.IntVar(&f.height, "height", 0, "Height in cm")
	fs.StringVar(&f.in.BodyType, "body-type", "", "Body type")
	fs.StringVar(&f.in.Clothing, "clothing", "", "Clothing")
	fs.StringVar(&f.in.ImageURL, "image-url", "", "Profile image URL")
	fs.Int64Var(&f.seed, "image-seed", 0, "Image seed (0 clears it)")
	fs.StringVar(&f.in.FirstPerson, "first-person", "", "How the agent refers to itself")
	fs.StringVar(&f.in.FirstPersonOther, "first-person-other", "", "Custom first-person form")
	fs.StringVar(&f.in.SecondPerson, "second-person", "", "How the agent addresses the user")
	fs.Int64SliceVar(&f.personalityIDs, "personality", nil, "Personality tag ids")
	fs.Int64SliceVar(&f.roleIDs, "role", nil, "Role tag ids")
	fs.Int64SliceVar(&f.toneIDs, "tone", nil, "Tone tag ids")
}

// apply copies the flags the user set onto in.
func (f *agentFlags) apply(fs *pflag.FlagSet, in *domain.AgentInput) {
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("name", &in.Name, f.in.Name)
	set("description", &in.Description, f.in.Description)
	set("gender", &in.Gender, f.in.Gender)
	set("relationship", &in.RelationshipStatus, f.in.RelationshipStatus)
	set("background", &in.Background, f.in.Background)
	set("hair-style", &in.HairStyle, f.in.HairStyle)
	set("hair-color", &in.HairColor, f.in.HairColor)
	set("eye-color", &in.EyeColor, f.in.EyeColor)
	set("ethnicity", &in.Ethnicity, f.in.Ethnicity)
	set("body-type", &in.BodyType, f.in.BodyType)
	set("clothing", &in.Clothing, f.in.Clothing)
	set("image-url", &in.ImageURL, f.in.ImageURL)
	set("first-person", &in.FirstPerson, f.in.FirstPerson)
	set("first-person-other", &in.FirstPersonOther, f.in.FirstPersonOther)
	set("second-person", &in.SecondPerson, f.in.SecondPerson)
	if fs.Changed("age") {
		age := f.age
		in.Age = &age
	}
	if fs.Changed("height") {
		height := f.height
		in.Height = &height
	}
	if fs.Changed("image-seed") {
		in.ImageSeed = nil
		if f.seed != 0 {
			seed := f.seed
			in.ImageSeed = &seed
		}
	}
	if fs.Changed("personality") {
		in.PersonalityIDs = f.personalityIDs
	}
	if fs.Changed("role") {
		in.RoleIDs = f.roleIDs
	}
	if fs.Changed("tone") {
		in.ToneIDs = f.toneIDs
	}
}

func tagNames(tags []domain.Tag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

func printAgent(w io.Writer, a *domain.Agent) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("ID", strconv.FormatInt(a.ID, 10))
	row("Name", a.Name)
	row("Description", a.Description)
	row("Gender", a.Gender)
	if a.Age != nil {
		row("Age", strconv.Itoa(*a.Age))
	}
	row("Relationship", a.RelationshipStatus)
	row("Hair", strings.TrimSpace(a.HairColor+" "+a.HairStyle))
	row("Eyes", a.EyeColor)
	row("Personalities", tagNames(a.Personalities))
	row("Roles", tagNames(a.Roles))
	row("Tones", tagNames(a.Tones))
	row("Image", a.ImageURL)
	if a.ImageSeed != nil {
		row("Seed", strconv.FormatInt(*a.ImageSeed, 10))
	}
	row("Gallery", fmt.Sprintf("%d image(s)", len(a.Images)))
	_ = tw.Flush()
}

func newAgentsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := a.client.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPERSONALITIES\tIMAGE")
			for _, ag := range agents {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ag.ID, ag.Name, tagNames(ag.Personalities), ag.ImageURL)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show AGENT_ID",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			ag, err := a.client.GetAgent(cmd.Context(), id)
			if err != nil {
				return err
			}
			printAgent(cmd.OutOrStdout(), ag)
			return nil
		},
	})

	var createFlags agentFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in domain.AgentInput
			createFlags.apply(cmd.Flags(), &in)
			if strings.TrimSpace(in.Name) == "" {
				return errors.New("--name is required")
			}
			ag, err := a.client.CreateAgent(cmd.Context(), in)
			if err != nil {
				return err
			}
			printAgent(cmd.OutOrStdout(), ag)
			return nil
		},
	}
	createFlags.register(create.Flags())
	cmd.AddCommand(create)

	var updateFlags agentFlags
	update := &cobra.Command{
		Use:   "update AGENT_ID",
		Short: "Change fields of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			ag, err := a.client.GetAgent(cmd.Context(), id)
			if err != nil {
				return err
			}
			in := ag.Input()
			updateFlags.apply(cmd.Flags(), &in)
			ag, err = a.client.UpdateAgent(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			printAgent(cmd.OutOrStdout(), ag)
			return nil
		},
	}
	updateFlags.register(update.Flags())
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete AGENT_ID",
		Short: "Delete an agent and its chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}
			if err := a.client.DeleteAgent(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %d.\n", id)
			return nil
		},
	})

	return cmd
}

func newTagsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "tags [personalities|roles|tones]",
		Short:     "List the tags agents can carry",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"personalities", "roles", "tones"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []string{"personalities", "roles", "tones"}
			if len(args) == 1 {
				kinds = args
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tNAME")
			for _, kind := range kinds {
				var (
					tags []domain.Tag
					err  error
				)
				switch kind {
				case "personalities":
					tags, err = a.client.Personalities(cmd.Context())
				case "roles":
					tags, err = a.client.Roles(cmd.Context())
				case "tones":
					tags, err = a.client.Tones(cmd.Context())
				default:
					return fmt.Errorf("unknown tag kind %q", kind)
				}
				if err != nil {
					return err
				}
				for _, t := range tags {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", kind, t.ID, t.Name)
				}
			}
			return tw.Flush()
		},
	}
}
