package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository/sqlite"
)

// NewSkillsCmd creates the skills command
func NewSkillsCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skill catalog",
	}
	cmd.AddCommand(newSkillsListCmd(dbPath))
	return cmd
}

func newSkillsListCmd(dbPath *string) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills",
		Long:  "List every skill, or only the skills of one user with --owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(*dbPath, func(db *sqlite.DB) error {
				var (
					skills []model.Skill
					err    error
				)
				if owner != "" {
					skills, err = db.ListSkillsByOwner(cmd.Context(), owner)
				} else {
					skills, err = db.ListSkills(cmd.Context())
				}
				if err != nil {
					return fmt.Errorf("failed to list skills: %w", err)
				}
				printSkills(cmd.OutOrStdout(), skills)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only skills of this user id")
	return cmd
}

func printSkills(w io.Writer, skills []model.Skill) {
	if len(skills) == 0 {
		fmt.Fprintln(w, "No skills")
		return
	}
	for _, s := range skills {
		fmt.Fprintf(w, "  - %s (%s)\n", s.Name, s.ID)
		fmt.Fprintf(w, "    Price: %s\n", s.Price)
		fmt.Fprintf(w, "    Category: %s\n", s.Category.Name)
		fmt.Fprintf(w, "    Owner: %s (%s)\n", s.User.Name, s.User.ID)
		if online, known := s.Online(); known {
			mode := "in person"
			if online {
				mode = "online"
			}
			fmt.Fprintf(w, "    Mode: %s\n", mode)
		}
	}
}
