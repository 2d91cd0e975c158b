package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/notevault/notevault/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "backup",
	Short:   "Create a config file interactively",
	Long: `Walk through the configuration and write nv.yaml.

The session cookie for private projects is read without echo and can
also be supplied later via the NV_REMOTE_SESSION_COOKIE environment
variable instead of being stored in the file.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("output")
		if _, err := os.Stat(out); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", out)
				os.Exit(1)
			}
		}

		var (
			baseURL   string
			projects  string
			storeRoot = ".notevault/store"
			private   bool
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Note service URL").
					Placeholder("https://notes.example.com").
					Validate(func(s string) error {
						u, err := url.Parse(s)
						if err != nil || u.Scheme == "" || u.Host == "" {
							return errors.New("must be a full URL like https://notes.example.com")
						}
						return nil
					}).
					Value(&baseURL),
				huh.NewInput().
					Title("Projects to back up (comma separated)").
					Placeholder("my-notes, team-wiki").
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return errors.New("at least one project is required")
						}
						return nil
					}).
					Value(&projects),
				huh.NewInput().
					Title("History store directory").
					Value(&storeRoot),
				huh.NewConfirm().
					Title("Are any projects private (session cookie needed)?").
					Value(&private),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cookie := ""
		if private {
			fmt.Print("connect.sid session cookie (input hidden, empty to configure via env): ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading cookie: %v\n", err)
				os.Exit(1)
			}
			cookie = strings.TrimSpace(string(raw))
		}

		var projectList []string
		for _, p := range strings.Split(projects, ",") {
			if p = strings.TrimSpace(p); p != "" {
				projectList = append(projectList, p)
			}
		}

		remoteSection := map[string]any{"base_url": baseURL}
		if cookie != "" {
			remoteSection["session_cookie"] = cookie
		}
		doc := map[string]any{
			"projects":   projectList,
			"store_root": storeRoot,
			"remote":     remoteSection,
		}

		data, err := yaml.Marshal(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Wrote %s (%d projects)\n", ui.RenderPass("✓"), out, len(projectList))
		fmt.Printf("   Run '%s' to take the first backup\n", ui.RenderAccent("nv sync"))
	},
}

func init() {
	initCmd.Flags().StringP("output", "o", "nv.yaml", "Config file to write")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
