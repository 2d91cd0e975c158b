package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notevault/notevault/internal/ui"
)

var verifyCmd = &cobra.Command{
	Use:     "verify [project...]",
	GroupID: "history",
	Short:   "Check stored versions against their recorded digests",
	Long: `Re-hash every stored version file and compare it against the digest
recorded at commit time. Corruption, truncation, and missing files are
reported per version.

Also prints the store fingerprint per project, a single hash over the
whole on-disk history that two replicas can compare cheaply.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustConfig()
		store := mustStore(cfg)

		projects := args
		if len(projects) == 0 {
			var err error
			projects, err = store.Projects()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		if len(projects) == 0 {
			fmt.Printf("%s Store is empty\n", ui.RenderWarn("⚠"))
			return
		}

		broken := 0
		for _, project := range projects {
			problems, err := store.Verify(project)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error verifying %s: %v\n", project, err)
				os.Exit(1)
			}

			if len(problems) == 0 {
				fp, err := store.Fingerprint(project)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error fingerprinting %s: %v\n", project, err)
					os.Exit(1)
				}
				fmt.Printf("%s %s  %s\n", ui.RenderPass("✓"), project, ui.RenderDim(fp))
				continue
			}

			broken++
			fmt.Printf("%s %s\n", ui.RenderFail("✗"), project)
			for _, p := range problems {
				fmt.Printf("    %s\n", p)
			}
		}

		if broken > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
