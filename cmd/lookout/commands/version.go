package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show lookout version information",
	Long: `Display version, build time, commit hash, and platform information.

--check exits non-zero unless this build satisfies a semver constraint,
for deploy scripts:
  lookout version --check ">= 1.2, < 2"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		constraint, _ := cmd.Flags().GetString("check")

		info := version.Get()

		if constraint != "" {
			ok, err := info.Satisfies(constraint)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf("lookout %s does not satisfy %q", info.Version, constraint)
			}
		}

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to format JSON")
			}
			fmt.Println(string(output))
			return nil
		}
		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("check", "", "Fail unless this build satisfies the semver constraint")
}
