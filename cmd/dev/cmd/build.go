package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	mainPackage = "./cmd/thermohost"
	// karalabe/hid needs cgo, cross builds go through the docker toolchain
	buildImage = "gophertribe/gobuild:1.25-bookworm"
)

// binaryPath names cross-compiled binaries after their target so several
// boards can be built into one dist directory.
func binaryPath(targetOS, targetArch string) string {
	if targetOS == runtime.GOOS && targetArch == runtime.GOARCH {
		return "dist/thermohost"
	}
	return fmt.Sprintf("dist/thermohost-%s-%s", targetOS, targetArch)
}

func BuildCmd() *cobra.Command {
	var (
		targetOS, targetArch string
		crossOS, crossArch   string
		version              string
		noCache              bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the thermohost binary, natively or in docker for another board",
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetOS != runtime.GOOS || targetArch != runtime.GOARCH {
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", targetOS, targetArch),
					[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
					build.DockerBuildOpts{NoCache: noCache, Image: buildImage})
			}
			if crossOS != "" && crossArch != "" {
				targetOS, targetArch = crossOS, crossArch
			}
			return build.GoBuild(binaryPath(targetOS, targetArch), mainPackage, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: "main",
				EnableCgo:     true,
				Arch:          targetArch,
				OS:            targetOS,
			})
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not use cache when building in docker")
	cmd.Flags().StringVar(&version, "version", "latest", "version injected into the binary")
	cmd.Flags().StringVar(&targetOS, "os", runtime.GOOS, "os to build for")
	cmd.Flags().StringVar(&targetArch, "arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().StringVar(&crossOS, "cross-os", "", "os to cross-compile for inside the build image")
	cmd.Flags().StringVar(&crossArch, "cross-arch", "", "arch to cross-compile for inside the build image")
	return cmd
}
