package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/internal/bytesize"
	"github.com/karczex-2nd/pmemstream/pkg/pmemstream"
)

var (
	createPath string
	createSize string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Initialize a new stream",
	Long: `Create formats a brand new stream file of the configured size and
writes its header, an empty span spanning the whole usable area, and a
freshly stamped stream identifier.

Examples:
  pmemstream-cli create --path /var/lib/pmemstream/events.dat --size 64Mi`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createPath, "path", "", "backing file path (overrides config)")
	createCmd.Flags().StringVar(&createSize, "size", "", "total stream size, e.g. 64Mi (overrides config)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if createPath != "" {
		cfg.Path = createPath
	}
	if createSize != "" {
		size, err := bytesize.ParseByteSize(createSize)
		if err != nil {
			return fmt.Errorf("invalid --size: %w", err)
		}
		cfg.Size = size
	}

	s, err := pmemstream.Create(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("created stream %s at %s (%s)\n", s.StreamID(), cfg.Path, cfg.Size)
	return nil
}
