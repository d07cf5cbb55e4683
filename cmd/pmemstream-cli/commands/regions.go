package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/pkg/pmemstream"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List every allocated region",
	Long:  `Regions lists every currently-allocated region span, in offset order.`,
	RunE:  runRegions,
}

func runRegions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := pmemstream.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("%-12s %-12s\n", "OFFSET", "SIZE")
	count := 0
	err = s.ForeachRegion(func(offset, totalSize uint64) bool {
		fmt.Printf("%-12d %-12d\n", offset, totalSize)
		count++
		return true
	})
	if err != nil {
		return fmt.Errorf("list regions: %w", err)
	}
	fmt.Printf("%d region(s)\n", count)
	return nil
}
