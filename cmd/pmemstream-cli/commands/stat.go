package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/pkg/pmemstream"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print stream identity and watermarks",
	Long:  `Stat opens the stream and prints its identifier, committed and persisted timestamps, region count, and free bytes.`,
	RunE:  runStat,
}

func runStat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := pmemstream.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	regions := 0
	if err := s.ForeachRegion(func(offset, totalSize uint64) bool { regions++; return true }); err != nil {
		return fmt.Errorf("count regions: %w", err)
	}

	fmt.Printf("path:                 %s\n", cfg.Path)
	fmt.Printf("stream id:            %s\n", s.StreamID())
	fmt.Printf("committed timestamp:  %d\n", s.CommittedTimestamp())
	fmt.Printf("persisted timestamp:  %d\n", s.PersistedTimestamp())
	fmt.Printf("regions:              %d\n", regions)
	fmt.Printf("allocator free bytes: %d\n", s.AllocatorFreeBytes())
	return nil
}
