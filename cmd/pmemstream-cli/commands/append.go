package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/internal/bytesize"
	"github.com/karczex-2nd/pmemstream/pkg/pmemstream"
)

var (
	appendRegion   uint64
	appendAllocate string
)

var appendCmd = &cobra.Command{
	Use:   "append <data...>",
	Short: "Append an entry to a region",
	Long: `Append acquires a producer id, reserves a timestamp, writes the
joined arguments as the entry payload, and publishes the result.

Examples:
  pmemstream-cli append --region 4096 "hello"
  pmemstream-cli append --allocate 64Ki "first entry in a new region"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().Uint64Var(&appendRegion, "region", 0, "offset of the region to append to")
	appendCmd.Flags().StringVar(&appendAllocate, "allocate", "", "allocate a new region of this size instead of using --region")
}

func runAppend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := pmemstream.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	region := appendRegion
	if appendAllocate != "" {
		size, err := bytesize.ParseByteSize(appendAllocate)
		if err != nil {
			return fmt.Errorf("invalid --allocate: %w", err)
		}
		region, err = s.AllocateRegion(size.Uint64())
		if err != nil {
			return fmt.Errorf("allocate region: %w", err)
		}
		fmt.Printf("allocated region at offset %d\n", region)
	}

	producer, err := s.AcquireProducer()
	if err != nil {
		return fmt.Errorf("acquire producer: %w", err)
	}
	defer s.ReleaseProducer(producer)

	payload := []byte(strings.Join(args, " "))
	result, err := s.Append(producer, region, payload)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}

	if err := s.Persist(result.Timestamp); err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	fmt.Printf("appended %d bytes at offset %d, timestamp %d\n", len(payload), result.Offset, result.Timestamp)
	return nil
}
