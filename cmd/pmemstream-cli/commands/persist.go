package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karczex-2nd/pmemstream/pkg/pmemstream"
)

var persistUpTo uint64

var persistCmd = &cobra.Command{
	Use:   "persist",
	Short: "Drive the persister until the watermark reaches the given timestamp",
	Long: `Persist drives persisted_timestamp forward, flushing the unflushed
tail of every region this process has loaded and then draining. With no
--upto, it drives persisted_timestamp up to the current committed
timestamp.

Examples:
  pmemstream-cli persist
  pmemstream-cli persist --upto 2000`,
	RunE: runPersist,
}

func init() {
	persistCmd.Flags().Uint64Var(&persistUpTo, "upto", 0, "target timestamp (default: current committed timestamp)")
}

func runPersist(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := pmemstream.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	upTo := persistUpTo
	if upTo == 0 {
		upTo = s.CommittedTimestamp()
	}

	if err := s.Persist(upTo); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	fmt.Printf("persisted timestamp now %d\n", s.PersistedTimestamp())
	return nil
}
