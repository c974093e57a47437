package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, _, err := buildClient(ctx)
	if err != nil {
		return err
	}

	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, s := range sessions {
		turns := s.Metadata.Turns()
		created := time.UnixMilli(s.Time.Created).Format(time.RFC3339)
		fmt.Printf("%s  %-18s  %-22s  turn %d/%d  %d messages  %s\n",
			s.ID, s.Surface, s.State, turns.CurrentTurn, turns.MaxTurns, len(s.Messages), created)
	}
	return nil
}
