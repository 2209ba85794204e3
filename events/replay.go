package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"newsindex/logger"
	"newsindex/partition"
)

// ReplayCommand asks for a partition's checkpoint to be reset. An empty
// Cursor means the provider's initial cursor.
type ReplayCommand struct {
	Partition string `json:"partition"`
	Cursor    string `json:"cursor"`
}

// Replayer is implemented by *partition.Manager.
type Replayer interface {
	Replay(ctx context.Context, id, cursor string) error
}

// NewReplayHandler applies replay commands. Commands naming an unknown
// partition are logged and skipped; store failures leave the message
// unmarked for redelivery.
func NewReplayHandler(replayer Replayer, log *slog.Logger) MessageHandler {
	log = logger.OrDefault(log)
	return &TypedMessageHandler[ReplayCommand]{
		Validate: func(cmd *ReplayCommand) bool {
			if strings.TrimSpace(cmd.Partition) == "" {
				log.Warn("replay command without partition, skipping")
				return false
			}
			return true
		},
		Process: func(ctx context.Context, cmd *ReplayCommand) error {
			err := replayer.Replay(ctx, cmd.Partition, cmd.Cursor)
			if errors.Is(err, partition.ErrUnknownPartition) {
				log.Warn("replay for unknown partition", "partition", cmd.Partition)
				return nil
			}
			if err != nil {
				return err
			}
			log.Info("replay command applied", "partition", cmd.Partition, "cursor", cmd.Cursor)
			return nil
		},
		AlwaysMark: true,
		Log:        log,
	}
}
