package store

import (
	"context"
	"fmt"
	"time"
)

// InboundReclaimAfter is how long a recorded but unprocessed message stays
// claimed. A redelivery after that is handled again, since the first attempt
// most likely died mid-processing.
const InboundReclaimAfter = 2 * time.Minute

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// RecordInbound claims a message id for processing. It returns false when the id
	// was already processed or is still claimed by a recent delivery.
	RecordInbound(ctx context.Context, messageID, participantID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

var _ DedupRepo = (*SQLStore)(nil)

func (s *SQLStore) RecordInbound(ctx context.Context, messageID, participantID string) (bool, error) {
	res, err := s.exec(ctx, s.db,
		`INSERT INTO inbound_dedup (message_id, participant_id, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`,
		messageID, participantID, s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	now := s.timestamp()
	res, err = s.exec(ctx, s.db,
		`UPDATE inbound_dedup SET received_at = ? WHERE message_id = ? AND processed_at IS NULL AND received_at < ?`,
		now, messageID, now.Add(-InboundReclaimAfter),
	)
	if err != nil {
		return false, fmt.Errorf("reclaim inbound failed: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim inbound rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.exec(ctx, s.db, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, s.timestamp(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
