package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ridesharepro/notification-service/internal/queue"
)

// DecodeCursor parses an opaque listing cursor. An empty string is a valid
// "start from the newest" cursor.
func DecodeCursor(cursorStr string) (*queue.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var enqueuedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &enqueuedAt); err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return &queue.Cursor{
		EnqueuedAt: time.Unix(0, enqueuedAt),
		JobID:      parts[1],
	}, nil
}

// EncodeCursor renders a listing position as an opaque string.
func EncodeCursor(cursor *queue.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.EnqueuedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
