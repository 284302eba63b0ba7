package telemetra

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// ReadingCursor is a restartable, finite iterator over one series' raw
// readings in ascending timestamp order. Pages are bounded by the
// configured page size; Token captures the position so a caller can
// resume after the cursor (or the process) is gone.
type ReadingCursor struct {
	store  *ChunkStore
	device string
	metric string
	start  int64
	end    int64

	pageSize int
	afterTS  int64 // last timestamp already returned
	done     bool
}

// Next returns the next page of readings. A nil slice means the cursor is
// exhausted. On a context error the readings gathered before the
// interruption are returned with it, and the cursor's token resumes after
// them.
func (c *ReadingCursor) Next(ctx context.Context) ([]Reading, error) {
	if c.done {
		return nil, nil
	}
	page, err := c.store.collectRange(ctx, c.device, c.metric, c.start, c.end, c.afterTS, c.pageSize)
	if err != nil {
		if len(page) > 0 {
			c.afterTS = page[len(page)-1].Timestamp
		}
		return page, err
	}
	if len(page) == 0 {
		c.done = true
		return nil, nil
	}
	c.afterTS = page[len(page)-1].Timestamp
	if len(page) < c.pageSize {
		c.done = true
	}
	return page, nil
}

// Done reports whether the cursor is exhausted.
func (c *ReadingCursor) Done() bool {
	return c.done
}

// Token returns a continuation token for ResumeRange.
func (c *ReadingCursor) Token() string {
	raw := fmt.Sprintf("%s|%s|%d|%d|%d", c.device, c.metric, c.start, c.end, c.afterTS)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// ResumeRange reconstructs a cursor from a continuation token.
func (s *ChunkStore) ResumeRange(token string) (*ReadingCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrBadToken
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 {
		return nil, ErrBadToken
	}
	start, err1 := strconv.ParseInt(parts[2], 10, 64)
	end, err2 := strconv.ParseInt(parts[3], 10, 64)
	after, err3 := strconv.ParseInt(parts[4], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, ErrBadToken
	}
	return &ReadingCursor{
		store:    s,
		device:   parts[0],
		metric:   parts[1],
		start:    start,
		end:      end,
		pageSize: s.cfg.Query.PageSize,
		afterTS:  after,
	}, nil
}
