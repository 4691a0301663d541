package tracker

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportProgressCSV writes the user's stored progress rows as CSV.
func (s *Service) ExportProgressCSV(ctx context.Context, w io.Writer, userID string) error {
	recs, err := s.store.ListProgress(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing progress: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "module", "chapter", "subtopic", "completed", "created_at", "updated_at"}); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write([]string{
			r.UserID, r.Module, r.Chapter, r.Subtopic,
			strconv.FormatBool(r.Completed),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportBadgesCSV writes the user's earned badges as CSV.
func (s *Service) ExportBadgesCSV(ctx context.Context, w io.Writer, userID string) error {
	recs, err := s.store.ListBadges(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing badges: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "badge_name", "earned_at"}); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write([]string{r.UserID, r.Name, r.EarnedAt.UTC().Format(time.RFC3339)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
