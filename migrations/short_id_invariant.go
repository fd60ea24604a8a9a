package migrations

import (
	"github.com/VdotR/polling-system/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// EnsureShortIDInvariant clears short ids on unavailable polls and assigns
// them to available polls that lack one. Rows written by older builds, or
// edited by hand, are the usual offenders.
func EnsureShortIDInvariant(db *gorm.DB) error {
	cleared := db.Model(&models.Poll{}).
		Where("available = ? AND short_id IS NOT NULL", false).
		UpdateColumn("short_id", nil)
	if cleared.Error != nil {
		return cleared.Error
	}
	if cleared.RowsAffected > 0 {
		log.Info().Int64("polls", cleared.RowsAffected).Msg("migration: cleared short ids of unavailable polls")
	}

	var missing []models.Poll
	if err := db.Where("available = ? AND short_id IS NULL", true).Find(&missing).Error; err != nil {
		return err
	}
	for i := range missing {
		// Save runs the poll hook, which draws a fresh unused code.
		if err := db.Omit("Responses").Save(&missing[i]).Error; err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		log.Info().Int("polls", len(missing)).Msg("migration: assigned short ids to available polls")
	} else {
		log.Debug().Msg("migration skipped: short ids consistent")
	}
	return nil
}
