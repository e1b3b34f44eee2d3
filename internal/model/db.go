package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Person{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Moment{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&MomentParticipant{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Connection{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&PairingCode{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&OutboxEvent{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&SyncCursor{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&PersonLink{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Conflict{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&MergeLog{}); err != nil {
		return err
	}

	return db.AutoMigrate(&SyncIntent{})
}
