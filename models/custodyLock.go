package models

import (
	"fmt"

	"gorm.io/gorm"
)

// acquireBatchCustodyLock serializes custody posting per batch across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the posting transaction.
func acquireBatchCustodyLock(tx *gorm.DB, batchId int) error {
	lockName := fmt.Sprintf("custody:batch:%d", batchId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire custody lock for batch_id=%d", batchId)
	}
	return nil
}

func releaseBatchCustodyLock(tx *gorm.DB, batchId int) {
	lockName := fmt.Sprintf("custody:batch:%d", batchId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// acquireHolderCustodyLock serializes multi-batch operations (transfers,
// shipments) per holding party.
func acquireHolderCustodyLock(tx *gorm.DB, holderRole HolderRole, holderId int) error {
	lockName := fmt.Sprintf("custody:holder:%s:%d", holderRole, holderId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire custody lock for holder %s:%d", holderRole, holderId)
	}
	return nil
}

func releaseHolderCustodyLock(tx *gorm.DB, holderRole HolderRole, holderId int) {
	lockName := fmt.Sprintf("custody:holder:%s:%d", holderRole, holderId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
