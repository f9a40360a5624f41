package services

import (
	"errors"
	"net/http"
	"time"

	"nodedash/device_manager/schema"
	"nodedash/utils"

	"gorm.io/gorm"
)

// historyHandlers serves the history endpoints shared by every resource with
// a history table. T is the parent resource and H its history row.
type historyHandlers[T schema.Ownable, H any] struct {
	db *gorm.DB

	resource string
	param    string
	column   string

	load     func(id uint, db *gorm.DB) (T, error)
	parentOf func(h H) uint
	prepare  func(h *H, parentId uint, now time.Time)
}

func (h *historyHandlers[T, H]) page(txn *gorm.DB, r *http.Request) (*gorm.DB, error) {
	params, err := parseListParams(r)
	if err != nil {
		return nil, CodedError(err, http.StatusBadRequest)
	}
	return txn.Order("timestamp desc").Order("id desc").Offset(params.skip).Limit(params.limit), nil
}

// ListAll returns the history of every parent visible to the user.
func (h *historyHandlers[T, H]) ListAll(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := []H{}
	err = h.db.Transaction(func(txn *gorm.DB) error {
		ids, err := accessibleIds[T](txn, user, teamId)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		query, err := h.page(txn, r)
		if err != nil {
			return err
		}
		if err := query.Where(h.column+" IN ?", ids).Find(&entries).Error; err != nil {
			return dbError("sql error listing "+h.resource+" history", err)
		}
		return nil
	})

	if err != nil {
		writeError(w, "listing "+h.resource+" history", err)
		return
	}

	utils.WriteJsonResponse(w, entries)
}

func (h *historyHandlers[T, H]) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	parentId, ok := urlId(w, r, h.param)
	if !ok {
		return
	}

	entries := []H{}
	err := h.db.Transaction(func(txn *gorm.DB) error {
		_, err := getOwned(txn, user, "read", func() (T, error) { return h.load(parentId, txn) })
		if err != nil {
			return err
		}

		query, err := h.page(txn, r)
		if err != nil {
			return err
		}
		if err := query.Where(h.column+" = ?", parentId).Find(&entries).Error; err != nil {
			return dbError("sql error listing "+h.resource+" history", err, h.column, parentId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "listing "+h.resource+" history", err)
		return
	}

	utils.WriteJsonResponse(w, entries)
}

func (h *historyHandlers[T, H]) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	historyId, ok := urlId(w, r, "history_id")
	if !ok {
		return
	}

	var entry H
	err := h.db.Transaction(func(txn *gorm.DB) error {
		var err error
		entry, err = getHistory[H](txn, historyId)
		if err != nil {
			return err
		}

		_, err = getOwned(txn, user, "read", func() (T, error) { return h.load(h.parentOf(entry), txn) })
		return err
	})

	if err != nil {
		writeError(w, "retrieving "+h.resource+" history", err)
		return
	}

	utils.WriteJsonResponse(w, entry)
}

// Record appends an entry to a parent's history.
func (h *historyHandlers[T, H]) Record(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	parentId, ok := urlId(w, r, h.param)
	if !ok {
		return
	}

	var entry H
	if !utils.ParseRequestBody(w, r, &entry) {
		return
	}
	h.prepare(&entry, parentId, time.Now().UTC())

	err := h.db.Transaction(func(txn *gorm.DB) error {
		_, err := getOwned(txn, user, "update", func() (T, error) { return h.load(parentId, txn) })
		if err != nil {
			return err
		}

		if err := txn.Create(&entry).Error; err != nil {
			return dbError("sql error recording "+h.resource+" history", err, h.column, parentId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "recording "+h.resource+" history", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, entry)
}

func getHistory[H any](txn *gorm.DB, id uint) (H, error) {
	var entry H
	if err := txn.First(&entry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entry, schema.ErrHistoryNotFound
		}
		return entry, dbError("sql error retrieving history entry", err, "history_id", id)
	}
	return entry, nil
}

func deleteHistory(txn *gorm.DB, table interface{}, column string, parentId uint) error {
	if err := txn.Where(column+" = ?", parentId).Delete(table).Error; err != nil {
		return dbError("sql error deleting history", err, column, parentId)
	}
	return nil
}
