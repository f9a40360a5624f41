package services

import (
	"fmt"
	"net/http"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type listParams struct {
	skip    int
	limit   int
	teamId  *uint
	filters []func(*gorm.DB) *gorm.DB
}

func parseListParams(r *http.Request) (listParams, error) {
	skip, err := utils.QueryParamInt(r, "skip", 0)
	if err != nil {
		return listParams{}, err
	}
	limit, err := utils.QueryParamInt(r, "limit", defaultListLimit)
	if err != nil {
		return listParams{}, err
	}
	if skip < 0 {
		return listParams{}, fmt.Errorf("skip must be non-negative")
	}
	if limit < 1 || limit > maxListLimit {
		return listParams{}, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
	}

	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		return listParams{}, err
	}

	return listParams{skip: skip, limit: limit, teamId: teamId}, nil
}

func listOwned[T any](txn *gorm.DB, actor schema.User, params listParams, preload ...string) ([]T, error) {
	scope, err := auth.ListScope(txn, actor, params.teamId)
	if err != nil {
		return nil, err
	}

	query := txn.Scopes(scope).Scopes(params.filters...)
	for _, p := range preload {
		query = query.Preload(p)
	}

	rows := []T{}
	if err := query.Order("id").Offset(params.skip).Limit(params.limit).Find(&rows).Error; err != nil {
		return nil, dbError("sql error listing resources", err)
	}
	return rows, nil
}

// accessibleIds returns the ids of every row of T the actor can see.
func accessibleIds[T any](txn *gorm.DB, actor schema.User, teamId *uint) ([]uint, error) {
	scope, err := auth.ListScope(txn, actor, teamId)
	if err != nil {
		return nil, err
	}

	ids := []uint{}
	if err := txn.Model(new(T)).Scopes(scope).Pluck("id", &ids).Error; err != nil {
		return nil, dbError("sql error listing accessible ids", err)
	}
	return ids, nil
}

// getOwned loads a resource and checks that the actor may perform action on it.
func getOwned[T schema.Ownable](txn *gorm.DB, actor schema.User, action string, load func() (T, error)) (T, error) {
	resource, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	if err := auth.CheckPermission(txn, actor, resource, action); err != nil {
		var zero T
		return zero, err
	}
	return resource, nil
}

// transferOwner returns the new owner when the request names a team, or nil.
// Ownership only ever moves to a team.
func transferOwner(txn *gorm.DB, actor schema.User, teamId *uint) (*schema.Ownership, error) {
	if teamId == nil {
		return nil, nil
	}
	owner, err := auth.ResolveOwner(txn, actor, teamId)
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

type ownerInfo struct {
	OwnerId   uint             `json:"owner_id"`
	OwnerType schema.OwnerType `json:"owner_type"`
}

func newOwnerInfo(o schema.Ownership) ownerInfo {
	return ownerInfo{OwnerId: o.OwnerId, OwnerType: o.OwnerType}
}

func oneOf(value string, allowed []string, field string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return apperr.Newf(apperr.Validation, "invalid %v '%v', must be one of %v", field, value, allowed)
}
