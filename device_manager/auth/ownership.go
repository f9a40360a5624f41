package auth

import (
	"errors"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"gorm.io/gorm"
)

var ErrNotTeamMember = apperr.New(apperr.Forbidden, "Not a member of this team")

// IsMember is false for teams that do not exist.
func IsMember(teamId, userId uint, db *gorm.DB) (bool, error) {
	_, err := schema.GetUserTeam(teamId, userId, db)
	if err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func IsTeamAdmin(teamId, userId uint, db *gorm.DB) (bool, error) {
	userTeam, err := schema.GetUserTeam(teamId, userId, db)
	if err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return false, nil
		}
		return false, err
	}
	return userTeam.IsTeamAdmin, nil
}

// ResolveOwner decides who owns a resource the actor is creating or
// transferring. It does not write.
func ResolveOwner(db *gorm.DB, actor schema.User, teamId *uint) (schema.Ownership, error) {
	if teamId == nil {
		return schema.UserOwner(actor.Id), nil
	}

	if _, err := schema.GetTeam(*teamId, db); err != nil {
		return schema.Ownership{}, err
	}

	if actor.IsSuperuser {
		return schema.TeamOwner(*teamId), nil
	}

	member, err := IsMember(*teamId, actor.Id, db)
	if err != nil {
		return schema.Ownership{}, err
	}
	if !member {
		return schema.Ownership{}, ErrNotTeamMember
	}
	return schema.TeamOwner(*teamId), nil
}

// CheckPermission allows superusers, the owning user and members of the owning
// team. action is only used in the error message.
func CheckPermission(db *gorm.DB, actor schema.User, resource schema.Ownable, action string) error {
	if resource == nil {
		return apperr.New(apperr.NotFound, "resource not found")
	}

	if actor.IsSuperuser {
		return nil
	}

	owner := resource.Owner()
	switch owner.OwnerType {
	case schema.OwnerUser:
		if owner.OwnerId == actor.Id {
			return nil
		}
	case schema.OwnerTeam:
		member, err := IsMember(owner.OwnerId, actor.Id, db)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}

	return apperr.Newf(apperr.Forbidden, "Not enough permissions to %s this resource", action)
}

// ListScope restricts a query on an ownable table to the rows the actor may
// see. With a team id the actor must belong to the team and only that team's
// rows are returned.
func ListScope(db *gorm.DB, actor schema.User, teamId *uint) (func(*gorm.DB) *gorm.DB, error) {
	if teamId != nil {
		if !actor.IsSuperuser {
			member, err := IsMember(*teamId, actor.Id, db)
			if err != nil {
				return nil, err
			}
			if !member {
				return nil, ErrNotTeamMember
			}
		}
		return func(q *gorm.DB) *gorm.DB {
			return q.Where("owner_type = ? AND owner_id = ?", schema.OwnerTeam, *teamId)
		}, nil
	}

	if actor.IsSuperuser {
		return func(q *gorm.DB) *gorm.DB { return q }, nil
	}

	teamIds, err := schema.GetUserTeamIds(actor.Id, db)
	if err != nil {
		return nil, err
	}

	return func(q *gorm.DB) *gorm.DB {
		if len(teamIds) == 0 {
			return q.Where("owner_type = ? AND owner_id = ?", schema.OwnerUser, actor.Id)
		}
		return q.Where(
			"((owner_type = ? AND owner_id = ?) OR (owner_type = ? AND owner_id IN ?))",
			schema.OwnerUser, actor.Id, schema.OwnerTeam, teamIds,
		)
	}, nil
}
