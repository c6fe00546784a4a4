package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"umamicore/api/models"
)

type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser inserts a new user with an already hashed password.
func (s *UserStore) CreateUser(ctx context.Context, username string, hashedPassword []byte, role string) (*models.User, error) {
	user := &models.User{
		Username: models.Truncate(username, models.MaxUsernameLength),
		Password: string(hashedPassword),
		Role:     role,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user '%s' already exists", models.ErrInvalidInput, username)
		}
		return nil, wrap("create user", err)
	}
	return user, nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? AND deleted_at IS NULL", username).
		Take(&user).Error
	if err != nil {
		return nil, wrap(fmt.Sprintf("get user '%s'", username), err)
	}
	return &user, nil
}

func (s *UserStore) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Take(&user).Error
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

// TeamIDs lists the live teams userID belongs to.
func (s *UserStore) TeamIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.TeamUser{}).
		Joins("JOIN team ON team.team_id = team_user.team_id AND team.deleted_at IS NULL").
		Where("team_user.user_id = ?", userID).
		Order("team_user.team_id").
		Pluck("team_user.team_id", &ids).Error
	if err != nil {
		return nil, wrap("list teams", err)
	}
	return ids, nil
}

// CreateTeam inserts a team and makes owner its first member.
func (s *UserStore) CreateTeam(ctx context.Context, name string, owner uuid.UUID) (*models.Team, error) {
	team := &models.Team{Name: models.Truncate(name, 50)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return err
		}
		return tx.Create(&models.TeamUser{TeamID: team.ID, UserID: owner, Role: models.TeamRoleOwner}).Error
	})
	if err != nil {
		return nil, wrap("create team", err)
	}
	return team, nil
}

func (s *UserStore) AddTeamMember(ctx context.Context, teamID, userID uuid.UUID, role string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Team{}).
		Where("team_id = ? AND deleted_at IS NULL", teamID).Count(&n).Error; err != nil {
		return wrap("find team", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: team %s", models.ErrNotFound, teamID)
	}
	if err := s.db.WithContext(ctx).Create(&models.TeamUser{TeamID: teamID, UserID: userID, Role: role}).Error; err != nil {
		return wrap("add team member", err)
	}
	return nil
}

// TeamRole returns the role userID holds in teamID, or "" when not a member.
func (s *UserStore) TeamRole(ctx context.Context, teamID, userID uuid.UUID) (string, error) {
	var roles []string
	err := s.db.WithContext(ctx).Model(&models.TeamUser{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Limit(1).
		Pluck("role", &roles).Error
	if err != nil {
		return "", wrap("team role", err)
	}
	if len(roles) == 0 {
		return "", nil
	}
	return roles[0], nil
}
