package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
)

var _ repository.SkillRepository = (*DB)(nil)

const skillColumns = `id, name, description, price, is_online,
	category_id, category_name, category_is_manual, category_image_url,
	user_id, user_name, user_email, user_profile_image_url, user_locality, user_province`

// CreateSkill assigns an id and inserts s with its category and owner
// snapshots.
func (db *DB) CreateSkill(ctx context.Context, s *model.Skill) error {
	s.ID = xid.New().String()
	now := time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO skills (`+skillColumns+`, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.Name,
		s.Description,
		s.Price,
		nullBool(s.IsOnline),
		s.Category.ID,
		s.Category.Name,
		nullBool(s.Category.IsManual),
		nullString(s.Category.ImageURL),
		s.User.ID,
		s.User.Name,
		s.User.Email,
		nullString(s.User.ProfileImageURL),
		nullString(s.User.Locality),
		nullString(s.User.Province),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating skill: %w", err)
	}
	return nil
}

// GetSkill retrieves a skill by id.
func (db *DB) GetSkill(ctx context.Context, id string) (*model.Skill, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE id = ?`, id)

	s, err := scanSkill(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("skill", id)
		}
		return nil, fmt.Errorf("sqlite: getting skill %s: %w", id, err)
	}
	return s, nil
}

// ListSkills returns the whole collection, oldest first.
func (db *DB) ListSkills(ctx context.Context) ([]model.Skill, error) {
	return db.querySkills(ctx,
		`SELECT `+skillColumns+` FROM skills ORDER BY created_at, id`)
}

// ListSkillsByOwner returns the skills whose embedded owner is uid.
func (db *DB) ListSkillsByOwner(ctx context.Context, uid string) ([]model.Skill, error) {
	return db.querySkills(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE user_id = ? ORDER BY created_at, id`, uid)
}

// UpdateSkill overwrites every field of the skill, snapshots included.
func (db *DB) UpdateSkill(ctx context.Context, s *model.Skill) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE skills SET
		   name = ?, description = ?, price = ?, is_online = ?,
		   category_id = ?, category_name = ?, category_is_manual = ?, category_image_url = ?,
		   user_id = ?, user_name = ?, user_email = ?, user_profile_image_url = ?,
		   user_locality = ?, user_province = ?,
		   updated_at = ?
		 WHERE id = ?`,
		s.Name,
		s.Description,
		s.Price,
		nullBool(s.IsOnline),
		s.Category.ID,
		s.Category.Name,
		nullBool(s.Category.IsManual),
		nullString(s.Category.ImageURL),
		s.User.ID,
		s.User.Name,
		s.User.Email,
		nullString(s.User.ProfileImageURL),
		nullString(s.User.Locality),
		nullString(s.User.Province),
		time.Now().UTC(),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating skill %s: %w", s.ID, err)
	}
	return expectOne(result, "skill", s.ID)
}

// PatchSkillOwner replaces only the embedded owner snapshot. The owner id
// itself is not changed.
func (db *DB) PatchSkillOwner(ctx context.Context, skillID string, owner model.User) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE skills SET
		   user_name = ?, user_email = ?, user_profile_image_url = ?,
		   user_locality = ?, user_province = ?, updated_at = ?
		 WHERE id = ?`,
		owner.Name,
		owner.Email,
		nullString(owner.ProfileImageURL),
		nullString(owner.Locality),
		nullString(owner.Province),
		time.Now().UTC(),
		skillID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: patching owner of skill %s: %w", skillID, err)
	}
	return expectOne(result, "skill", skillID)
}

// DeleteSkill removes a skill.
func (db *DB) DeleteSkill(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting skill %s: %w", id, err)
	}
	return expectOne(result, "skill", id)
}

func (db *DB) querySkills(ctx context.Context, query string, args ...any) ([]model.Skill, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing skills: %w", err)
	}
	defer rows.Close()

	skills := []model.Skill{}
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning skill: %w", err)
		}
		skills = append(skills, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating skills: %w", err)
	}
	return skills, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSkill(sc scanner) (*model.Skill, error) {
	var (
		s                             model.Skill
		isOnline, catManual           sql.NullBool
		catImage                      sql.NullString
		userImage, locality, province sql.NullString
	)
	err := sc.Scan(
		&s.ID, &s.Name, &s.Description, &s.Price, &isOnline,
		&s.Category.ID, &s.Category.Name, &catManual, &catImage,
		&s.User.ID, &s.User.Name, &s.User.Email, &userImage, &locality, &province,
	)
	if err != nil {
		return nil, err
	}
	s.IsOnline = boolPtr(isOnline)
	s.Category.IsManual = boolPtr(catManual)
	s.Category.ImageURL = stringPtr(catImage)
	s.User.ProfileImageURL = stringPtr(userImage)
	s.User.Locality = stringPtr(locality)
	s.User.Province = stringPtr(province)
	return &s, nil
}
