package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore is a Store backed by gorm. Open uses the sqlite driver.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// Open connects to the sqlite database at dsn.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %q", dsn)
	}
	return New(db), nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates the users and messages tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&User{}, &Message{}); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateUser(ctx context.Context, u *User) error {
	u.Email = normalizeEmail(u.Email)
	if _, err := s.FindUserByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return errors.Wrap(err, "create user")
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "get user")
	}
	return &u, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		return nil, notFound(err, "find user by email")
	}
	return &u, nil
}

func (s *GormStore) ListUsersExcept(ctx context.Context, id string) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).
		Where("id <> ?", id).
		Order("full_name ASC").
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

func (s *GormStore) UpdateProfilePicture(ctx context.Context, id, pictureURL string) (*User, error) {
	res := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"profile_picture_url": pictureURL,
			"updated_at":          s.now(),
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "update profile picture")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *GormStore) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.UpdatedAt = m.CreatedAt

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Wrap(err, "save message")
	}
	return nil
}

func (s *GormStore) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	return msgs, nil
}

func (s *GormStore) ListConversation(ctx context.Context, userID, otherID string) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherID, otherID, userID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list conversation")
	}
	return msgs, nil
}

func (s *GormStore) ListPartners(ctx context.Context, userID string) ([]User, error) {
	var rows []struct {
		PartnerID string
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`, userID, userID, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list conversation partners")
	}
	if len(rows) == 0 {
		return []User{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PartnerID)
	}

	var users []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("full_name ASC").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "load conversation partners")
	}
	return users, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, op)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
