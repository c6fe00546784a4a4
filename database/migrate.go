package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"umamicore/api/models"
)

// AdminUserID is the fixed id of the seeded administrator.
var AdminUserID = uuid.MustParse("41e2b680-648e-4b09-bcd7-3e2b10c06264")

type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// DimensionIndex names the (website_id, created_at, column) index that
// serves breakdowns on column.
func DimensionIndex(table, column string) string {
	return fmt.Sprintf("%s_website_id_created_at_%s_idx", table, column)
}

func dimensionIndexes(table string, columns ...string) []Index {
	out := make([]Index, 0, len(columns))
	for _, c := range columns {
		out = append(out, Index{Name: DimensionIndex(table, c), Table: table, Columns: []string{"website_id", "created_at", c}})
	}
	return out
}

// Indexes lists the composite indexes every read path enters through, plus
// the unique key that arbitrates concurrent session creation.
func Indexes() []Index {
	idx := []Index{
		{Name: "session_website_id_fingerprint_window_seq_key", Table: "session", Columns: []string{"website_id", "fingerprint", "window_seq"}, Unique: true},
		{Name: "session_website_id_created_at_idx", Table: "session", Columns: []string{"website_id", "created_at"}},
		{Name: "website_event_website_id_created_at_idx", Table: "website_event", Columns: []string{"website_id", "created_at"}},
		{Name: "website_event_website_id_session_id_created_at_idx", Table: "website_event", Columns: []string{"website_id", "session_id", "created_at"}},
		{Name: "website_event_website_id_visit_id_created_at_idx", Table: "website_event", Columns: []string{"website_id", "visit_id", "created_at"}},
		{Name: "website_event_session_id_idx", Table: "website_event", Columns: []string{"session_id"}},
		{Name: "event_data_website_id_created_at_idx", Table: "event_data", Columns: []string{"website_id", "created_at"}},
		{Name: "session_data_website_id_created_at_idx", Table: "session_data", Columns: []string{"website_id", "created_at"}},
		{Name: "revenue_website_id_created_at_idx", Table: "revenue", Columns: []string{"website_id", "created_at"}},
		{Name: "revenue_website_id_session_id_idx", Table: "revenue", Columns: []string{"website_id", "session_id"}},
	}
	idx = append(idx, dimensionIndexes("website_event",
		"url_path", "url_query", "referrer_domain", "page_title", "event_name", "tag", "hostname",
		"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term")...)
	idx = append(idx, dimensionIndexes("session",
		"browser", "os", "device", "screen", "language", "country", "region", "city")...)
	idx = append(idx, dimensionIndexes("event_data", "data_key")...)
	idx = append(idx, dimensionIndexes("session_data", "data_key")...)
	return idx
}

func (i Index) DDL() string {
	unique := ""
	if i.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, i.Name, i.Table, strings.Join(i.Columns, ", "))
}

// Migrate creates the thirteen tables, their indexes and the seed admin.
func Migrate(db *gorm.DB, initialAdminPassword string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	err := db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.TeamUser{},
		&models.Website{},
		&models.Session{},
		&models.WebsiteEvent{},
		&models.EventData{},
		&models.SessionData{},
		&models.Revenue{},
		&models.Report{},
		&models.Segment{},
		&models.Link{},
		&models.Pixel{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, idx := range Indexes() {
		if err := db.Exec(idx.DDL()).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}

	if err := seedAdmin(db, initialAdminPassword); err != nil {
		return err
	}

	log.Info("database migrated", zap.Int("indexes", len(Indexes())))
	return nil
}

func seedAdmin(db *gorm.DB, password string) error {
	var existing models.User
	err := db.Where("user_id = ?", AdminUserID).Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := models.User{
		ID:       AdminUserID,
		Username: "admin",
		Password: string(hashed),
		Role:     models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}
