package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
)

const uniqueViolation = "23505"

type sessionRow struct {
	ID                string         `gorm:"primaryKey;size:64"`
	Code              string         `gorm:"size:16;not null;uniqueIndex"`
	Status            string         `gorm:"size:16;not null"`
	HostID            string         `gorm:"size:64;not null"`
	Pot               int            `gorm:"not null;default:0"`
	Round             int            `gorm:"not null;default:0"`
	CommunityCards    int            `gorm:"not null;default:0"`
	MaxCommunityCards int            `gorm:"not null;default:5"`
	RiskPhase         datatypes.JSON `gorm:"type:jsonb"`
	ShowdownPhase     datatypes.JSON `gorm:"type:jsonb"`
	GameHistory       datatypes.JSON `gorm:"type:jsonb"`
	FormerHostIDs     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt         time.Time
	LastActivity      time.Time   `gorm:"index"`
	Players           []playerRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRow) TableName() string { return "sessions" }

type playerRow struct {
	SessionID      string `gorm:"primaryKey;size:64"`
	ID             string `gorm:"primaryKey;size:64"`
	Seq            int    `gorm:"not null"`
	Nickname       string `gorm:"size:64;not null"`
	IsHost         bool
	Status         string `gorm:"size:16;not null"`
	ConnID         string `gorm:"size:64;index"`
	JoinedAt       time.Time
	DisconnectedAt *time.Time
	Points         int
	GameStatus     string `gorm:"size:16;not null"`
	HasRisked      bool
	CurrentRisk    int
	ReentryUsed    bool
}

func (playerRow) TableName() string { return "players" }

// Postgres is the durable Store backed by gorm.
type Postgres struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenPostgres connects, migrates the schema, and returns a ready store.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := NewPostgres(db, logger)
	if err := p.Migrate(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	logger.Info("postgres store ready")
	return p, nil
}

func NewPostgres(db *gorm.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&sessionRow{}, &playerRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, s *engine.Session) error {
	if s == nil || s.ID == "" || s.Code == "" {
		return engine.ErrMissingFields
	}
	row, err := toRow(s)
	if err != nil {
		return err
	}
	row.Code = normalizeCode(row.Code)

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
		if len(row.Players) > 0 {
			return tx.Create(&row.Players).Error
		}
		return nil
	})
	if isUniqueViolation(err) {
		return engine.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) GetSessionByID(ctx context.Context, id string) (*engine.Session, error) {
	return p.load(p.db.WithContext(ctx), "id = ?", id)
}

func (p *Postgres) GetSessionByCode(ctx context.Context, code string) (*engine.Session, error) {
	return p.load(p.db.WithContext(ctx), "code = ?", normalizeCode(code))
}

func (p *Postgres) AppendPlayer(ctx context.Context, sessionID string, pl engine.Player) (*engine.Session, error) {
	var out *engine.Session
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := p.lockAndLoad(tx, sessionID)
		if err != nil {
			return err
		}
		if engine.FindPlayer(s, pl.ID) >= 0 {
			return engine.ErrPlayerExists
		}
		if engine.NicknameTaken(s, pl.Nickname) {
			return engine.ErrNicknameTaken
		}
		pl.IsHost = pl.ID == s.HostID
		row := toPlayerRow(sessionID, len(s.Players), pl)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := touch(tx, sessionID, pl.JoinedAt); err != nil {
			return err
		}
		s.Players = append(s.Players, pl)
		s.LastActivity = pl.JoinedAt
		out = s
		return nil
	})
	if err != nil {
		return nil, p.wrap("append player", sessionID, err)
	}
	return out, nil
}

func (p *Postgres) UpdatePlayerStatus(ctx context.Context, sessionID string, ref PlayerRef, status engine.PlayerStatus, connID string, at time.Time) (*engine.Session, error) {
	var out *engine.Session
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := p.lockAndLoad(tx, sessionID)
		if err != nil {
			return err
		}
		i := findRef(s, ref)
		if i < 0 {
			return engine.ErrPlayerNotFound
		}
		pl := &s.Players[i]
		applyStatus(pl, status, connID, at)

		err = tx.Model(&playerRow{}).
			Where("session_id = ? AND id = ?", sessionID, pl.ID).
			Updates(map[string]any{
				"status":          string(pl.Status),
				"conn_id":         pl.ConnID,
				"disconnected_at": pl.DisconnectedAt,
			}).Error
		if err != nil {
			return err
		}
		if err := touch(tx, sessionID, at); err != nil {
			return err
		}
		s.LastActivity = at
		out = s
		return nil
	})
	if err != nil {
		return nil, p.wrap("update player status", sessionID, err)
	}
	return out, nil
}

func (p *Postgres) SaveSession(ctx context.Context, s *engine.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{ID: row.ID}).
			Select("Status", "HostID", "Pot", "Round", "CommunityCards", "MaxCommunityCards",
				"RiskPhase", "ShowdownPhase", "GameHistory", "FormerHostIDs", "LastActivity").
			Omit(clause.Associations).
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return engine.ErrSessionNotFound
		}
		if err := tx.Where("session_id = ?", row.ID).Delete(&playerRow{}).Error; err != nil {
			return err
		}
		if len(row.Players) > 0 {
			return tx.Create(&row.Players).Error
		}
		return nil
	})
	if err != nil {
		return p.wrap("save session", s.ID, err)
	}
	return nil
}

func (p *Postgres) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := p.db.WithContext(ctx).Model(&sessionRow{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, id string) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&playerRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&sessionRow{}).Error
	})
	if err != nil {
		return p.wrap("delete session", id, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) load(db *gorm.DB, query string, arg string) (*engine.Session, error) {
	var row sessionRow
	err := db.Preload("Players", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, p.wrap("load session", arg, err)
	}
	return fromRow(row)
}

func (p *Postgres) lockAndLoad(tx *gorm.DB, sessionID string) (*engine.Session, error) {
	var locked sessionRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id = ?", sessionID).First(&locked).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.load(tx, "id = ?", sessionID)
}

// wrap passes taxonomy errors through and logs everything else as a storage
// failure.
func (p *Postgres) wrap(op, id string, err error) error {
	var e *engine.Error
	if errors.As(err, &e) {
		return err
	}
	if isUniqueViolation(err) {
		return engine.ErrPlayerExists
	}
	p.logger.Error("storage failure", zap.String("op", op), zap.String("session_id", id), zap.Error(err))
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func touch(tx *gorm.DB, sessionID string, at time.Time) error {
	return tx.Model(&sessionRow{}).Where("id = ?", sessionID).Update("last_activity", at).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func toRow(s *engine.Session) (sessionRow, error) {
	risk, err := json.Marshal(s.RiskPhase)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode risk phase: %w", err)
	}
	showdown, err := json.Marshal(s.ShowdownPhase)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode showdown phase: %w", err)
	}
	history := s.GameHistory
	if history == nil {
		history = []engine.GameRound{}
	}
	hist, err := json.Marshal(history)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode history: %w", err)
	}

	former, err := json.Marshal(s.FormerHostIDs)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode former hosts: %w", err)
	}

	row := sessionRow{
		ID:                s.ID,
		Code:              s.Code,
		Status:            string(s.Status),
		HostID:            s.HostID,
		Pot:               s.Pot,
		Round:             s.Round,
		CommunityCards:    s.CommunityCards,
		MaxCommunityCards: s.MaxCommunityCards,
		RiskPhase:         datatypes.JSON(risk),
		ShowdownPhase:     datatypes.JSON(showdown),
		GameHistory:       datatypes.JSON(hist),
		FormerHostIDs:     datatypes.JSON(former),
		CreatedAt:         s.CreatedAt,
		LastActivity:      s.LastActivity,
	}
	for i, pl := range s.Players {
		row.Players = append(row.Players, toPlayerRow(s.ID, i, pl))
	}
	return row, nil
}

func toPlayerRow(sessionID string, seq int, pl engine.Player) playerRow {
	return playerRow{
		SessionID:      sessionID,
		ID:             pl.ID,
		Seq:            seq,
		Nickname:       pl.Nickname,
		IsHost:         pl.IsHost,
		Status:         string(pl.Status),
		ConnID:         pl.ConnID,
		JoinedAt:       pl.JoinedAt,
		DisconnectedAt: pl.DisconnectedAt,
		Points:         pl.Points,
		GameStatus:     string(pl.GameStatus),
		HasRisked:      pl.HasRisked,
		CurrentRisk:    pl.CurrentRisk,
		ReentryUsed:    pl.ReentryUsed,
	}
}

func fromRow(row sessionRow) (*engine.Session, error) {
	s := &engine.Session{
		ID:                row.ID,
		Code:              row.Code,
		Status:            engine.SessionStatus(row.Status),
		HostID:            row.HostID,
		Pot:               row.Pot,
		Round:             row.Round,
		CommunityCards:    row.CommunityCards,
		MaxCommunityCards: row.MaxCommunityCards,
		GameHistory:       []engine.GameRound{},
		CreatedAt:         row.CreatedAt,
		LastActivity:      row.LastActivity,
	}
	if err := decode(row.RiskPhase, &s.RiskPhase); err != nil {
		return nil, fmt.Errorf("decode risk phase: %w", err)
	}
	if err := decode(row.ShowdownPhase, &s.ShowdownPhase); err != nil {
		return nil, fmt.Errorf("decode showdown phase: %w", err)
	}
	if err := decode(row.GameHistory, &s.GameHistory); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if s.GameHistory == nil {
		s.GameHistory = []engine.GameRound{}
	}
	if err := decode(row.FormerHostIDs, &s.FormerHostIDs); err != nil {
		return nil, fmt.Errorf("decode former hosts: %w", err)
	}
	for _, pr := range row.Players {
		s.Players = append(s.Players, engine.Player{
			ID:             pr.ID,
			Nickname:       pr.Nickname,
			IsHost:         pr.IsHost,
			Status:         engine.PlayerStatus(pr.Status),
			ConnID:         pr.ConnID,
			JoinedAt:       pr.JoinedAt,
			DisconnectedAt: pr.DisconnectedAt,
			Points:         pr.Points,
			GameStatus:     engine.GameStatus(pr.GameStatus),
			HasRisked:      pr.HasRisked,
			CurrentRisk:    pr.CurrentRisk,
			ReentryUsed:    pr.ReentryUsed,
		})
	}
	return s, nil
}

func decode(raw datatypes.JSON, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
