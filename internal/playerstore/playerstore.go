// Package playerstore defines the PlayerStore external collaborator
// interface and a Postgres-backed implementation used to persist a
// player's position, run energy, weight, and skills across logins.
package playerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	"github.com/rscore/rs530/internal/playerstore/migrations"
)

// SkillRecord is one of the 25 revision-530 skills.
type SkillRecord struct {
	ID    byte
	Level byte
	XP    int32
}

// PlayerData is the persisted subset of player state the game server
// restores at login and writes back at autosave/logout.
type PlayerData struct {
	UserID      int64
	DisplayName string
	PosX        int32
	PosY        int32
	Plane       byte
	RunEnergy   byte
	Weight      int16
	Skills      [25]SkillRecord
}

// DefaultSkills returns the starting skill table: all skills at level 1/xp 0
// except Hitpoints (skill 3), which starts at level 10/xp 1154.
func DefaultSkills() [25]SkillRecord {
	var skills [25]SkillRecord
	for i := range skills {
		skills[i] = SkillRecord{ID: byte(i), Level: 1, XP: 0}
	}
	skills[3] = SkillRecord{ID: 3, Level: 10, XP: 1154}
	return skills
}

// Store is the external collaborator interface the world's autosave and
// login flows depend on.
type Store interface {
	LoadOrCreate(ctx context.Context, userID int64, displayName string) (PlayerData, error)
	Save(ctx context.Context, data PlayerData) error
	LoadByUserID(ctx context.Context, userID int64) (PlayerData, bool, error)
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and returns a Postgres-backed Store.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("playerstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("playerstore: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }

var gooseOnce sync.Once

// Migrate applies the player-store schema migrations against dsn.
func Migrate(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("playerstore: opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	var dialectErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		dialectErr = goose.SetDialect("postgres")
	})
	if dialectErr != nil {
		return fmt.Errorf("playerstore: setting goose dialect: %w", dialectErr)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("playerstore: running migrations: %w", err)
	}
	return nil
}

func (p *Postgres) LoadByUserID(ctx context.Context, userID int64) (PlayerData, bool, error) {
	var d PlayerData
	var skillBytes []byte

	err := p.pool.QueryRow(ctx,
		`SELECT user_id, display_name, pos_x, pos_y, pos_plane, run_energy, weight, skills
		 FROM players WHERE user_id = $1`, userID,
	).Scan(&d.UserID, &d.DisplayName, &d.PosX, &d.PosY, &d.Plane, &d.RunEnergy, &d.Weight, &skillBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlayerData{}, false, nil
		}
		return PlayerData{}, false, fmt.Errorf("playerstore: load %d: %w", userID, err)
	}

	d.Skills = decodeSkills(skillBytes)
	return d, true, nil
}

func (p *Postgres) LoadOrCreate(ctx context.Context, userID int64, displayName string) (PlayerData, error) {
	data, found, err := p.LoadByUserID(ctx, userID)
	if err != nil {
		return PlayerData{}, err
	}
	if found {
		return data, nil
	}

	fresh := PlayerData{
		UserID:      userID,
		DisplayName: displayName,
		PosX:        3222,
		PosY:        3218,
		RunEnergy:   100,
		Skills:      DefaultSkills(),
	}
	if err := p.Save(ctx, fresh); err != nil {
		return PlayerData{}, err
	}
	return fresh, nil
}

func (p *Postgres) Save(ctx context.Context, data PlayerData) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO players (user_id, display_name, pos_x, pos_y, pos_plane, run_energy, weight, skills, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   pos_x = EXCLUDED.pos_x,
		   pos_y = EXCLUDED.pos_y,
		   pos_plane = EXCLUDED.pos_plane,
		   run_energy = EXCLUDED.run_energy,
		   weight = EXCLUDED.weight,
		   skills = EXCLUDED.skills,
		   updated_at = now()`,
		data.UserID, data.DisplayName, data.PosX, data.PosY, data.Plane, data.RunEnergy, data.Weight, encodeSkills(data.Skills),
	)
	if err != nil {
		return fmt.Errorf("playerstore: save %d: %w", data.UserID, err)
	}
	return nil
}

// encodeSkills/decodeSkills pack the 25 skill records as id,level,xp(4) per
// entry so the column stays a flat BYTEA rather than a 25-row join table.
func encodeSkills(skills [25]SkillRecord) []byte {
	out := make([]byte, 0, len(skills)*6)
	for _, s := range skills {
		out = append(out, s.ID, s.Level, byte(s.XP>>24), byte(s.XP>>16), byte(s.XP>>8), byte(s.XP))
	}
	return out
}

func decodeSkills(data []byte) [25]SkillRecord {
	var skills [25]SkillRecord
	for i := range skills {
		skills[i] = SkillRecord{ID: byte(i), Level: 1}
	}
	for i := 0; i+6 <= len(data) && i/6 < 25; i += 6 {
		idx := i / 6
		skills[idx] = SkillRecord{
			ID:    data[i],
			Level: data[i+1],
			XP:    int32(data[i+2])<<24 | int32(data[i+3])<<16 | int32(data[i+4])<<8 | int32(data[i+5]),
		}
	}
	return skills
}

// InMemory is a Store for tests and for running without a database.
type InMemory struct {
	mu   sync.Mutex
	data map[int64]PlayerData
}

func NewInMemory() *InMemory {
	return &InMemory{data: make(map[int64]PlayerData)}
}

func (m *InMemory) LoadByUserID(_ context.Context, userID int64) (PlayerData, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[userID]
	return d, ok, nil
}

func (m *InMemory) LoadOrCreate(_ context.Context, userID int64, displayName string) (PlayerData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[userID]; ok {
		return d, nil
	}
	fresh := PlayerData{
		UserID:      userID,
		DisplayName: displayName,
		PosX:        3222,
		PosY:        3218,
		RunEnergy:   100,
		Skills:      DefaultSkills(),
	}
	m.data[userID] = fresh
	return fresh, nil
}

func (m *InMemory) Save(_ context.Context, data PlayerData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[data.UserID] = data
	return nil
}
