package main

import (
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) CreateTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS moderators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(36) PRIMARY KEY,
		slug VARCHAR(50) UNIQUE NOT NULL,
		title VARCHAR(100) NOT NULL,
		moderator_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (moderator_id) REFERENCES moderators(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_rooms_slug ON rooms(slug);
	CREATE INDEX IF NOT EXISTS idx_rooms_moderator ON rooms(moderator_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) CreateModerator(username, password string) (*Moderator, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	result, err := d.db.Exec(
		"INSERT INTO moderators (username, password_hash) VALUES (?, ?)",
		username, string(hashedPassword),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return d.GetModeratorByID(int(id))
}

func (d *Database) AuthenticateModerator(username, password string) (*Moderator, error) {
	mod, err := d.GetModeratorByUsername(username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(mod.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}

	return mod, nil
}

func (d *Database) GetModeratorByID(id int) (*Moderator, error) {
	mod := &Moderator{}
	err := d.db.QueryRow(
		"SELECT id, username, password_hash, created_at FROM moderators WHERE id = ?", id,
	).Scan(&mod.ID, &mod.Username, &mod.PasswordHash, &mod.CreatedAt)
	if err != nil {
		return nil, err
	}
	return mod, nil
}

func (d *Database) GetModeratorByUsername(username string) (*Moderator, error) {
	mod := &Moderator{}
	err := d.db.QueryRow(
		"SELECT id, username, password_hash, created_at FROM moderators WHERE username = ?", username,
	).Scan(&mod.ID, &mod.Username, &mod.PasswordHash, &mod.CreatedAt)
	if err != nil {
		return nil, err
	}
	return mod, nil
}

func (d *Database) CreateRoom(slug, title string, moderatorID int) (*Room, error) {
	id := uuid.NewString()

	_, err := d.db.Exec(
		"INSERT INTO rooms (id, slug, title, moderator_id) VALUES (?, ?, ?, ?)",
		id, slug, title, moderatorID,
	)
	if err != nil {
		return nil, err
	}

	return d.GetRoomByID(id)
}

// FindRoomBySlug returns nil (no error) when no room matches, which callers
// treat as "reject join".
func (d *Database) FindRoomBySlug(slug string) (*Room, error) {
	room := &Room{}
	err := d.db.QueryRow(
		"SELECT id, slug, title, moderator_id, created_at FROM rooms WHERE slug = ?", slug,
	).Scan(&room.ID, &room.Slug, &room.Title, &room.ModeratorID, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (d *Database) GetRoomByID(id string) (*Room, error) {
	room := &Room{}
	err := d.db.QueryRow(
		"SELECT id, slug, title, moderator_id, created_at FROM rooms WHERE id = ?", id,
	).Scan(&room.ID, &room.Slug, &room.Title, &room.ModeratorID, &room.CreatedAt)
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (d *Database) GetModeratorRooms(moderatorID int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, slug, title, moderator_id, created_at FROM rooms WHERE moderator_id = ? ORDER BY created_at DESC",
		moderatorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Slug, &room.Title, &room.ModeratorID, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) DeleteRoom(id string, moderatorID int) (bool, error) {
	result, err := d.db.Exec(
		"DELETE FROM rooms WHERE id = ? AND moderator_id = ?", id, moderatorID,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SlugExists is used to retry slug generation on collision.
func (d *Database) SlugExists(slug string) (bool, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM rooms WHERE slug = ?", slug).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
