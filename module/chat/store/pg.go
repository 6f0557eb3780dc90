package store

import (
	"context"
	"time"

	"PulseChat/module/chat/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const (
	joinedContent = "I joined!"
	leftContent   = "I left!"
)

// Store Postgres 存储层：chat / message / read_progress / user
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Store{pool: pool}, nil
}

func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Close() { s.pool.Close() }

// ---- chat ----

func (s *Store) CreateChat(ctx context.Context, name string, typ model.ChatType) (model.Chat, error) {
	var c model.Chat
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat (name, type) VALUES ($1, $2) RETURNING id, name, type`,
		name, typ,
	).Scan(&c.ID, &c.Name, &c.Type)
	if err != nil {
		return model.Chat{}, errors.Wrap(err, "create chat")
	}
	return c, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (model.Chat, bool, error) {
	var c model.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, type FROM chat WHERE id = $1`, chatID,
	).Scan(&c.ID, &c.Name, &c.Type)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Chat{}, false, nil
	}
	if err != nil {
		return model.Chat{}, false, errors.Wrap(err, "get chat")
	}
	return c, true, nil
}

func (s *Store) AllChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, type FROM chat ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	defer rows.Close()
	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, errors.Wrap(err, "scan chat")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- membership ----

func (s *Store) CheckUserInChat(ctx context.Context, chatID, userID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participant WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check user in chat")
	}
	return ok, nil
}

func (s *Store) UserChats(ctx context.Context, userID int64) ([]model.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.name, c.type
		   FROM chat c JOIN chat_participant p ON p.chat_id = c.id
		  WHERE p.user_id = $1 ORDER BY c.id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user chats")
	}
	defer rows.Close()
	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.Type); err != nil {
			return nil, errors.Wrap(err, "scan chat")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ChatUsers(ctx context.Context, chatID int64) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.email
		   FROM app_user u JOIN chat_participant p ON p.user_id = u.id
		  WHERE p.chat_id = $1 ORDER BY u.id`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "list chat users")
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AddUserToChat 一个事务里：建参与关系、写入 join 消息、已读游标落在 join 消息上。
// 返回 join 消息（调用方用它发 new_user 通知）。
func (s *Store) AddUserToChat(ctx context.Context, chatID, userID int64) (model.Message, error) {
	var msg model.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_participant (chat_id, user_id) VALUES ($1, $2)`,
			chatID, userID); err != nil {
			return errors.Wrap(err, "insert participant")
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO message (chat_id, user_id, content) VALUES ($1, $2, $3)
			 RETURNING id, chat_id, user_id, content, ts`,
			chatID, userID, joinedContent,
		).Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Content, &msg.Timestamp); err != nil {
			return errors.Wrap(err, "insert join message")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO read_progress (chat_id, user_id, last_read_message_id) VALUES ($1, $2, $3)`,
			chatID, userID, msg.ID); err != nil {
			return errors.Wrap(err, "insert initial progress")
		}
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// RemoveUserFromChat 删参与关系与游标，写入 leave 消息。
func (s *Store) RemoveUserFromChat(ctx context.Context, chatID, userID int64) (model.Message, error) {
	var msg model.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chat_participant WHERE chat_id = $1 AND user_id = $2`,
			chatID, userID); err != nil {
			return errors.Wrap(err, "delete participant")
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM read_progress WHERE chat_id = $1 AND user_id = $2`,
			chatID, userID); err != nil {
			return errors.Wrap(err, "delete progress")
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO message (chat_id, user_id, content) VALUES ($1, $2, $3)
			 RETURNING id, chat_id, user_id, content, ts`,
			chatID, userID, leftContent,
		).Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Content, &msg.Timestamp); err != nil {
			return errors.Wrap(err, "insert leave message")
		}
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// ---- message ----

func (s *Store) CreateMessage(ctx context.Context, chatID, userID int64, content string) (model.Message, error) {
	var msg model.Message
	err := s.pool.QueryRow(ctx,
		`INSERT INTO message (chat_id, user_id, content) VALUES ($1, $2, $3)
		 RETURNING id, chat_id, user_id, content, ts`,
		chatID, userID, content,
	).Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Content, &msg.Timestamp)
	if err != nil {
		return model.Message{}, errors.Wrap(err, "create message")
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, user_id, content, ts FROM message
		  WHERE chat_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		chatID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Content, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) CountMessages(ctx context.Context, chatID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM message WHERE chat_id = $1`, chatID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count messages")
	}
	return n, nil
}

// ---- read progress ----

// UpsertReadProgress 服务端 max() 语义：游标只前进不后退。返回存储后的值。
func (s *Store) UpsertReadProgress(ctx context.Context, chatID, userID, candidate int64) (int64, error) {
	var stored int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO read_progress (chat_id, user_id, last_read_message_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id, user_id) DO UPDATE
		    SET last_read_message_id = GREATEST(read_progress.last_read_message_id, EXCLUDED.last_read_message_id)
		 RETURNING last_read_message_id`,
		chatID, userID, candidate,
	).Scan(&stored)
	if err != nil {
		return 0, errors.Wrap(err, "upsert read progress")
	}
	return stored, nil
}

// UserReadProgress 单个用户在会话里的游标；没有行时 ok=false
func (s *Store) UserReadProgress(ctx context.Context, chatID, userID int64) (int64, bool, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_read_message_id FROM read_progress WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "user read progress")
	}
	return v, true, nil
}

func (s *Store) ReadProgressRows(ctx context.Context, chatID int64) ([]model.ReadProgress, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, user_id, last_read_message_id FROM read_progress WHERE chat_id = $1`,
		chatID)
	if err != nil {
		return nil, errors.Wrap(err, "read progress rows")
	}
	defer rows.Close()
	var out []model.ReadProgress
	for rows.Next() {
		var r model.ReadProgress
		if err := rows.Scan(&r.ChatID, &r.UserID, &r.LastReadMessageID); err != nil {
			return nil, errors.Wrap(err, "scan progress row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUnread 别人发的、id 大于自己游标的消息数。没有游标行时为 0（NULL 比较不成立）。
func (s *Store) CountUnread(ctx context.Context, chatID, userID int64, until *int64) (int64, error) {
	q := `SELECT count(*) FROM message m
	       WHERE m.chat_id = $1 AND m.user_id <> $2
	         AND m.id > (SELECT last_read_message_id FROM read_progress
	                      WHERE chat_id = $1 AND user_id = $2)`
	args := []any{chatID, userID}
	if until != nil {
		q += ` AND m.id <= $3`
		args = append(args, *until)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return n, nil
}

// ---- user ----

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO app_user (name, email, password) VALUES ($1, $2, $3)
		 RETURNING id, name, email`,
		name, email, passwordHash,
	).Scan(&u.ID, &u.Name, &u.Email)
	if err != nil {
		return model.User{}, errors.Wrap(err, "create user")
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (model.User, bool, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password FROM app_user WHERE email = $1`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Password)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, errors.Wrap(err, "user by email")
	}
	return u, true, nil
}

func (s *Store) UserByID(ctx context.Context, userID int64) (model.User, bool, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email FROM app_user WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, errors.Wrap(err, "user by id")
	}
	return u, true, nil
}
