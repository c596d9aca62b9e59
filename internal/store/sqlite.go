package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; every counter update is a short transaction.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS user_profiles (
        user_id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        session_id TEXT NOT NULL,
        session_type TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        UNIQUE (user_id, session_id),
        FOREIGN KEY (user_id) REFERENCES user_profiles (user_id)
    );

    CREATE TABLE IF NOT EXISTS chat_messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        session_row INTEGER NOT NULL,
        timestamp DATETIME NOT NULL,
        query TEXT NOT NULL,
        response TEXT NOT NULL,
        recommendations_json TEXT NOT NULL DEFAULT '[]',
        FOREIGN KEY (session_row) REFERENCES chat_sessions (id)
    );

    CREATE TABLE IF NOT EXISTS sensitive_word_counters (
        user_id TEXT NOT NULL,
        category TEXT NOT NULL,
        count INTEGER NOT NULL,
        PRIMARY KEY (user_id, category)
    );

    CREATE TABLE IF NOT EXISTS sensitive_word_occurrences (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        category TEXT NOT NULL,
        occurred_at INTEGER NOT NULL -- unix nanoseconds, UTC
    );
    CREATE INDEX IF NOT EXISTS idx_occurrences_time ON sensitive_word_occurrences (occurred_at);

    CREATE TABLE IF NOT EXISTS user_keyword_counters (
        user_id TEXT NOT NULL,
        keyword_id TEXT NOT NULL,
        display_name_json TEXT NOT NULL,
        count INTEGER NOT NULL,
        last_selected_at DATETIME NOT NULL,
        PRIMARY KEY (user_id, keyword_id)
    );

    CREATE TABLE IF NOT EXISTS keywords (
        id TEXT PRIMARY KEY,
        name_json TEXT NOT NULL,
        selection_count INTEGER NOT NULL DEFAULT 0,
        last_selected_at DATETIME
    );

    CREATE TABLE IF NOT EXISTS contents (
        id TEXT PRIMARY KEY,
        content_id TEXT,
        language TEXT,
        title TEXT NOT NULL,
        content_type TEXT,
        link_url TEXT,
        file_url TEXT,
        thumbnail_url TEXT,
        intro TEXT,
        status TEXT,
        recommended_count INTEGER NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS content_keywords (
        content_id TEXT NOT NULL,
        keyword_id TEXT NOT NULL,
        PRIMARY KEY (content_id, keyword_id)
    );

    CREATE TABLE IF NOT EXISTS outcome_counters (
        entity TEXT PRIMARY KEY,
        count INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func ensureProfile(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO user_profiles (user_id, created_at, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`,
		userID, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user profile: %w", err)
	}
	return nil
}

// Chat history methods
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, sessionID, sessionType string, msg ChatMessage) (AppendResult, error) {
	if sessionType == "" {
		sessionType = DefaultSessionType
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	recs := msg.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	var result AppendResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProfile(ctx, tx, userID, now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
            INSERT INTO chat_sessions (user_id, session_id, session_type, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (user_id, session_id) DO NOTHING`,
			userID, sessionID, sessionType, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert chat session: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			result.Created = true
		} else if _, err := tx.ExecContext(ctx,
			"UPDATE chat_sessions SET updated_at = ? WHERE user_id = ? AND session_id = ?",
			now, userID, sessionID); err != nil {
			return fmt.Errorf("failed to touch chat session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO chat_messages (id, session_row, timestamp, query, response, recommendations_json)
            SELECT ?, id, ?, ?, ?, ? FROM chat_sessions WHERE user_id = ? AND session_id = ?`,
			msg.ID, msg.Timestamp.UTC(), msg.Query, msg.Response, string(recsJSON), userID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
	if err != nil {
		return AppendResult{}, err
	}
	return result, nil
}

func (s *SQLiteStore) GetSessionHistory(ctx context.Context, userID, sessionID string) (*ChatSession, error) {
	var (
		rowID   int64
		session ChatSession
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, session_type, created_at, updated_at FROM chat_sessions WHERE user_id = ? AND session_id = ?",
		userID, sessionID).Scan(&rowID, &session.SessionID, &session.SessionType, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query chat session: %w", err)
	}

	msgs, err := s.sessionMessages(ctx, rowID)
	if err != nil {
		return nil, err
	}
	session.Messages = msgs
	return &session, nil
}

func (s *SQLiteStore) sessionMessages(ctx context.Context, sessionRow int64) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, query, response, recommendations_json FROM chat_messages WHERE session_row = ? ORDER BY seq ASC",
		sessionRow)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var (
			msg      ChatMessage
			recsJSON string
		)
		if err := rows.Scan(&msg.ID, &msg.Timestamp, &msg.Query, &msg.Response, &recsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if err := json.Unmarshal([]byte(recsJSON), &msg.Recommendations); err != nil || msg.Recommendations == nil {
			msg.Recommendations = []string{}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Counter methods
func (s *SQLiteStore) IncrementSensitiveWord(ctx context.Context, userID, category string, at time.Time) error {
	at = at.UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProfile(ctx, tx, userID, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO sensitive_word_counters (user_id, category, count) VALUES (?, ?, 1)
            ON CONFLICT (user_id, category) DO UPDATE SET count = count + 1`,
			userID, category); err != nil {
			return fmt.Errorf("failed to upsert sensitive word counter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sensitive_word_occurrences (user_id, category, occurred_at) VALUES (?, ?, ?)",
			userID, category, at.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert sensitive word occurrence: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) IncrementUserKeyword(ctx context.Context, userID string, kw KeywordDefinition, at time.Time) error {
	at = at.UTC()
	nameJSON, err := json.Marshal(kw.Name)
	if err != nil {
		return fmt.Errorf("failed to marshal keyword name: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureProfile(ctx, tx, userID, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO user_keyword_counters (user_id, keyword_id, display_name_json, count, last_selected_at)
            VALUES (?, ?, ?, 1, ?)
            ON CONFLICT (user_id, keyword_id) DO UPDATE SET
                count = count + 1,
                display_name_json = excluded.display_name_json,
                last_selected_at = excluded.last_selected_at`,
			userID, kw.ID, string(nameJSON), at); err != nil {
			return fmt.Errorf("failed to upsert user keyword counter: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) IncrementKeywordSelection(ctx context.Context, keywordID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE keywords SET selection_count = selection_count + 1, last_selected_at = ? WHERE id = ?",
		at.UTC(), keywordID)
	if err != nil {
		return fmt.Errorf("failed to increment keyword selection: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("keyword %s: %w", keywordID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) IncrementOutcome(ctx context.Context, entity string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO outcome_counters (entity, count) VALUES (?, 1)
        ON CONFLICT (entity) DO UPDATE SET count = count + 1`, entity)
	if err != nil {
		return fmt.Errorf("failed to increment outcome counter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) OutcomeCount(ctx context.Context, entity string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count FROM outcome_counters WHERE entity = ?", entity).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query outcome counter: %w", err)
	}
	return n, nil
}

// Keyword methods
func (s *SQLiteStore) ListKeywords(ctx context.Context) ([]KeywordDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name_json, selection_count, last_selected_at FROM keywords ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []KeywordDefinition
	for rows.Next() {
		var (
			kw       KeywordDefinition
			nameJSON string
			lastSel  sql.NullTime
		)
		if err := rows.Scan(&kw.ID, &nameJSON, &kw.SelectionCount, &lastSel); err != nil {
			return nil, fmt.Errorf("failed to scan keyword row: %w", err)
		}
		if err := json.Unmarshal([]byte(nameJSON), &kw.Name); err != nil {
			return nil, fmt.Errorf("failed to decode name of keyword %s: %w", kw.ID, err)
		}
		if lastSel.Valid {
			t := lastSel.Time
			kw.LastSelectedAt = &t
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

// UpsertKeyword creates or renames a keyword. Selection statistics are kept.
func (s *SQLiteStore) UpsertKeyword(ctx context.Context, kw KeywordDefinition) error {
	nameJSON, err := json.Marshal(kw.Name)
	if err != nil {
		return fmt.Errorf("failed to marshal keyword name: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO keywords (id, name_json) VALUES (?, ?)
        ON CONFLICT (id) DO UPDATE SET name_json = excluded.name_json`,
		kw.ID, string(nameJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert keyword: %w", err)
	}
	return nil
}

// Content methods
func (s *SQLiteStore) FindContentByKeywords(ctx context.Context, keywordIDs []string, limit int) ([]Content, error) {
	if len(keywordIDs) == 0 || limit <= 0 {
		return []Content{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keywordIDs)), ",")
	args := make([]any, 0, len(keywordIDs)+1)
	for _, id := range keywordIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	query := `
        SELECT c.id, COALESCE(c.content_id, ''), COALESCE(c.language, ''), c.title,
               COALESCE(c.content_type, ''), COALESCE(c.link_url, ''), COALESCE(c.file_url, ''),
               COALESCE(c.thumbnail_url, ''), COALESCE(c.intro, ''), COALESCE(c.status, ''),
               c.recommended_count
        FROM contents c
        WHERE c.id IN (SELECT content_id FROM content_keywords WHERE keyword_id IN (` + placeholders + `))
        ORDER BY c.rowid
        LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contents: %w", err)
	}

	contents := []Content{}
	for rows.Next() {
		var c Content
		if err := rows.Scan(&c.ID, &c.ContentID, &c.Language, &c.Title, &c.ContentType, &c.LinkURL,
			&c.FileURL, &c.ThumbnailURL, &c.Intro, &c.Status, &c.RecommendedCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate contents: %w", err)
	}
	// Release the single connection before the keyword lookups below.
	rows.Close()

	for i := range contents {
		kws, err := s.contentKeywords(ctx, contents[i].ID)
		if err != nil {
			return nil, err
		}
		contents[i].Keywords = kws
	}
	return contents, nil
}

func (s *SQLiteStore) contentKeywords(ctx context.Context, contentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT keyword_id FROM content_keywords WHERE content_id = ? ORDER BY keyword_id", contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query content keywords: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan content keyword: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) MarkRecommended(ctx context.Context, contentIDs []string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contentIDs)), ",")
	args := make([]any, 0, len(contentIDs))
	for _, id := range contentIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE contents SET recommended_count = recommended_count + 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to mark contents recommended: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertContent(ctx context.Context, c Content) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO contents (id, content_id, language, title, content_type, link_url, file_url, thumbnail_url, intro, status)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (id) DO UPDATE SET
                content_id = excluded.content_id,
                language = excluded.language,
                title = excluded.title,
                content_type = excluded.content_type,
                link_url = excluded.link_url,
                file_url = excluded.file_url,
                thumbnail_url = excluded.thumbnail_url,
                intro = excluded.intro,
                status = excluded.status`,
			c.ID, c.ContentID, c.Language, c.Title, c.ContentType, c.LinkURL, c.FileURL, c.ThumbnailURL, c.Intro, c.Status)
		if err != nil {
			return fmt.Errorf("failed to upsert content: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM content_keywords WHERE content_id = ?", c.ID); err != nil {
			return fmt.Errorf("failed to reset content keywords: %w", err)
		}
		for _, kw := range c.Keywords {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO content_keywords (content_id, keyword_id) VALUES (?, ?)", c.ID, kw); err != nil {
				return fmt.Errorf("failed to link content keyword: %w", err)
			}
		}
		return nil
	})
}

// Analytics methods
func (s *SQLiteStore) ListSensitiveOccurrences(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT occurred_at FROM sensitive_word_occurrences WHERE occurred_at >= ? AND occurred_at < ? ORDER BY occurred_at",
		start.UTC().UnixNano(), end.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitive occurrences: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		out = append(out, time.Unix(0, ns).UTC())
	}
	return out, rows.Err()
}

// Profile methods
func (s *SQLiteStore) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile := UserProfile{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM user_profiles WHERE user_id = ?", userID).
		Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}

	var sessionIDs []string
	rows, err := s.db.QueryContext(ctx, "SELECT session_id FROM chat_sessions WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		sessionIDs = append(sessionIDs, id)
	}
	rows.Close()
	for _, id := range sessionIDs {
		session, err := s.GetSessionHistory(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		profile.ChatHistory = append(profile.ChatHistory, *session)
	}

	if profile.SensitiveWords, err = s.sensitiveCounters(ctx, userID); err != nil {
		return nil, err
	}
	if profile.KeyWords, err = s.keywordCounters(ctx, userID); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *SQLiteStore) sensitiveCounters(ctx context.Context, userID string) ([]SensitiveWordCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, count FROM sensitive_word_counters WHERE user_id = ? ORDER BY category", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitive word counters: %w", err)
	}
	var counters []SensitiveWordCounter
	for rows.Next() {
		var c SensitiveWordCounter
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sensitive word counter: %w", err)
		}
		counters = append(counters, c)
	}
	rows.Close()

	for i := range counters {
		occ, err := s.db.QueryContext(ctx,
			"SELECT occurred_at FROM sensitive_word_occurrences WHERE user_id = ? AND category = ? ORDER BY id",
			userID, counters[i].Category)
		if err != nil {
			return nil, fmt.Errorf("failed to query occurrences: %w", err)
		}
		for occ.Next() {
			var ns int64
			if err := occ.Scan(&ns); err != nil {
				occ.Close()
				return nil, fmt.Errorf("failed to scan occurrence: %w", err)
			}
			counters[i].Occurrences = append(counters[i].Occurrences, time.Unix(0, ns).UTC())
		}
		occ.Close()
	}
	return counters, nil
}

func (s *SQLiteStore) keywordCounters(ctx context.Context, userID string) ([]UserKeywordCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT keyword_id, display_name_json, count, last_selected_at FROM user_keyword_counters WHERE user_id = ? ORDER BY keyword_id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user keyword counters: %w", err)
	}
	defer rows.Close()

	var counters []UserKeywordCounter
	for rows.Next() {
		var (
			c        UserKeywordCounter
			nameJSON string
		)
		if err := rows.Scan(&c.KeywordID, &nameJSON, &c.Count, &c.LastSelectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user keyword counter: %w", err)
		}
		_ = json.Unmarshal([]byte(nameJSON), &c.DisplayName)
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
