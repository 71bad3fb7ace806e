package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const (
	defaultPageSize = 20

	addMemberQuery = "INSERT INTO conversation_members (conversation_id, profile_id) " +
		"VALUES ($1, $2) ON CONFLICT (conversation_id, profile_id) DO NOTHING " +
		"RETURNING id, conversation_id, profile_id, created_at"
	getMemberQuery = "SELECT id, conversation_id, profile_id, created_at FROM conversation_members " +
		"WHERE conversation_id = $1 AND profile_id = $2 LIMIT 1"
)

func (db *PgRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO conversations (external_id, name, picture) "+
			"VALUES ($1, $2, $3) RETURNING id, external_id, name, picture, last_seq, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.Picture,
	)

	var conv Conversation
	err = res.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.Name,
		&conv.Picture,
		&conv.LastSeq,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	for _, profileId := range params.MemberIds {
		_, err = tx.Exec(
			"INSERT INTO conversation_members (conversation_id, profile_id) "+
				"VALUES ($1, $2) ON CONFLICT (conversation_id, profile_id) DO NOTHING",
			conv.Id,
			profileId,
		)
		if err != nil {
			return Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Conversation{}, err
	}

	return conv, nil
}

func (db *PgRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, picture, last_seq, created_at, updated_at FROM conversations "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.Name,
		&conv.Picture,
		&conv.LastSeq,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}

	return conv, err
}

func (db *PgRepository) GetConversationById(conversationId int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, picture, last_seq, created_at, updated_at FROM conversations "+
			"WHERE id = $1 LIMIT 1",
		conversationId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.Name,
		&conv.Picture,
		&conv.LastSeq,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}

	return conv, err
}

func (db *PgRepository) ConversationExists(conversationId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM conversations WHERE id = $1 LIMIT 1",
		conversationId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgRepository) GetProfileById(profileId int) (Profile, error) {
	row := db.conn.QueryRow(
		"SELECT id, display_name, created_at FROM profiles WHERE id = $1 LIMIT 1",
		profileId,
	)

	var p Profile
	err := row.Scan(&p.Id, &p.DisplayName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}

	return p, err
}

func (db *PgRepository) ProfileExists(profileId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM profiles WHERE id = $1 LIMIT 1",
		profileId,
	)

	var id int
	return res.Scan(&id) == nil
}

// AddMember is idempotent: adding an existing (conversation, profile)
// pair returns the existing row.
func (db *PgRepository) AddMember(conversationId, profileId int) (Membership, error) {
	res := db.conn.QueryRow(addMemberQuery, conversationId, profileId)

	var m Membership
	err := res.Scan(&m.Id, &m.ConversationId, &m.ProfileId, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// conflict, the pair already exists
		res = db.conn.QueryRow(getMemberQuery, conversationId, profileId)
		err = res.Scan(&m.Id, &m.ConversationId, &m.ProfileId, &m.CreatedAt)
	}

	return m, err
}

func (db *PgRepository) RemoveMember(conversationId, profileId int) (Membership, error) {
	res := db.conn.QueryRow(
		"DELETE FROM conversation_members WHERE conversation_id = $1 AND profile_id = $2 "+
			"RETURNING id, conversation_id, profile_id, created_at",
		conversationId,
		profileId,
	)

	var m Membership
	err := res.Scan(&m.Id, &m.ConversationId, &m.ProfileId, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotFound
	}

	return m, err
}

func (db *PgRepository) IsMember(conversationId, profileId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM conversation_members WHERE conversation_id = $1 AND profile_id = $2 LIMIT 1",
		conversationId,
		profileId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgRepository) ListMembers(conversationId int) ([]int, error) {
	rows, err := db.conn.Query(
		"SELECT profile_id FROM conversation_members WHERE conversation_id = $1",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []int
	for rows.Next() {
		var profileID int
		if err = rows.Scan(&profileID); err != nil {
			return nil, err
		}
		members = append(members, profileID)
	}

	return members, rows.Err()
}

// AppendMessage assigns the message's sequence number and timestamp
// atomically with the insert. The UPDATE on conversations takes a row
// lock, so concurrent appends to the same conversation serialize and
// sequence numbers never collide.
func (db *PgRepository) AppendMessage(conversationId, senderId int, content string) (Message, error) {
	if err := validateContent(content); err != nil {
		return Message{}, err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int
	err = tx.QueryRow(
		"UPDATE conversations SET last_seq = last_seq + 1, updated_at = now() "+
			"WHERE id = $1 RETURNING last_seq",
		conversationId,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ConversationId: conversationId,
		SenderId:       senderId,
		Seq:            seq,
		Content:        content,
	}
	err = tx.QueryRow(
		"INSERT INTO messages (conversation_id, sender_id, seq, content) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, sent_at",
		conversationId,
		senderId,
		seq,
		content,
	).Scan(&msg.Id, &msg.SentAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgRepository) GetMessageById(messageId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, conversation_id, sender_id, seq, content, sent_at FROM messages "+
			"WHERE id = $1 LIMIT 1",
		messageId,
	)

	var msg Message
	err := row.Scan(&msg.Id, &msg.ConversationId, &msg.SenderId, &msg.Seq, &msg.Content, &msg.SentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return msg, err
}

// ListMessages returns one page of a conversation's history ordered by
// sent_at then id, so two messages appended in the same tick still sort
// deterministically.
func (db *PgRepository) ListMessages(conversationId, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.Query(
		"SELECT id, conversation_id, sender_id, seq, content, sent_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY sent_at ASC, id ASC LIMIT $2 OFFSET $3",
		conversationId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.ConversationId, &msg.SenderId, &msg.Seq, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) CountMessages(conversationId int) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE conversation_id = $1",
		conversationId,
	).Scan(&count)

	return count, err
}
