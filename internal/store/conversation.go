package store

// Conversations projects the user's messages into per-peer summaries,
// newest conversation first. The peer of an inbound message is its sender;
// of an outbound message, its recipient.
func (db *DB) Conversations(userID string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT peer, COUNT(*) AS message_count, MAX(created_at) AS last_at,
			(SELECT body FROM messages m2
			 WHERE (CASE WHEN m2.direction = 'in' THEN m2.sender_id ELSE m2.recipient END) = peer
			   AND (m2.sender_id = ?1 OR m2.recipient = ?1)
			 ORDER BY m2.created_at DESC LIMIT 1) AS last_body
		FROM (
			SELECT CASE WHEN direction = 'in' THEN sender_id ELSE recipient END AS peer,
				created_at
			FROM messages
			WHERE sender_id = ?1 OR recipient = ?1
		)
		GROUP BY peer
		ORDER BY last_at DESC`, userID)
	if err != nil {
		return nil, storageErr("conversations", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Peer, &c.MessageCount, &c.LastMessageAt, &c.LastBody); err != nil {
			return nil, storageErr("conversations", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("conversations", err)
	}
	return convs, nil
}
