package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusfriends/backend/internal/relationships"
	"github.com/campusfriends/backend/internal/repositories"
)

// View runs fn in a transaction. SQLite has one writer at a time, so reads
// share the write path and see a consistent snapshot.
func (s *Store) View(ctx context.Context, kind relationships.Kind, fn func(relationships.Tx) error) error {
	return s.Update(ctx, kind, fn)
}

// Update runs fn in an immediate transaction and commits when it returns nil.
func (s *Store) Update(ctx context.Context, kind relationships.Kind, fn func(relationships.Tx) error) error {
	tables, err := repositories.TablesFor(kind)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&relationshipTx{tx: tx, tables: tables, kind: kind})
	})
}

// CountEdges counts the edges userID belongs to.
func (s *Store) CountEdges(ctx context.Context, kind relationships.Kind, userID string) (int, error) {
	tables, err := repositories.TablesFor(kind)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.sqlDB.QueryRowContext(ctx, fmt.Sprintf(`
SELECT count(*) FROM %s WHERE pair_low = ?1 OR pair_high = ?1`, tables.Edges), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", tables.Edges, err)
	}
	return count, nil
}

// ListEdges returns userID's edges ordered by the other member's id, starting after the cursor.
func (s *Store) ListEdges(ctx context.Context, kind relationships.Kind, userID string, limit int, after string) ([]relationships.EdgeRecord, error) {
	tables, err := repositories.TablesFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM (
    SELECT %s, CASE WHEN pair_low = ?1 THEN pair_high ELSE pair_low END AS other_id
    FROM %s
    WHERE pair_low = ?1 OR pair_high = ?1
)
WHERE other_id > ?2
ORDER BY other_id
LIMIT ?3`, repositories.EdgeColumns, repositories.EdgeColumns, tables.Edges), userID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tables.Edges, err)
	}
	defer rows.Close()

	var edges []relationships.EdgeRecord
	for rows.Next() {
		edge, err := scanEdge(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", tables.Edges, err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", tables.Edges, err)
	}
	return edges, nil
}

// ListPending returns pending requests for userID in direction, newest first.
func (s *Store) ListPending(ctx context.Context, kind relationships.Kind, userID string, direction relationships.Direction, limit int) ([]relationships.RequestRecord, error) {
	tables, err := repositories.TablesFor(kind)
	if err != nil {
		return nil, err
	}

	column := "receiver_id"
	if direction == relationships.DirectionOutgoing {
		column = "sender_id"
	}

	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s
WHERE %s = ? AND status = 'pending'
ORDER BY created_at DESC, id DESC
LIMIT ?`, repositories.RequestColumns, tables.Requests, column), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tables.Requests, err)
	}
	defer rows.Close()
	return collectRequests(rows, kind, tables.Requests)
}

type relationshipTx struct {
	tx     *sql.Tx
	tables repositories.RelationshipTables
	kind   relationships.Kind
}

func (t *relationshipTx) FindEdge(ctx context.Context, pair relationships.Pair) (relationships.EdgeRecord, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s WHERE pair_low = ? AND pair_high = ?`, repositories.EdgeColumns, t.tables.Edges), pair.Low, pair.High)
	edge, err := scanEdge(row, t.kind)
	if err != nil {
		return relationships.EdgeRecord{}, noRows(err, "select edge")
	}
	return edge, nil
}

func (t *relationshipTx) FindRequest(ctx context.Context, requestID string) (relationships.RequestRecord, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s WHERE id = ?`, repositories.RequestColumns, t.tables.Requests), requestID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "select request")
	}
	return request, nil
}

func (t *relationshipTx) FindPending(ctx context.Context, senderID, receiverID string) (relationships.RequestRecord, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s
WHERE sender_id = ? AND receiver_id = ? AND status = 'pending'`, repositories.RequestColumns, t.tables.Requests), senderID, receiverID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "select pending request")
	}
	return request, nil
}

func (t *relationshipTx) InsertRequest(ctx context.Context, request relationships.RequestRecord) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`, t.tables.Requests, repositories.RequestColumns),
		request.ID, request.SenderID, request.ReceiverID, string(request.Status), request.Message,
		toMillis(request.CreatedAt), toMillis(request.UpdatedAt))
	if err != nil {
		return writeErr(err, "insert request")
	}
	return conflictIfUnchanged(res)
}

func (t *relationshipTx) TransitionRequest(ctx context.Context, requestID string, party relationships.Party, callerID string, status relationships.RequestStatus, at time.Time) (relationships.RequestRecord, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = ?, updated_at = ?
WHERE id = ? AND status = 'pending' AND %s = ?
RETURNING %s`, t.tables.Requests, repositories.PartyColumn(party), repositories.RequestColumns),
		string(status), toMillis(at), requestID, callerID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "update request")
	}
	return request, nil
}

func (t *relationshipTx) DeleteResolved(ctx context.Context, senderID, receiverID string) ([]relationships.RequestRecord, error) {
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE sender_id = ? AND receiver_id = ? AND status <> 'pending'
RETURNING %s`, t.tables.Requests, repositories.RequestColumns), senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("delete resolved requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows, t.kind, t.tables.Requests)
}

func (t *relationshipTx) DeleteRequestsBetween(ctx context.Context, pair relationships.Pair) ([]relationships.RequestRecord, error) {
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE (sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1)
RETURNING %s`, t.tables.Requests, repositories.RequestColumns), pair.Low, pair.High)
	if err != nil {
		return nil, fmt.Errorf("delete requests between pair: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows, t.kind, t.tables.Requests)
}

func (t *relationshipTx) InsertEdge(ctx context.Context, edge relationships.EdgeRecord) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES (?, ?, ?, ?)
ON CONFLICT DO NOTHING`, t.tables.Edges, repositories.EdgeColumns),
		edge.ID, edge.Pair.Low, edge.Pair.High, toMillis(edge.CreatedAt))
	if err != nil {
		return writeErr(err, "insert edge")
	}
	return conflictIfUnchanged(res)
}

func (t *relationshipTx) DeleteEdge(ctx context.Context, pair relationships.Pair) (relationships.EdgeRecord, error) {
	row := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE pair_low = ? AND pair_high = ?
RETURNING %s`, t.tables.Edges, repositories.EdgeColumns), pair.Low, pair.High)
	edge, err := scanEdge(row, t.kind)
	if err != nil {
		return relationships.EdgeRecord{}, noRows(err, "delete edge")
	}
	return edge, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner, kind relationships.Kind) (relationships.RequestRecord, error) {
	var (
		request              relationships.RequestRecord
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&request.ID, &request.SenderID, &request.ReceiverID, &status, &request.Message, &createdAt, &updatedAt); err != nil {
		return relationships.RequestRecord{}, err
	}
	request.Kind = kind
	request.Status = relationships.RequestStatus(status)
	request.CreatedAt = fromMillis(createdAt)
	request.UpdatedAt = fromMillis(updatedAt)
	return request, nil
}

func scanEdge(row scanner, kind relationships.Kind) (relationships.EdgeRecord, error) {
	var (
		edge      relationships.EdgeRecord
		createdAt int64
	)
	if err := row.Scan(&edge.ID, &edge.Pair.Low, &edge.Pair.High, &createdAt); err != nil {
		return relationships.EdgeRecord{}, err
	}
	edge.Kind = kind
	edge.CreatedAt = fromMillis(createdAt)
	return edge, nil
}

func collectRequests(rows *sql.Rows, kind relationships.Kind, table string) ([]relationships.RequestRecord, error) {
	var out []relationships.RequestRecord
	for rows.Next() {
		request, err := scanRequest(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func conflictIfUnchanged(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return relationships.ErrConflict
	}
	return nil
}

func noRows(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return relationships.ErrNoRows
	}
	return fmt.Errorf("%s: %w", op, err)
}

func writeErr(err error, op string) error {
	switch {
	case isUniqueViolation(err):
		return relationships.ErrConflict
	case isForeignKeyViolation(err):
		return relationships.ErrUnknownUser
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ relationships.Store = (*Store)(nil)
