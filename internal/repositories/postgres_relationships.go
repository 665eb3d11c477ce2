package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/campusfriends/backend/internal/db"
	"github.com/campusfriends/backend/internal/relationships"
)

// PostgresRelationshipStore persists request ledgers and edges in PostgreSQL
// or CockroachDB. Units of work run as serializable transactions and are
// retried on serialization failures.
type PostgresRelationshipStore struct {
	pool db.Pool
}

// NewPostgresRelationshipStore constructs a relationship store backed by PostgreSQL.
func NewPostgresRelationshipStore(pool db.Pool) *PostgresRelationshipStore {
	return &PostgresRelationshipStore{pool: pool}
}

// View runs fn inside a read-only transaction.
func (s *PostgresRelationshipStore) View(ctx context.Context, kind relationships.Kind, fn func(relationships.Tx) error) error {
	return s.run(ctx, kind, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly}, fn)
}

// Update runs fn inside a read-write transaction.
func (s *PostgresRelationshipStore) Update(ctx context.Context, kind relationships.Kind, fn func(relationships.Tx) error) error {
	return s.run(ctx, kind, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func (s *PostgresRelationshipStore) run(ctx context.Context, kind relationships.Kind, opts pgx.TxOptions, fn func(relationships.Tx) error) error {
	tables, err := TablesFor(kind)
	if err != nil {
		return err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return crdbpgx.ExecuteTx(ctx, conn, opts, func(tx pgx.Tx) error {
		return fn(&pgRelationshipTx{tx: tx, tables: tables, kind: kind})
	})
}

// CountEdges counts the edges userID belongs to.
func (s *PostgresRelationshipStore) CountEdges(ctx context.Context, kind relationships.Kind, userID string) (int, error) {
	tables, err := TablesFor(kind)
	if err != nil {
		return 0, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int64
	err = conn.QueryRow(ctx, fmt.Sprintf(`
        SELECT count(*) FROM %s WHERE pair_low = $1 OR pair_high = $1
    `, tables.Edges), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", tables.Edges, err)
	}
	return int(count), nil
}

// ListEdges returns userID's edges ordered by the other member's id, starting after the cursor.
func (s *PostgresRelationshipStore) ListEdges(ctx context.Context, kind relationships.Kind, userID string, limit int, after string) ([]relationships.EdgeRecord, error) {
	tables, err := TablesFor(kind)
	if err != nil {
		return nil, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM (
            SELECT %s, CASE WHEN pair_low = $1 THEN pair_high ELSE pair_low END AS other_id
            FROM %s
            WHERE pair_low = $1 OR pair_high = $1
        ) AS e
        WHERE other_id > $2
        ORDER BY other_id
        LIMIT $3
    `, EdgeColumns, EdgeColumns, tables.Edges), userID, after, limit)
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
func (s *PostgresRelationshipStore) ListPending(ctx context.Context, kind relationships.Kind, userID string, direction relationships.Direction, limit int) ([]relationships.RequestRecord, error) {
	tables, err := TablesFor(kind)
	if err != nil {
		return nil, err
	}

	column := "receiver_id"
	if direction == relationships.DirectionOutgoing {
		column = "sender_id"
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE %s = $1 AND status = 'pending'
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `, RequestColumns, tables.Requests, column), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tables.Requests, err)
	}
	defer rows.Close()

	return collectRequests(rows, kind, tables.Requests)
}

type pgRelationshipTx struct {
	tx     pgx.Tx
	tables RelationshipTables
	kind   relationships.Kind
}

func (t *pgRelationshipTx) FindEdge(ctx context.Context, pair relationships.Pair) (relationships.EdgeRecord, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE pair_low = $1 AND pair_high = $2
    `, EdgeColumns, t.tables.Edges), pair.Low, pair.High)
	edge, err := scanEdge(row, t.kind)
	if err != nil {
		return relationships.EdgeRecord{}, noRows(err, "select edge")
	}
	return edge, nil
}

func (t *pgRelationshipTx) FindRequest(ctx context.Context, requestID string) (relationships.RequestRecord, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s WHERE id = $1
    `, RequestColumns, t.tables.Requests), requestID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "select request")
	}
	return request, nil
}

func (t *pgRelationshipTx) FindPending(ctx context.Context, senderID, receiverID string) (relationships.RequestRecord, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE sender_id = $1 AND receiver_id = $2 AND status = 'pending'
    `, RequestColumns, t.tables.Requests), senderID, receiverID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "select pending request")
	}
	return request, nil
}

func (t *pgRelationshipTx) InsertRequest(ctx context.Context, request relationships.RequestRecord) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT DO NOTHING
    `, t.tables.Requests, RequestColumns),
		request.ID, request.SenderID, request.ReceiverID, string(request.Status), request.Message, request.CreatedAt, request.UpdatedAt)
	if err != nil {
		return writeErr(err, "insert request")
	}
	if tag.RowsAffected() == 0 {
		return relationships.ErrConflict
	}
	return nil
}

func (t *pgRelationshipTx) TransitionRequest(ctx context.Context, requestID string, party relationships.Party, callerID string, status relationships.RequestStatus, at time.Time) (relationships.RequestRecord, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET status = $2, updated_at = $3
        WHERE id = $1 AND status = 'pending' AND %s = $4
        RETURNING %s
    `, t.tables.Requests, PartyColumn(party), RequestColumns), requestID, string(status), at, callerID)
	request, err := scanRequest(row, t.kind)
	if err != nil {
		return relationships.RequestRecord{}, noRows(err, "update request")
	}
	return request, nil
}

func (t *pgRelationshipTx) DeleteResolved(ctx context.Context, senderID, receiverID string) ([]relationships.RequestRecord, error) {
	rows, err := t.tx.Query(ctx, fmt.Sprintf(`
        DELETE FROM %s
        WHERE sender_id = $1 AND receiver_id = $2 AND status <> 'pending'
        RETURNING %s
    `, t.tables.Requests, RequestColumns), senderID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("delete resolved requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows, t.kind, t.tables.Requests)
}

func (t *pgRelationshipTx) DeleteRequestsBetween(ctx context.Context, pair relationships.Pair) ([]relationships.RequestRecord, error) {
	rows, err := t.tx.Query(ctx, fmt.Sprintf(`
        DELETE FROM %s
        WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
        RETURNING %s
    `, t.tables.Requests, RequestColumns), pair.Low, pair.High)
	if err != nil {
		return nil, fmt.Errorf("delete requests between pair: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows, t.kind, t.tables.Requests)
}

func (t *pgRelationshipTx) InsertEdge(ctx context.Context, edge relationships.EdgeRecord) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT DO NOTHING
    `, t.tables.Edges, EdgeColumns), edge.ID, edge.Pair.Low, edge.Pair.High, edge.CreatedAt)
	if err != nil {
		return writeErr(err, "insert edge")
	}
	if tag.RowsAffected() == 0 {
		return relationships.ErrConflict
	}
	return nil
}

func (t *pgRelationshipTx) DeleteEdge(ctx context.Context, pair relationships.Pair) (relationships.EdgeRecord, error) {
	row := t.tx.QueryRow(ctx, fmt.Sprintf(`
        DELETE FROM %s
        WHERE pair_low = $1 AND pair_high = $2
        RETURNING %s
    `, t.tables.Edges, EdgeColumns), pair.Low, pair.High)
	edge, err := scanEdge(row, t.kind)
	if err != nil {
		return relationships.EdgeRecord{}, noRows(err, "delete edge")
	}
	return edge, nil
}

func scanRequest(row pgx.Row, kind relationships.Kind) (relationships.RequestRecord, error) {
	var (
		request relationships.RequestRecord
		status  string
	)
	if err := row.Scan(&request.ID, &request.SenderID, &request.ReceiverID, &status, &request.Message, &request.CreatedAt, &request.UpdatedAt); err != nil {
		return relationships.RequestRecord{}, err
	}
	request.Kind = kind
	request.Status = relationships.RequestStatus(status)
	request.CreatedAt = request.CreatedAt.UTC()
	request.UpdatedAt = request.UpdatedAt.UTC()
	return request, nil
}

func scanEdge(row pgx.Row, kind relationships.Kind) (relationships.EdgeRecord, error) {
	var edge relationships.EdgeRecord
	if err := row.Scan(&edge.ID, &edge.Pair.Low, &edge.Pair.High, &edge.CreatedAt); err != nil {
		return relationships.EdgeRecord{}, err
	}
	edge.Kind = kind
	edge.CreatedAt = edge.CreatedAt.UTC()
	return edge, nil
}

func collectRequests(rows pgx.Rows, kind relationships.Kind, table string) ([]relationships.RequestRecord, error) {
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

func noRows(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return relationships.ErrNoRows
	}
	return fmt.Errorf("%s: %w", op, err)
}

func writeErr(err error, op string) error {
	switch pgCode(err) {
	case pgUniqueViolation:
		return relationships.ErrConflict
	case pgForeignKeyViolation:
		return relationships.ErrUnknownUser
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ relationships.Store = (*PostgresRelationshipStore)(nil)
