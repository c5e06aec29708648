package orderstore

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "github.com/lib/pq"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// PostgresStore is the schema-of-record, using the $-placeholder style
// and generic scanner-interface trick, extended with segments/
// escrow_records/progress_log child tables.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection with Ping.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("orderstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("orderstore: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Put(order *types.Order) error {
	query := `
		INSERT INTO orders (
			order_id, kind, src_chain, dst_chain, src_token, dst_token,
			src_amount, dst_amount, market_price, slippage,
			buyer_src_address, buyer_dst_address, hash_lock, status,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

	_, err := p.db.Exec(query,
		order.OrderID, order.Kind, order.SrcChain, order.DstChain,
		order.SrcToken, order.DstToken,
		order.SrcAmount.String(), order.DstAmount.String(),
		order.MarketPrice.Text('f', -1), order.Slippage,
		order.BuyerSrcAddress, order.BuyerDstAddress,
		order.HashLock[:], order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("orderstore: put order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(orderID string) (*types.Order, error) {
	query := `
		SELECT order_id, kind, src_chain, dst_chain, src_token, dst_token,
		       src_amount, dst_amount, market_price, slippage,
		       buyer_src_address, buyer_dst_address, hash_lock, status,
		       created_at, updated_at
		FROM orders WHERE order_id = $1`
	return p.scanOrder(p.db.QueryRow(query, orderID))
}

// Patch reads-under-transaction, applies mutate, and performs the
// status-DAG compare-and-set as part of the same UPDATE's WHERE
// clause, so a concurrent writer racing on status loses the race
// rather than silently overwriting it (ErrCASConflict).
func (p *PostgresStore) Patch(orderID string, mutate Mutator) (*types.Order, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("orderstore: begin patch: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT order_id, kind, src_chain, dst_chain, src_token, dst_token,
		       src_amount, dst_amount, market_price, slippage,
		       buyer_src_address, buyer_dst_address, hash_lock, status,
		       created_at, updated_at
		FROM orders WHERE order_id = $1 FOR UPDATE`, orderID)
	order, err := p.scanOrder(row)
	if err != nil {
		return nil, err
	}

	prevStatus := order.Status
	if types.TerminalStatuses[prevStatus] {
		return nil, types.ErrInvalidTransition
	}
	if err := mutate(order); err != nil {
		return nil, err
	}
	if order.Status != prevStatus && !types.CanTransition(prevStatus, order.Status) {
		return nil, types.ErrInvalidTransition
	}
	order.UpdatedAt = time.Now()

	res, err := tx.Exec(`
		UPDATE orders SET status=$1, updated_at=$2 WHERE order_id=$3 AND status=$4`,
		order.Status, order.UpdatedAt, orderID, prevStatus)
	if err != nil {
		return nil, fmt.Errorf("orderstore: patch update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("orderstore: patch rows affected: %w", err)
	}
	if rows == 0 {
		return nil, types.ErrCASConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("orderstore: commit patch: %w", err)
	}
	return order, nil
}

func (p *PostgresStore) Scan(filter Filter) ([]*types.Order, error) {
	query := `
		SELECT order_id, kind, src_chain, dst_chain, src_token, dst_token,
		       src_amount, dst_amount, market_price, slippage,
		       buyer_src_address, buyer_dst_address, hash_lock, status,
		       created_at, updated_at
		FROM orders WHERE ($1 = '' OR status = $1) AND ($2 = '' OR buyer_src_address = $2)
		ORDER BY created_at DESC`

	statusArg := ""
	if filter.Status != nil {
		statusArg = string(*filter.Status)
	}
	rows, err := p.db.Query(query, statusArg, filter.Maker)
	if err != nil {
		return nil, fmt.Errorf("orderstore: scan: %w", err)
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := p.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (p *PostgresStore) scanOrder(scanner interface {
	Scan(dest ...interface{}) error
}) (*types.Order, error) {
	o := &types.Order{}
	var srcAmountStr, dstAmountStr, marketPriceStr string
	var hashLock []byte

	err := scanner.Scan(
		&o.OrderID, &o.Kind, &o.SrcChain, &o.DstChain, &o.SrcToken, &o.DstToken,
		&srcAmountStr, &dstAmountStr, &marketPriceStr, &o.Slippage,
		&o.BuyerSrcAddress, &o.BuyerDstAddress, &hashLock, &o.Status,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("orderstore: scan order: %w", err)
	}

	if o.SrcAmount, err = types.ParseBigInt(srcAmountStr); err != nil {
		return nil, fmt.Errorf("orderstore: parse src amount: %w", err)
	}
	if o.DstAmount, err = types.ParseBigInt(dstAmountStr); err != nil {
		return nil, fmt.Errorf("orderstore: parse dst amount: %w", err)
	}
	mp, ok := new(big.Float).SetString(marketPriceStr)
	if !ok {
		return nil, fmt.Errorf("orderstore: parse market price %q", marketPriceStr)
	}
	o.MarketPrice = mp
	copy(o.HashLock[:], hashLock)

	return o, nil
}

// The remaining child-record operations (segments, escrow records,
// progress log) persist to their own tables using the same
// placeholder-and-scanner idiom as Put/Get above.

func (p *PostgresStore) PutSegment(seg *types.Segment) error {
	_, err := p.db.Exec(`
		INSERT INTO segments (order_id, segment_id, amount, start_price, end_price,
			current_price, tick_count, winner, status, leaf_hash, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (order_id, segment_id) DO UPDATE SET
			current_price = EXCLUDED.current_price, tick_count = EXCLUDED.tick_count,
			winner = EXCLUDED.winner, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		seg.OrderID, seg.ID, seg.Amount.String(),
		seg.StartPrice.Text('f', -1), seg.EndPrice.Text('f', -1), seg.CurrentPrice.String(),
		seg.TickCount, seg.Winner, seg.Status, seg.LeafHash[:], seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("orderstore: put segment: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSegment(orderID string, segmentID int) (*types.Segment, error) {
	row := p.db.QueryRow(`
		SELECT order_id, segment_id, amount, start_price, end_price, current_price,
		       tick_count, winner, status, leaf_hash, updated_at
		FROM segments WHERE order_id=$1 AND segment_id=$2`, orderID, segmentID)
	return p.scanSegment(row)
}

func (p *PostgresStore) scanSegment(row *sql.Row) (*types.Segment, error) {
	s := &types.Segment{}
	var amountStr, startStr, endStr, curStr string
	var leafHash []byte
	err := row.Scan(&s.OrderID, &s.ID, &amountStr, &startStr, &endStr, &curStr,
		&s.TickCount, &s.Winner, &s.Status, &leafHash, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrUnknownSegment
	}
	if err != nil {
		return nil, fmt.Errorf("orderstore: scan segment: %w", err)
	}
	if s.Amount, err = types.ParseBigInt(amountStr); err != nil {
		return nil, err
	}
	var ok bool
	if s.StartPrice, ok = new(big.Float).SetString(startStr); !ok {
		return nil, fmt.Errorf("orderstore: parse start price %q", startStr)
	}
	if s.EndPrice, ok = new(big.Float).SetString(endStr); !ok {
		return nil, fmt.Errorf("orderstore: parse end price %q", endStr)
	}
	s.CurrentPrice, ok = new(big.Int).SetString(curStr, 10)
	if !ok {
		return nil, fmt.Errorf("orderstore: parse current price %q", curStr)
	}
	copy(s.LeafHash[:], leafHash)
	return s, nil
}

func (p *PostgresStore) PatchSegment(orderID string, segmentID int, mutate func(*types.Segment) error) (*types.Segment, error) {
	seg, err := p.GetSegment(orderID, segmentID)
	if err != nil {
		return nil, err
	}
	if err := mutate(seg); err != nil {
		return nil, err
	}
	seg.UpdatedAt = time.Now()
	if err := p.PutSegment(seg); err != nil {
		return nil, err
	}
	return seg, nil
}

func (p *PostgresStore) ListSegments(orderID string) ([]*types.Segment, error) {
	rows, err := p.db.Query(`
		SELECT order_id, segment_id, amount, start_price, end_price, current_price,
		       tick_count, winner, status, leaf_hash, updated_at
		FROM segments WHERE order_id=$1 ORDER BY segment_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orderstore: list segments: %w", err)
	}
	defer rows.Close()

	var out []*types.Segment
	for rows.Next() {
		s := &types.Segment{}
		var amountStr, startStr, endStr, curStr string
		var leafHash []byte
		if err := rows.Scan(&s.OrderID, &s.ID, &amountStr, &startStr, &endStr, &curStr,
			&s.TickCount, &s.Winner, &s.Status, &leafHash, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("orderstore: scan segment row: %w", err)
		}
		s.Amount, _ = types.ParseBigInt(amountStr)
		s.StartPrice, _ = new(big.Float).SetString(startStr)
		s.EndPrice, _ = new(big.Float).SetString(endStr)
		s.CurrentPrice, _ = new(big.Int).SetString(curStr, 10)
		copy(s.LeafHash[:], leafHash)
		out = append(out, s)
	}
	return out, nil
}

func (p *PostgresStore) PutEscrow(rec *types.EscrowRecord) error {
	var segID sql.NullInt64
	if rec.SegmentID != nil {
		segID = sql.NullInt64{Int64: int64(*rec.SegmentID), Valid: true}
	}
	_, err := p.db.Exec(`
		INSERT INTO escrow_records (order_id, segment_id, side, address, creation_tx_hash,
			created_at, observed_funded_at, withdrawal_tx_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (order_id, side, COALESCE(segment_id, -1)) DO UPDATE SET
			observed_funded_at = EXCLUDED.observed_funded_at,
			withdrawal_tx_hash = EXCLUDED.withdrawal_tx_hash`,
		rec.OrderID, segID, rec.Side, rec.Address, rec.CreationTxHash,
		rec.CreatedAt, rec.ObservedFunded, rec.WithdrawalTx)
	if err != nil {
		return fmt.Errorf("orderstore: put escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetEscrow(orderID string, segmentID *int, side types.EscrowSide) (*types.EscrowRecord, error) {
	var segID sql.NullInt64
	if segmentID != nil {
		segID = sql.NullInt64{Int64: int64(*segmentID), Valid: true}
	}
	row := p.db.QueryRow(`
		SELECT order_id, segment_id, side, address, creation_tx_hash, created_at,
		       observed_funded_at, withdrawal_tx_hash
		FROM escrow_records WHERE order_id=$1 AND side=$2 AND COALESCE(segment_id,-1)=COALESCE($3,-1)`,
		orderID, side, segID)

	rec := &types.EscrowRecord{}
	var segIDOut sql.NullInt64
	var observed sql.NullTime
	err := row.Scan(&rec.OrderID, &segIDOut, &rec.Side, &rec.Address, &rec.CreationTxHash,
		&rec.CreatedAt, &observed, &rec.WithdrawalTx)
	if err == sql.ErrNoRows {
		return nil, types.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("orderstore: get escrow: %w", err)
	}
	if segIDOut.Valid {
		v := int(segIDOut.Int64)
		rec.SegmentID = &v
	}
	if observed.Valid {
		rec.ObservedFunded = &observed.Time
	}
	return rec, nil
}

func (p *PostgresStore) AppendProgress(ev types.ProgressEvent) error {
	var segID sql.NullInt64
	if ev.SegmentID != nil {
		segID = sql.NullInt64{Int64: int64(*ev.SegmentID), Valid: true}
	}
	_, err := p.db.Exec(`
		INSERT INTO progress_log (order_id, segment_id, step, details, ts)
		VALUES ($1,$2,$3,$4,$5)`, ev.OrderID, segID, ev.Step, ev.Details, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("orderstore: append progress: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListProgress(orderID string) ([]types.ProgressEvent, error) {
	rows, err := p.db.Query(`
		SELECT order_id, segment_id, step, details, ts FROM progress_log
		WHERE order_id=$1 ORDER BY ts ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orderstore: list progress: %w", err)
	}
	defer rows.Close()

	var out []types.ProgressEvent
	for rows.Next() {
		var ev types.ProgressEvent
		var segID sql.NullInt64
		if err := rows.Scan(&ev.OrderID, &segID, &ev.Step, &ev.Details, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("orderstore: scan progress row: %w", err)
		}
		if segID.Valid {
			v := int(segID.Int64)
			ev.SegmentID = &v
		}
		out = append(out, ev)
	}
	return out, nil
}
