package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

const eventCols = `id, recorded, actor_id, actor_role, action, method, route, entity_id, status, ip_address, request_id`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var ip, rid *string
	err := row.Scan(&e.ID, &e.Recorded, &e.ActorID, &e.ActorRole, &e.Action, &e.Method,
		&e.Route, &e.EntityID, &e.Status, &ip, &rid)
	if err != nil {
		return nil, err
	}
	if ip != nil {
		e.IPAddress = *ip
	}
	if rid != nil {
		e.RequestID = *rid
	}
	return &e, nil
}

func (s *storePG) Record(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_event (id, actor_id, actor_role, action, method, route, entity_id, status, ip_address, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		RETURNING recorded`,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.Method, e.Route, e.EntityID, e.Status, e.IPAddress, e.RequestID,
	).Scan(&e.Recorded)
}

func (s *storePG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Event, int, error) {
	qb := db.NewSearchQuery("audit_event", eventCols)
	if f.ActorID != nil {
		qb.AddEqual("actor_id", *f.ActorID)
	}
	if f.EntityID != nil {
		qb.AddEqual("entity_id", *f.EntityID)
	}
	if f.Action != "" {
		qb.AddEqual("action", f.Action)
	}
	if f.From != nil {
		qb.Add(fmt.Sprintf("recorded >= $%d", qb.Idx()), *f.From)
	}
	if f.To != nil {
		qb.Add(fmt.Sprintf("recorded < $%d", qb.Idx()), *f.To)
	}
	qb.OrderBy("recorded DESC, id")

	var total int
	if err := s.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
