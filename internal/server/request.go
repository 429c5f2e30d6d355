package server

import (
	"context"

	"blockserver/internal/auth"
	"blockserver/internal/database"
	"blockserver/internal/dbpool"
)

// request carries the per-request state every handler needs. It is created
// by newRequest and must be torn down exactly once.
type request struct {
	srv   *Server
	lease *dbpool.Lease
	db    *database.UserDatabase
	user  *auth.User
}

// newRequest gives the request a lazy database lease. Metrics are handled by
// Observe.
func (s *Server) newRequest() *request {
	return &request{
		srv:   s,
		lease: s.Config.Broker.Lease(),
	}
}

// teardown returns the leased connection, if any. It runs on every exit
// path.
func (rq *request) teardown() {
	rq.lease.Release()
}

// database returns the user database on the request's leased connection,
// borrowing the connection on first use.
func (rq *request) database(ctx context.Context) (*database.UserDatabase, error) {
	if rq.db != nil {
		return rq.db, nil
	}

	conn, err := rq.lease.Conn(ctx)
	if err != nil {
		return nil, err
	}

	rq.db = database.New(conn, rq.srv.Config.DefaultQuota)
	return rq.db, nil
}
