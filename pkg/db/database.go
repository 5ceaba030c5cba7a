package db

import (
	"context"
	"log"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Database is the entry point of a backend. Every session gets its own lazily connected Connection,
// so goroutines working in different sessions never share a native handle. A connection opened
// with Connect takes priority and is returned to all sessions.
type Database struct {
	backend Backend

	mu       sync.Mutex // guards params, explicit and sessions, never held while talking to the backend
	params   Params
	explicit *Connection
	sessions map[SessionID]*Connection
}

// New makes a database facade for the backend. Nothing is connected until the first use.
func New(b Backend, params Params) *Database {
	return &Database{backend: b, params: params, sessions: map[SessionID]*Connection{}}
}

// Backend returns the backend of the database.
func (d *Database) Backend() Backend { return d.backend }

// Params returns the parameters new connections are made with.
func (d *Database) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Connect opens the explicit connection used by all sessions until Disconnect.
func (d *Database) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.explicit != nil {
		d.mu.Unlock()
		return nil
	}
	params := d.params
	d.mu.Unlock()

	c := NewConnection(d.backend, params)
	if err := c.Connect(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.explicit != nil {
		// connected concurrently, keep the first one
		if err := c.Disconnect(); err != nil {
			log.Printf("[WARN] %v", err)
		}
		return nil
	}
	d.explicit = c
	return nil
}

// Disconnect closes the explicit connection, sessions get their own connections again.
func (d *Database) Disconnect() error {
	d.mu.Lock()
	c := d.explicit
	d.explicit = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Disconnect()
}

// RetrieveConnection returns the connection of the session of ctx, connecting a new one on first use.
// The explicit connection, if any, is returned instead.
func (d *Database) RetrieveConnection(ctx context.Context) (*Connection, error) {
	id := SessionFrom(ctx)

	d.mu.Lock()
	if d.explicit != nil {
		c := d.explicit
		d.mu.Unlock()
		return c, nil
	}
	c, ok := d.sessions[id]
	params := d.params
	d.mu.Unlock()

	if ok {
		// a session is used by one goroutine at a time, reconnecting it needs no lock
		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				return nil, err
			}
		}
		return c, nil
	}

	c = NewConnection(d.backend, params)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.sessions[id]; ok {
		log.Printf("[WARN] session %q connected twice, extra connection closed", id)
		if err := c.Disconnect(); err != nil {
			log.Printf("[WARN] %v", err)
		}
		return existing, nil
	}
	d.sessions[id] = c
	log.Printf("[DEBUG] session %q connected, %d sessions", id, len(d.sessions))
	return c, nil
}

// RemoveConnection disconnects and forgets the connection of the session of ctx.
func (d *Database) RemoveConnection(ctx context.Context) error {
	id := SessionFrom(ctx)
	d.mu.Lock()
	c, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	log.Printf("[DEBUG] session %q removed", id)
	return c.Disconnect()
}

// Session runs fn in a new session and removes the session connection after fn returns.
func (d *Database) Session(ctx context.Context, fn func(ctx context.Context, c *Connection) error) error {
	ctx, _ = NewSession(ctx)
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.RemoveConnection(ctx); err != nil {
			log.Printf("[WARN] can't remove session: %v", err)
		}
	}()
	return fn(ctx, c)
}

// Sessions returns the number of connected sessions, the explicit connection excluded.
func (d *Database) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Close disconnects the explicit connection and all sessions.
func (d *Database) Close() error {
	d.mu.Lock()
	conns := make([]*Connection, 0, len(d.sessions)+1)
	if d.explicit != nil {
		conns = append(conns, d.explicit)
	}
	for _, c := range d.sessions {
		conns = append(conns, c)
	}
	d.explicit, d.sessions = nil, map[SessionID]*Connection{}
	d.mu.Unlock()

	errs := new(multierror.Error)
	for _, c := range conns {
		errs = multierror.Append(errs, c.Disconnect())
	}
	return errs.ErrorOrNil()
}

// BeginTransaction opens a transaction on the session connection.
func (d *Database) BeginTransaction(ctx context.Context, name string) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	return c.BeginTransaction(ctx, name)
}

// Commit commits the transaction of the session connection.
func (d *Database) Commit(ctx context.Context) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

// RollBack rolls back the transaction of the session connection.
func (d *Database) RollBack(ctx context.Context) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	return c.RollBack(ctx)
}

// ExecuteUpdate runs query without parameters on the session connection, see Connection.ExecuteUpdate.
func (d *Database) ExecuteUpdate(ctx context.Context, query string) (bool, error) {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return false, err
	}
	return c.ExecuteUpdate(ctx, query)
}

// ExecuteSelect runs query without parameters on the session connection, see Connection.ExecuteSelect.
func (d *Database) ExecuteSelect(ctx context.Context, query string) (*Result, error) {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return nil, err
	}
	return c.ExecuteSelect(ctx, query)
}

// NewStatement makes a statement on the session connection.
func (d *Database) NewStatement(ctx context.Context, query string) (*Statement, error) {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return nil, err
	}
	return c.NewStatement(query), nil
}

// NewQuery makes a text query on the session connection.
func (d *Database) NewQuery(ctx context.Context, query string) (*Query, error) {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return nil, err
	}
	return c.NewQuery(query), nil
}

// CreateDatabase creates a database on the server.
func (d *Database) CreateDatabase(ctx context.Context, name string) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	return c.CreateDatabase(ctx, name)
}

// DestroyDatabase drops a database from the server.
func (d *Database) DestroyDatabase(ctx context.Context, name string) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	return c.DestroyDatabase(ctx, name)
}

// SelectDatabase switches the session connection to the database. Connections made after that
// use it too, connections of other sessions stay where they are.
func (d *Database) SelectDatabase(ctx context.Context, name string) error {
	c, err := d.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	if err := c.SelectDatabase(ctx, name); err != nil {
		return err
	}
	d.mu.Lock()
	d.params.Database = name
	d.mu.Unlock()
	return nil
}
