package client

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/db/util"
	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/query"
	"github.com/aspendb/aspen/lib/watch"
	"github.com/aspendb/aspen/rpc/common"
	"github.com/aspendb/aspen/rpc/serializer"
	"github.com/aspendb/aspen/rpc/transport"
)

// NewClient creates a remote client for one served database.
// The function takes the database name, a config, a transport and a
// serializer as parameters. Operations address collections by name; each
// call is one remote round trip executed in its own server transaction.
func NewClient(
	dbName string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Client, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &Client{
		dbID:       uint64(util.HashString(dbName, 0)),
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// Client is the remote surface of one database: collection operations,
// queries, change polling and info, all over the RPC transport.
type Client struct {
	dbID       uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// --------------------------------------------------------------------------
// Collection Operations
// --------------------------------------------------------------------------

// Insert stores a new record, failing if the primary key exists
func (c *Client) Insert(collection string, rec object.Record) error {
	encoded, err := common.EncodeRecord(rec)
	if err != nil {
		return err
	}
	req := common.NewInsertRequest(collection, encoded)
	_, err = invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	return err
}

// Upsert stores a record, replacing any existing version
func (c *Client) Upsert(collection string, rec object.Record) error {
	encoded, err := common.EncodeRecord(rec)
	if err != nil {
		return err
	}
	req := common.NewUpsertRequest(collection, encoded)
	_, err = invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	return err
}

// Get loads the record with the given primary key value
func (c *Client) Get(collection string, pk interface{}) (object.Record, bool, error) {
	key, err := common.EncodePrimaryKey(pk)
	if err != nil {
		return nil, false, err
	}

	req := common.NewGetRequest(collection, key)
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return nil, false, err
	}
	if !resp.Ok {
		return nil, false, nil
	}

	rec, err := common.DecodeRecord(resp.Value)
	return rec, true, err
}

// Has reports whether a record with the primary key exists
func (c *Client) Has(collection string, pk interface{}) (bool, error) {
	key, err := common.EncodePrimaryKey(pk)
	if err != nil {
		return false, err
	}

	req := common.NewHasRequest(collection, key)
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// Delete removes the record with the primary key. The bool reports whether
// anything was removed.
func (c *Client) Delete(collection string, pk interface{}) (bool, error) {
	key, err := common.EncodePrimaryKey(pk)
	if err != nil {
		return false, err
	}

	req := common.NewDeleteRequest(collection, key)
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Query evaluates a query on the server and returns all matches. The
// query's sort and paging run server-side.
func (c *Client) Query(q *query.Query) ([]object.Record, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, errors.Wrap(err, "encode query")
	}

	req := common.NewQueryRequest(raw)
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, nil
	}
	return common.DecodeRecords(resp.Value)
}

// --------------------------------------------------------------------------
// Change Polling
// --------------------------------------------------------------------------

// Changes polls the change sets of a collection committed after since.
// The returned latest id is the floor for the next poll; the server's poll
// log starts with the first poll, so earlier commits are never returned.
func (c *Client) Changes(collection string, since uint64) ([]watch.ChangeSet, uint64, error) {
	req := common.NewChangesRequest(collection, since)
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return nil, 0, err
	}

	sets, err := common.DecodeChangeSets(resp.Meta)
	if err != nil {
		return nil, 0, err
	}
	return sets, resp.Since, nil
}

// --------------------------------------------------------------------------
// Database Info
// --------------------------------------------------------------------------

// Info returns the server-side database info
func (c *Client) Info() (db.DatabaseInfo, error) {
	req := common.NewInfoRequest()
	resp, err := invokeRPCRequest(c.dbID, req, c.transport, c.serializer)
	if err != nil {
		return db.DatabaseInfo{}, err
	}

	var info db.DatabaseInfo
	err = json.Unmarshal(resp.Meta, &info)
	return info, errors.Wrap(err, "decode database info")
}

// Close closes the underlying transport
func (c *Client) Close() error {
	return c.transport.Close()
}
