package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/query"
	"github.com/aspendb/aspen/rpc/common"
)

// NewObjectServerAdapter creates the adapter mapping Messages onto one
// object store. The adapter keeps per-collection poll logs for Changes
// requests, so one instance serves exactly one database.
func NewObjectServerAdapter() IRPCServerAdapter {
	return &objectServerAdapterImpl{logs: map[string]*changeLog{}}
}

type objectServerAdapterImpl struct {
	mu   sync.Mutex
	logs map[string]*changeLog // collection -> poll log
}

func (adapter *objectServerAdapterImpl) Handle(req *common.Message, store *object.Store) *common.Message {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTObjInsert:
		return common.NewInsertResponse(adapter.write(store, req, insertOp))
	case common.MsgTObjUpsert:
		return common.NewUpsertResponse(adapter.write(store, req, upsertOp))
	case common.MsgTObjGet:
		rec, found, err := adapter.get(store, req)
		return common.NewGetResponse(rec, found, err)
	case common.MsgTObjHas:
		_, found, err := adapter.get(store, req)
		return common.NewHasResponse(found, err)
	case common.MsgTObjDelete:
		removed, err := adapter.delete(store, req)
		return common.NewDeleteResponse(removed, err)
	case common.MsgTObjQuery:
		records, err := adapter.query(store, req)
		return common.NewQueryResponse(records, err)
	case common.MsgTObjChanges:
		changes, latest, err := adapter.changes(store, req)
		return common.NewChangesResponse(changes, latest, err)
	case common.MsgTDBInfo:
		info, err := adapter.info(store)
		return common.NewInfoResponse(info, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC ObjectAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

const (
	insertOp = iota
	upsertOp
)

// write decodes the transported record and stores it
func (adapter *objectServerAdapterImpl) write(store *object.Store, req *common.Message, op int) error {
	rec, err := common.DecodeRecord(req.Value)
	if err != nil {
		return err
	}

	return store.Update(func(tx *object.Txn) error {
		ct, err := tx.Collection(req.Collection)
		if err != nil {
			return err
		}
		if op == insertOp {
			return ct.Insert(rec)
		}
		return ct.Upsert(rec)
	})
}

// get loads one record by primary key. A missing record is not an error,
// it reports found=false.
func (adapter *objectServerAdapterImpl) get(store *object.Store, req *common.Message) ([]byte, bool, error) {
	pk, err := common.DecodePrimaryKey(req.Key)
	if err != nil {
		return nil, false, err
	}

	var encoded []byte
	found := false
	err = store.View(func(tx *object.Txn) error {
		ct, err := tx.Collection(req.Collection)
		if err != nil {
			return err
		}
		rec, err := ct.Get(pk)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		encoded, err = common.EncodeRecord(rec)
		return err
	})
	return encoded, found, err
}

func (adapter *objectServerAdapterImpl) delete(store *object.Store, req *common.Message) (bool, error) {
	pk, err := common.DecodePrimaryKey(req.Key)
	if err != nil {
		return false, err
	}

	removed := false
	err = store.Update(func(tx *object.Txn) error {
		ct, err := tx.Collection(req.Collection)
		if err != nil {
			return err
		}
		removed, err = ct.Delete(pk)
		return err
	})
	return removed, err
}

// query runs a JSON-serialized query and returns the encoded match list
func (adapter *objectServerAdapterImpl) query(store *object.Store, req *common.Message) ([]byte, error) {
	var q query.Query
	if err := json.Unmarshal(req.Value, &q); err != nil {
		return nil, errors.Wrap(err, "parse query")
	}

	var out []object.Record
	err := store.View(func(tx *object.Txn) error {
		res, err := query.Run(tx, &q)
		if err != nil {
			return err
		}
		out, err = res.Collect()
		return err
	})
	if err != nil {
		return nil, err
	}
	return common.EncodeRecords(out)
}

// changes returns the change sets committed after req.Since together with
// the latest committed transaction id. The poll log for a collection is
// created on its first poll, so it covers commits from that point on.
func (adapter *objectServerAdapterImpl) changes(store *object.Store, req *common.Message) ([]byte, uint64, error) {
	adapter.mu.Lock()
	cl, ok := adapter.logs[req.Collection]
	if !ok {
		handle, err := store.Watch(req.Collection)
		if err != nil {
			adapter.mu.Unlock()
			return nil, 0, err
		}
		cl = newChangeLog(handle)
		adapter.logs[req.Collection] = cl
	}
	adapter.mu.Unlock()

	encoded, err := common.EncodeChangeSets(cl.since(req.Since))
	if err != nil {
		return nil, 0, err
	}
	return encoded, store.Engine().TxID(), nil
}

func (adapter *objectServerAdapterImpl) info(store *object.Store) ([]byte, error) {
	info, err := store.Engine().GetInfo()
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

// close drops all poll subscriptions
func (adapter *objectServerAdapterImpl) close() {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()

	for name, cl := range adapter.logs {
		cl.close()
		delete(adapter.logs, name)
	}
}
