package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Collection string `json:"collection,omitempty"` // Used for: Insert, Upsert, Get, Has, Delete, Changes
	Key        []byte `json:"key,omitempty"`        // JSON-encoded primary key value. Used for: Get, Has, Delete
	Since      uint64 `json:"since,omitempty"`      // Used for: Changes (request: floor, response: latest commit)
	Value      []byte `json:"value,omitempty"`      // Record, record list or query payload

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Get, Has, Delete responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info, Changes responses; free for custom adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewInsertRequest creates a new Insert request. The value is a wire-encoded
// record (see EncodeRecord).
func NewInsertRequest(collection string, rec []byte) *Message {
	return &Message{
		MsgType:    MsgTObjInsert,
		Collection: collection,
		Value:      rec,
	}
}

// NewInsertResponse creates a new Insert response
func NewInsertResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTObjInsert,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewUpsertRequest creates a new Upsert request
func NewUpsertRequest(collection string, rec []byte) *Message {
	return &Message{
		MsgType:    MsgTObjUpsert,
		Collection: collection,
		Value:      rec,
	}
}

// NewUpsertResponse creates a new Upsert response
func NewUpsertResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTObjUpsert,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewGetRequest creates a new Get request. The key is the JSON-encoded
// primary key value.
func NewGetRequest(collection string, pk []byte) *Message {
	return &Message{
		MsgType:    MsgTObjGet,
		Collection: collection,
		Key:        pk,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(rec []byte, found bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTObjGet,
		Value:   rec,
		Ok:      found,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewHasRequest creates a new Has request
func NewHasRequest(collection string, pk []byte) *Message {
	return &Message{
		MsgType:    MsgTObjHas,
		Collection: collection,
		Key:        pk,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(found bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTObjHas,
		Ok:      found,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(collection string, pk []byte) *Message {
	return &Message{
		MsgType:    MsgTObjDelete,
		Collection: collection,
		Key:        pk,
	}
}

// NewDeleteResponse creates a new Delete response. Ok reports whether a
// record was removed.
func NewDeleteResponse(removed bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTObjDelete,
		Ok:      removed,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewQueryRequest creates a new Query request. The value is the
// JSON-serialized query (collection, predicate tree, sort and paging).
func NewQueryRequest(queryJSON []byte) *Message {
	return &Message{
		MsgType: MsgTObjQuery,
		Value:   queryJSON,
	}
}

// NewQueryResponse creates a new Query response. The value is the
// wire-encoded record list (see EncodeRecords).
func NewQueryResponse(records []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTObjQuery,
		Value:   records,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewChangesRequest creates a new Changes request polling for change sets
// of a collection committed after since
func NewChangesRequest(collection string, since uint64) *Message {
	return &Message{
		MsgType:    MsgTObjChanges,
		Collection: collection,
		Since:      since,
	}
}

// NewChangesResponse creates a new Changes response. Meta carries the
// encoded change sets, Since the latest committed transaction id.
func NewChangesResponse(changes []byte, latest uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTObjChanges,
		Since:   latest,
		Meta:    changes,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{
		MsgType: MsgTDBInfo,
	}
}

// NewInfoResponse creates a new Info response. Meta carries the
// JSON-encoded database info.
func NewInfoResponse(info []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTDBInfo,
		Meta:    info,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTObjInsert:
		return "insert"
	case MsgTObjUpsert:
		return "upsert"
	case MsgTObjGet:
		return "get"
	case MsgTObjHas:
		return "has"
	case MsgTObjDelete:
		return "delete"
	case MsgTObjQuery:
		return "query"
	case MsgTObjChanges:
		return "changes"
	case MsgTDBInfo:
		return "info"
	case MsgTCustom:
		return "custom"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "insert":
		*t = MsgTObjInsert
	case "upsert":
		*t = MsgTObjUpsert
	case "get":
		*t = MsgTObjGet
	case "has":
		*t = MsgTObjHas
	case "delete":
		*t = MsgTObjDelete
	case "query":
		*t = MsgTObjQuery
	case "changes":
		*t = MsgTObjChanges
	case "info":
		*t = MsgTDBInfo
	case "custom":
		*t = MsgTCustom
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// MsgTUnknown is the zero value and never sent on purpose
	MsgTUnknown MessageType = iota

	// Generic responses
	MsgTSuccess
	MsgTError

	// Object operations
	MsgTObjInsert
	MsgTObjUpsert
	MsgTObjGet
	MsgTObjHas
	MsgTObjDelete
	MsgTObjQuery
	MsgTObjChanges

	// Database operations
	MsgTDBInfo

	// MsgTCustom is reserved for application-defined adapters
	MsgTCustom
)
