package client

import (
	"fmt"

	"github.com/aspendb/aspen/rpc/common"
	"github.com/aspendb/aspen/rpc/serializer"
	"github.com/aspendb/aspen/rpc/transport"
)

var (
	Logger = common.CreateLogger("rpc")
)

// invokeRPCRequest is the helper used for all RPC client calls.
// It serializes the request, sends it over the transport and deserializes
// the response. It also checks that the response is not an error response
// and that its type matches the request.
func invokeRPCRequest(dbID uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.Send(dbID, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("RPC ObjectClient - Error: %s", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("RPC ObjectClient - Error: %s", resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC ObjectClient - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
