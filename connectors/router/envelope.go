// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"encoding/json"
)

// Request is one Protocol Envelope call. Method is either
// "<connectorId>.<operation>" or a router-level method such as "list".
type Request struct {
	JSONRPC string                 `json:"jsonrpc,omitempty"`
	ID      json.RawMessage        `json:"id,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`

	// Principal and RequestID are transport metadata, never read from the body.
	Principal string `json:"-"`
	RequestID string `json:"-"`
}

// Response carries exactly one of Result or Error. ID echoes the request id
// verbatim and is null when the request had none.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the envelope error body. Code is stable and safe to match on;
// Data holds diagnostics only.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// DecodeRequest parses one envelope. Malformed input yields an INVALID_REQUEST
// error together with a Request carrying whatever id could still be read,
// so the error can echo it; the id is nil when the input is not an object.
func DecodeRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		var partial struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(data, &partial) != nil {
			partial.ID = nil
		}
		return &Request{ID: partial.ID}, &Error{Code: CodeInvalidRequest, Message: "malformed request envelope", Data: err.Error()}
	}
	return &req, nil
}

// RejectRequest answers a request DecodeRequest refused
func RejectRequest(req *Request, decodeErr *Error) *Response {
	resp := &Response{Error: decodeErr}
	if req != nil {
		resp.ID = req.ID
	}
	return resp
}

// ErrorResponse builds an error envelope for id
func ErrorResponse(id json.RawMessage, code, message string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: message}}
}
