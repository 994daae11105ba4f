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

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"conhub/platform/connectors/base"
	"conhub/platform/connectors/router"
	"conhub/platform/shared/logger"
)

// maxLineBytes bounds one stdio envelope
const maxLineBytes = 10 << 20

// StdioServer reads one JSON envelope per line and writes one response per
// line. Requests are dispatched concurrently, so responses may be written
// out of order; callers correlate by id.
type StdioServer struct {
	router    *router.Router
	principal string
	logger    *logger.Logger
}

// NewStdioServer creates a stdio transport acting for principal
func NewStdioServer(rt *router.Router, principal string) *StdioServer {
	if principal == "" {
		principal = base.DefaultPrincipal
	}
	return &StdioServer{router: rt, principal: principal, logger: logger.New("stdio")}
}

// SetLogger replaces the transport logger. It must not write to the
// response stream.
func (s *StdioServer) SetLogger(l *logger.Logger) {
	s.logger = l
}

// Serve runs until in is exhausted or ctx is done, then waits for in-flight
// requests to be answered
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	enc := json.NewEncoder(out)
	write := func(resp *router.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			s.logger.Error(s.principal, "", "failed to write response", map[string]interface{}{"error": err.Error()})
		}
	}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}

			req, decodeErr := router.DecodeRequest(line)
			if decodeErr != nil {
				s.logger.ErrorWithCode(s.principal, "", "rejected envelope", decodeErr.Code, decodeErr, nil)
				write(router.RejectRequest(req, decodeErr))
				continue
			}
			req.Principal = s.principal
			req.RequestID = uuid.NewString()

			wg.Add(1)
			go func() {
				defer wg.Done()
				write(s.router.Dispatch(ctx, req))
			}()
		}
	}
}
