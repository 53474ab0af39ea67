/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rpc

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/firefly-oss/kvraftd/internal/logging"
	"github.com/firefly-oss/kvraftd/internal/raft"
)

// RaftHandler is the subset of raft.Node a Server dispatches inbound
// consensus RPCs to.
type RaftHandler interface {
	HandleRequestVote(args raft.RequestVoteArgs) raft.RequestVoteReply
	HandleAppendEntries(args raft.AppendEntriesArgs) raft.AppendEntriesReply
}

// ClientHandler is the node-level glue a Server dispatches inbound
// client requests to; implemented by internal/node's Node, which knows
// how to submit a command to raft and block
// until it commits.
type ClientHandler interface {
	Get(req ClientGetRequest) ClientGetReply
	Mutate(req ClientMutateRequest) ClientMutateReply
	List(req ClientListRequest) ClientListReply
}

// Server accepts inbound TCP connections and dispatches each frame to
// either the raft handler or the client handler, writing a matching
// reply frame (same correlation id) for every request frame received.
type Server struct {
	listener net.Listener
	raft     RaftHandler
	client   ClientHandler
	log      *logging.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closing  bool
}

// NewServer wraps an already-bound listener.
func NewServer(listener net.Listener, raftHandler RaftHandler, clientHandler ClientHandler) *Server {
	return &Server{
		listener: listener,
		raft:     raftHandler,
		client:   clientHandler,
		log:      logging.NewLogger("rpc-server"),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and closes all open ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		frame, err := ReadFrame(reader)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("connection read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		reply, err := s.dispatch(frame)
		if err != nil {
			s.log.Warn("dispatch failed", "type", frame.Type, "error", err)
			return
		}

		if err := WriteFrame(conn, reply); err != nil {
			s.log.Debug("connection write failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

func (s *Server) dispatch(frame Frame) (Frame, error) {
	switch frame.Type {
	case MsgRequestVoteRequest:
		args, err := DecodeRequestVoteArgs(frame.Payload)
		if err != nil {
			return Frame{}, err
		}
		reply := s.raft.HandleRequestVote(args)
		return Frame{Type: MsgRequestVoteReply, CorrelationID: frame.CorrelationID, Payload: EncodeRequestVoteReply(reply)}, nil

	case MsgAppendEntriesRequest:
		args, err := DecodeAppendEntriesArgs(frame.Payload)
		if err != nil {
			return Frame{}, err
		}
		reply := s.raft.HandleAppendEntries(args)
		return Frame{Type: MsgAppendEntriesReply, CorrelationID: frame.CorrelationID, Payload: EncodeAppendEntriesReply(reply)}, nil

	case MsgClientRequest:
		req, err := DecodeClientRequest(frame.Payload)
		if err != nil {
			return Frame{}, err
		}
		resp, err := s.dispatchClient(req)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: MsgClientResponse, CorrelationID: frame.CorrelationID, Payload: EncodeClientResponse(resp)}, nil

	default:
		return Frame{}, errUnknownMessageType(frame.Type)
	}
}

// dispatchClient routes a decoded ClientRequest to the node-level handler
// by Op and assembles the single ClientResponse the spec's wire format
// allows: a status byte followed by a body that only StatusOk populates.
func (s *Server) dispatchClient(req ClientRequest) (ClientResponse, error) {
	switch req.Op {
	case OpGet:
		key, err := DecodeKeyRequestData(req.Data)
		if err != nil {
			return ClientResponse{}, err
		}
		reply := s.client.Get(ClientGetRequest{Key: key})
		if reply.Status != StatusOk {
			return ClientResponse{Status: reply.Status}, nil
		}
		return ClientResponse{Status: StatusOk, Data: EncodeGetResponseData(reply.Value, reply.Version)}, nil

	case OpSet, OpDelete, OpCas:
		reply := s.client.Mutate(ClientMutateRequest{Op: req.Op, Data: req.Data})
		if reply.Status != StatusOk {
			return ClientResponse{Status: reply.Status}, nil
		}
		switch req.Op {
		case OpSet:
			return ClientResponse{Status: StatusOk, Data: EncodeSetResponseData(reply.Version)}, nil
		case OpDelete:
			return ClientResponse{Status: StatusOk, Data: EncodeDeleteResponseData(reply.Deleted)}, nil
		default: // OpCas
			return ClientResponse{Status: StatusOk, Data: EncodeCasResponseData(reply.Version)}, nil
		}

	case OpList:
		prefix, limit, err := DecodeListRequestData(req.Data)
		if err != nil {
			return ClientResponse{}, err
		}
		reply := s.client.List(ClientListRequest{Prefix: prefix, Limit: limit})
		if reply.Status != StatusOk {
			return ClientResponse{Status: reply.Status}, nil
		}
		return ClientResponse{Status: StatusOk, Data: EncodeListResponseData(reply.Keys)}, nil

	default:
		return ClientResponse{Status: StatusInternalError}, nil
	}
}
