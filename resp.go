package main

import (
	"context"
	"errors"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/redcon"

	"github.com/Ratio1/r1-hashfield/hashfield"
)

// respServer exposes the hash commands over the Redis protocol so stock
// Redis clients can drive the layer.
type respServer struct {
	ctx   context.Context
	layer *hashfield.Layer
	log   zerolog.Logger
}

func (s *respServer) serve(ln net.Listener) error {
	err := redcon.Serve(ln, s.handle,
		func(conn redcon.Conn) bool {
			s.log.Debug().Str("remote", conn.RemoteAddr()).Msg("resp accept")
			return true
		},
		func(conn redcon.Conn, err error) {
			s.log.Debug().Str("remote", conn.RemoteAddr()).Err(err).Msg("resp closed")
		},
	)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *respServer) handle(conn redcon.Conn, cmd redcon.Command) {
	name := strings.ToLower(string(cmd.Args[0]))
	args := cmd.Args[1:]
	ctx := s.ctx

	switch name {
	case "ping":
		if len(args) > 0 {
			conn.WriteBulk(args[0])
			return
		}
		conn.WriteString("PONG")
	case "quit":
		conn.WriteString("OK")
		conn.Close()
	case "client":
		conn.WriteString("OK")
	case "hset":
		if len(args) < 3 || len(args)%2 != 1 {
			wrongArgs(conn, name)
			return
		}
		s.hset(ctx, conn, string(args[0]), args[1:])
	case "hsetnx":
		if len(args) != 3 {
			wrongArgs(conn, name)
			return
		}
		_, err := s.layer.HSetNX(ctx, string(args[0]), string(args[1]), hashfield.String(string(args[2])))
		switch {
		case errors.Is(err, hashfield.ErrFieldExists):
			conn.WriteInt(0)
		case err != nil:
			writeRESPError(conn, err)
		default:
			conn.WriteInt(1)
		}
	case "hmset":
		if len(args) < 3 || len(args)%2 != 1 {
			wrongArgs(conn, name)
			return
		}
		pairs := make([]hashfield.FieldValue, 0, len(args)/2)
		for i := 1; i < len(args); i += 2 {
			pairs = append(pairs, hashfield.FieldValue{Field: string(args[i]), Value: hashfield.String(string(args[i+1]))})
		}
		if _, err := s.layer.HMSet(ctx, string(args[0]), pairs); err != nil {
			writeRESPError(conn, err)
			return
		}
		conn.WriteString("OK")
	case "hget":
		if len(args) != 2 {
			wrongArgs(conn, name)
			return
		}
		v, err := s.layer.HGet(ctx, string(args[0]), string(args[1]))
		switch {
		case errors.Is(err, hashfield.ErrNoSuchKey), errors.Is(err, hashfield.ErrNoSuchField):
			conn.WriteNull()
		case err != nil:
			writeRESPError(conn, err)
		default:
			conn.WriteBulkString(v.String())
		}
	case "hmget":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		fields := make([]string, len(args)-1)
		for i, f := range args[1:] {
			fields[i] = string(f)
		}
		values, err := s.layer.HMGet(ctx, string(args[0]), fields)
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		conn.WriteArray(len(values))
		for _, v := range values {
			conn.WriteBulkString(v.String())
		}
	case "hgetall":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		h, err := s.layer.HGetAll(ctx, string(args[0]))
		if errors.Is(err, hashfield.ErrNoSuchKey) {
			conn.WriteArray(0)
			return
		}
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		fields := h.Fields()
		conn.WriteArray(len(fields) * 2)
		for _, f := range fields {
			conn.WriteBulkString(f)
			conn.WriteBulkString(h[f].String())
		}
	case "hkeys":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		keys, err := s.layer.HKeys(ctx, string(args[0]))
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		conn.WriteArray(len(keys))
		for _, k := range keys {
			conn.WriteBulkString(k)
		}
	case "hlen":
		if len(args) != 1 {
			wrongArgs(conn, name)
			return
		}
		n, err := s.layer.HLen(ctx, string(args[0]))
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		conn.WriteInt(n)
	case "hexists":
		if len(args) != 2 {
			wrongArgs(conn, name)
			return
		}
		ok, err := s.layer.HExists(ctx, string(args[0]), string(args[1]))
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		if ok {
			conn.WriteInt(1)
		} else {
			conn.WriteInt(0)
		}
	case "hdel":
		if len(args) < 2 {
			wrongArgs(conn, name)
			return
		}
		removed := 0
		for _, f := range args[1:] {
			_, err := s.layer.HDel(ctx, string(args[0]), string(f))
			switch {
			case errors.Is(err, hashfield.ErrNoSuchKey), errors.Is(err, hashfield.ErrNoSuchField):
			case err != nil:
				writeRESPError(conn, err)
				return
			default:
				removed++
			}
		}
		conn.WriteInt(removed)
	case "hincrby", "hdecrby":
		if len(args) != 3 {
			wrongArgs(conn, name)
			return
		}
		delta, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			conn.WriteError("ERR value is not an integer or out of range")
			return
		}
		op := s.layer.HIncrBy
		if name == "hdecrby" {
			op = s.layer.HDecrBy
		}
		n, err := op(ctx, string(args[0]), string(args[1]), float64(delta))
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		writeNumber(conn, n)
	case "hincr", "hdecr":
		if len(args) != 2 {
			wrongArgs(conn, name)
			return
		}
		op := s.layer.HIncr
		if name == "hdecr" {
			op = s.layer.HDecr
		}
		n, err := op(ctx, string(args[0]), string(args[1]))
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		writeNumber(conn, n)
	case "hincrbyfloat", "hdecrbyfloat":
		if len(args) != 3 {
			wrongArgs(conn, name)
			return
		}
		delta, err := strconv.ParseFloat(string(args[2]), 64)
		if err != nil {
			conn.WriteError("ERR value is not a valid float")
			return
		}
		op := s.layer.HIncrByFloat
		if name == "hdecrbyfloat" {
			op = s.layer.HDecrByFloat
		}
		n, err := op(ctx, string(args[0]), string(args[1]), delta)
		if err != nil {
			writeRESPError(conn, err)
			return
		}
		conn.WriteBulkString(strconv.FormatFloat(n, 'f', -1, 64))
	default:
		conn.WriteError("ERR unknown command '" + string(cmd.Args[0]) + "'")
	}
}

// hset reports how many of the given fields were new, as Redis does.
func (s *respServer) hset(ctx context.Context, conn redcon.Conn, key string, pairs [][]byte) {
	fields := make([]hashfield.FieldValue, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		fields = append(fields, hashfield.FieldValue{Field: string(pairs[i]), Value: hashfield.String(string(pairs[i+1]))})
	}
	added, err := s.layer.HSetFields(ctx, key, fields)
	if err != nil {
		writeRESPError(conn, err)
		return
	}
	conn.WriteInt(added)
}

// writeNumber replies with an integer when n is one that fits in int64 and
// with its decimal text otherwise, so a fractional result is never cut.
func writeNumber(conn redcon.Conn, n float64) {
	if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
		conn.WriteInt64(int64(n))
		return
	}
	conn.WriteBulkString(strconv.FormatFloat(n, 'f', -1, 64))
}

func wrongArgs(conn redcon.Conn, name string) {
	conn.WriteError("ERR wrong number of arguments for '" + name + "' command")
}

func writeRESPError(conn redcon.Conn, err error) {
	if errors.Is(err, hashfield.ErrWrongType) {
		conn.WriteError("WRONGTYPE Operation against a key holding the wrong kind of value")
		return
	}
	conn.WriteError("ERR " + err.Error())
}
