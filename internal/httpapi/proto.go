package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/PRsofteng/start-control-access/internal/portunus/types"
)

// Reader payloads on the wire, for readers that post protobuf instead of
// JSON:
//
//	message AccessRequest {
//	  uint64 tag_uid         = 1;
//	  int64  presented_at_ms = 2;
//	  string event_id        = 3;
//	}
//
//	message AccessResponse {
//	  Status status         = 1; // 1 allowed, 2 denied, 3 door_busy
//	  bool   allowed        = 2;
//	  bool   door_opened    = 3;
//	  string reason         = 4;
//	  string event_id       = 5;
//	  int64  server_time_ms = 6;
//	  string person_id      = 7;
//	}

const contentTypeProtobuf = "application/x-protobuf"

var errBadProto = errors.New("malformed protobuf body")

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";")
	ct = strings.TrimSpace(ct)
	return ct == contentTypeProtobuf ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

func readProtoAccessRequest(r *http.Request) (types.AccessRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return types.AccessRequest{}, err
	}
	return decodeAccessRequest(body)
}

func decodeAccessRequest(b []byte) (types.AccessRequest, error) {
	var req types.AccessRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return req, fmt.Errorf("%w: %v", errBadProto, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, fmt.Errorf("%w: tag_uid", errBadProto)
			}
			req.TagUID = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return req, fmt.Errorf("%w: presented_at_ms", errBadProto)
			}
			if v > 0 {
				req.PresentedAt = time.UnixMilli(int64(v)).UTC().Format(time.RFC3339Nano)
			}
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return req, fmt.Errorf("%w: event_id", errBadProto)
			}
			req.EventID = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return req, fmt.Errorf("%w: field %d", errBadProto, num)
			}
			b = b[n:]
		}
	}
	return req, nil
}

func protoStatus(s types.ResultStatus) uint64 {
	switch s {
	case types.StatusAllowed:
		return 1
	case types.StatusDenied:
		return 2
	case types.StatusDoorBusy:
		return 3
	default:
		return 0
	}
}

func encodeAccessResponse(resp types.AccessResponse) []byte {
	var b []byte
	if st := protoStatus(resp.Status); st != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, st)
	}
	if resp.Allowed {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if resp.DoorOpened {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if resp.Reason != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, resp.Reason)
	}
	if resp.EventID != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, resp.EventID)
	}
	if t, err := time.Parse(time.RFC3339Nano, resp.ServerTime); err == nil {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.UnixMilli()))
	}
	if resp.PersonID != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, resp.PersonID)
	}
	return b
}

// writeProtoAccessResponse writes resp as a protobuf body with the given
// HTTP status.
func writeProtoAccessResponse(w http.ResponseWriter, status int, resp types.AccessResponse) {
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(encodeAccessResponse(resp))
}
